// Package validation 入库前的数据完整性检查
// 节点偶尔会吐出残缺的数据，落库前把明显坏掉的记录拦下来
package validation

import (
	"fmt"
	"regexp"

	exterrors "excavator/internal/errors"
	"excavator/pkg/models"

	"github.com/sirupsen/logrus"
)

var (
	hashPattern    = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// Validator 数据验证器
// strict为true时验证失败被视为错误，否则只记警告
type Validator struct {
	logger *logrus.Logger
	strict bool
}

// NewValidator 创建验证器
func NewValidator(logger *logrus.Logger, strict bool) *Validator {
	return &Validator{logger: logger, strict: strict}
}

// ValidateBlock 检查区块数据的基本完整性
func (v *Validator) ValidateBlock(block *models.Block) error {
	if block == nil {
		return v.fail("BLOCK_EMPTY", "区块为空")
	}
	if !IsValidHash(block.Hash) {
		return v.fail("INVALID_BLOCK_HASH", fmt.Sprintf("区块 %d 哈希格式无效: %q", block.Number, block.Hash))
	}
	if !IsValidHash(block.ParentHash) {
		return v.fail("INVALID_PARENT_HASH", fmt.Sprintf("区块 %d 父哈希格式无效", block.Number))
	}
	if block.Timestamp == 0 && block.Number != 0 {
		return v.fail("INVALID_TIMESTAMP", fmt.Sprintf("区块 %d 时间戳为零", block.Number))
	}
	if block.GasUsed > block.GasLimit {
		return v.fail("GAS_OVERFLOW", fmt.Sprintf("区块 %d gas用量超过上限", block.Number))
	}
	return nil
}

// ValidateTransaction 检查交易数据的基本完整性
func (v *Validator) ValidateTransaction(tx *models.Transaction) error {
	if tx == nil {
		return v.fail("TX_EMPTY", "交易为空")
	}
	if !IsValidHash(tx.Hash) {
		return v.fail("INVALID_TX_HASH", fmt.Sprintf("交易哈希格式无效: %q", tx.Hash))
	}
	if tx.From != "" && !IsValidAddress(tx.From) {
		return v.fail("INVALID_FROM", fmt.Sprintf("交易 %s 发送地址格式无效", tx.Hash))
	}
	if !IsValidAddress(tx.To) {
		return v.fail("INVALID_TO", fmt.Sprintf("交易 %s 接收地址格式无效", tx.Hash))
	}
	return nil
}

// ValidateTrace 检查跟踪记录的结构一致性
func (v *Validator) ValidateTrace(trace *models.Trace) error {
	if trace == nil {
		return v.fail("TRACE_EMPTY", "跟踪为空")
	}
	switch trace.Type {
	case models.TraceTypeCall, models.TraceTypeCreate, models.TraceTypeSuicide, models.TraceTypeReward:
	default:
		return v.fail("UNKNOWN_TRACE_TYPE", fmt.Sprintf("未知的跟踪类型: %q", trace.Type))
	}
	// 成功的create必须带结果
	if trace.IsCreate() && !trace.Failed() && trace.Result == nil {
		return v.fail("CREATE_WITHOUT_RESULT", fmt.Sprintf("区块 %d 的create跟踪缺少结果", trace.BlockNumber))
	}
	return nil
}

// fail 严格模式下返回错误，否则记警告后放行
func (v *Validator) fail(code, message string) error {
	if v.strict {
		return exterrors.NewExtractError(exterrors.ErrorTypeSerialization,
			exterrors.SeverityMedium, code, message)
	}
	v.logger.Warnf("数据校验: %s", message)
	return nil
}

// IsValidHash 判断是否为合法的32字节哈希
func IsValidHash(s string) bool {
	return hashPattern.MatchString(s)
}

// IsValidAddress 判断是否为合法的20字节地址
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}
