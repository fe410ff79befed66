// Package deriver 把原始链上数据派生成领域记录
// 部署和自毁来自调用跟踪，代币转账来自Transfer事件日志
package deriver

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"excavator/internal/bytecode"
	"excavator/internal/chain"
	"excavator/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// NameResolver 合约显示名解析
type NameResolver interface {
	ContractName(ctx context.Context, address common.Address) (string, error)
}

// Deriver 记录派生器
type Deriver struct {
	resolver NameResolver
	// 已验证源码库的根目录，空表示不做源码比对
	scsPath string
	logger  *logrus.Logger
}

// New 创建派生器
func New(resolver NameResolver, scsPath string, logger *logrus.Logger) *Deriver {
	return &Deriver{
		resolver: resolver,
		scsPath:  scsPath,
		logger:   logger,
	}
}

// DeploymentFromTrace 从create跟踪派生部署记录
// 不是create跟踪或缺少结果时返回nil
func (d *Deriver) DeploymentFromTrace(trace *models.Trace) *models.ContractDeployment {
	if !trace.IsCreate() || trace.Result == nil {
		return nil
	}

	deployment := &models.ContractDeployment{
		Failed:          trace.Failed(),
		ContractAddress: trace.Result.Address,
		Creator:         trace.Action.From,
		TxHash:          trace.TxHash,
		BlockNumber:     trace.BlockNumber,
		CreationCode:    trace.Action.Init,
		DeployedCode:    trace.Result.Code,
	}

	// 剥离CBOR元数据后缀得到骨架，识别失败时整段代码就是骨架
	raw, err := hexutil.Decode(trace.Result.Code)
	if err != nil {
		deployment.Skeleton = trace.Result.Code
		return deployment
	}

	runtime, metadata, ok := bytecode.SplitMetadata(raw)
	if !ok {
		deployment.Skeleton = trace.Result.Code
		return deployment
	}

	deployment.Skeleton = hexutil.Encode(bytecode.ExtractSkeleton(runtime))
	deployment.Metadata = bytecode.AnalyzeMetadata(metadata)
	return deployment
}

// DestructionFromTrace 从suicide跟踪派生自毁记录
func (d *Deriver) DestructionFromTrace(trace *models.Trace) *models.ContractDestruction {
	if !trace.IsSuicide() {
		return nil
	}

	return &models.ContractDestruction{
		Failed:          trace.Failed(),
		ContractAddress: trace.Action.Address,
		RefundAddress:   trace.Action.RefundAddress,
		Balance:         trace.Action.Balance,
		TxHash:          trace.TxHash,
		BlockNumber:     trace.BlockNumber,
	}
}

// TransferFromLog 把Transfer事件日志解码成代币转账
// 3个主题是ERC20（value在data里），4个主题是ERC721（tokenId是第4个主题），
// 其他形状的日志跳过
func TransferFromLog(log types.Log) (*models.TokenTransfer, bool) {
	if len(log.Topics) == 0 || log.Topics[0] != chain.TransferEventTopic {
		return nil, false
	}

	transfer := &models.TokenTransfer{
		Token:       log.Address.Hex(),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
	}

	switch len(log.Topics) {
	case 3:
		transfer.TokenType = models.TokenTypeERC20
		transfer.From = topicAddress(log.Topics[1])
		transfer.To = topicAddress(log.Topics[2])
		transfer.Value = new(big.Int).SetBytes(log.Data)
	case 4:
		transfer.TokenType = models.TokenTypeERC721
		transfer.From = topicAddress(log.Topics[1])
		transfer.To = topicAddress(log.Topics[2])
		transfer.Value = new(big.Int).SetBytes(log.Topics[3].Bytes())
	default:
		return nil, false
	}

	return transfer, true
}

// TransfersFromLogs 批量解码，不可解码的日志静默跳过
func TransfersFromLogs(logs []types.Log) []*models.TokenTransfer {
	var transfers []*models.TokenTransfer
	for _, log := range logs {
		if transfer, ok := TransferFromLog(log); ok {
			transfers = append(transfers, transfer)
		}
	}
	return transfers
}

// Enrich 给部署记录补充已验证源码和显示名，两者都是尽力而为
func (d *Deriver) Enrich(ctx context.Context, deployment *models.ContractDeployment) {
	if d.scsPath != "" {
		deployment.VerifiedSource = d.lookupVerifiedSource(deployment.ContractAddress)
	}
	deployment.Name = d.resolveName(ctx, deployment.ContractAddress)
}

// lookupVerifiedSource 在源码库里按地址查找已验证的合约源码
// 目录布局: <scsPath>/contracts/mainnet/<地址前2位>/<完整地址>*
// 地址大小写不敏感
func (d *Deriver) lookupVerifiedSource(address string) string {
	addr := strings.ToLower(strings.TrimPrefix(address, "0x"))
	if len(addr) < 2 {
		return ""
	}

	dir := filepath.Join(d.scsPath, "contracts", "mainnet", addr[:2])
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	for _, entry := range entries {
		if !strings.HasPrefix(strings.ToLower(entry.Name()), addr) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		return string(content)
	}
	return ""
}

// resolveName 调用合约的name()解析显示名，失败时返回空
func (d *Deriver) resolveName(ctx context.Context, address string) string {
	if d.resolver == nil || !common.IsHexAddress(address) {
		return ""
	}

	name, err := d.resolver.ContractName(ctx, common.HexToAddress(address))
	if err != nil {
		d.logger.Debugf("合约 %s 无法解析显示名: %v", address, err)
		return ""
	}
	return name
}

func topicAddress(topic common.Hash) string {
	return common.BytesToAddress(topic.Bytes()).Hex()
}
