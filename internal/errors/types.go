package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 网络相关错误
	ErrorTypeNetwork ErrorType = iota
	ErrorTypeTimeout
	ErrorTypeRateLimit

	// 区块链相关错误
	ErrorTypeBlockNotFound

	// 反编译相关错误
	ErrorTypeDecompilation

	// 数据相关错误
	ErrorTypeSerialization

	// 外部存储错误
	ErrorTypeStore
	ErrorTypeKafka

	// 系统相关错误
	ErrorTypeFileIO
	ErrorTypeConfig
)

// String 错误类型的可读名称
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeNetwork:
		return "Network"
	case ErrorTypeTimeout:
		return "Timeout"
	case ErrorTypeRateLimit:
		return "RateLimit"
	case ErrorTypeBlockNotFound:
		return "BlockNotFound"
	case ErrorTypeDecompilation:
		return "Decompilation"
	case ErrorTypeSerialization:
		return "Serialization"
	case ErrorTypeStore:
		return "Store"
	case ErrorTypeKafka:
		return "Kafka"
	case ErrorTypeFileIO:
		return "FileIO"
	case ErrorTypeConfig:
		return "Config"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String 严重级别的可读名称
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityLow:
		return "Low"
	case SeverityMedium:
		return "Medium"
	case SeverityHigh:
		return "High"
	case SeverityCritical:
		return "Critical"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// ExtractError 提取管线的自定义错误类型
type ExtractError struct {
	Type        ErrorType     `json:"type"`
	Severity    ErrorSeverity `json:"severity"`
	Code        string        `json:"code"`
	Message     string        `json:"message"`
	Timestamp   time.Time     `json:"timestamp"`
	Cause       error         `json:"cause,omitempty"`
	Retryable   bool          `json:"retryable"`
	Component   string        `json:"component"`
	BlockNumber *uint64       `json:"block_number,omitempty"`
}

// Error 实现error接口
func (e *ExtractError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *ExtractError) Unwrap() error {
	return e.Cause
}

// IsRetryable 判断是否可重试
func (e *ExtractError) IsRetryable() bool {
	return e.Retryable
}

// WithBlockNumber 添加区块号
func (e *ExtractError) WithBlockNumber(blockNumber uint64) *ExtractError {
	e.BlockNumber = &blockNumber
	return e
}

// WithComponent 添加组件名
func (e *ExtractError) WithComponent(component string) *ExtractError {
	e.Component = component
	return e
}

// WithMessage 覆盖默认消息
func (e *ExtractError) WithMessage(message string) *ExtractError {
	e.Message = message
	return e
}

// NewExtractError 创建新的错误
func NewExtractError(errorType ErrorType, severity ErrorSeverity, code, message string) *ExtractError {
	return &ExtractError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *ExtractError {
	return &ExtractError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType),
	}
}

// Derive 从预定义错误派生一份带原因的新实例
// 预定义错误是共享的，调用方必须在派生出的副本上追加上下文
func Derive(base *ExtractError, cause error) *ExtractError {
	derived := *base
	derived.Timestamp = time.Now()
	derived.Cause = cause
	return &derived
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	case ErrorTypeStore, ErrorTypeKafka:
		return true
	default:
		return false
	}
}

// 预定义错误
var (
	// ErrBlockNotFound 区块不存在（批量模式下跳过，追块模式下表示追上了链头）
	ErrBlockNotFound = NewExtractError(ErrorTypeBlockNotFound, SeverityLow,
		"BLOCK_NOT_FOUND", "区块不存在")

	// ErrNetworkFailure 网络请求在重试耗尽后仍然失败
	ErrNetworkFailure = NewExtractError(ErrorTypeNetwork, SeverityMedium,
		"NETWORK_FAILURE", "网络请求失败")

	// ErrDecompileTimeout 反编译器超时被杀
	ErrDecompileTimeout = NewExtractError(ErrorTypeDecompilation, SeverityLow,
		"DECOMPILE_TIMEOUT", "反编译超时")

	// ErrDecompileNoABI 反编译器没有产出abi.json
	ErrDecompileNoABI = NewExtractError(ErrorTypeDecompilation, SeverityLow,
		"DECOMPILE_NO_ABI", "读取反编译ABI失败")

	// ErrDecompileBadABI abi.json无法解析
	ErrDecompileBadABI = NewExtractError(ErrorTypeDecompilation, SeverityLow,
		"DECOMPILE_BAD_ABI", "解析反编译ABI失败")

	// ErrStoreFailure 外部存储操作失败
	ErrStoreFailure = NewExtractError(ErrorTypeStore, SeverityMedium,
		"STORE_FAILURE", "存储操作失败")

	// ErrSerializationFailed 记录序列化失败
	ErrSerializationFailed = NewExtractError(ErrorTypeSerialization, SeverityHigh,
		"SERIALIZATION_FAILED", "序列化失败")
)

// IsBlockNotFound 判断错误链中是否含有区块不存在错误
func IsBlockNotFound(err error) bool {
	var ee *ExtractError
	if errors.As(err, &ee) {
		return ee.Type == ErrorTypeBlockNotFound
	}
	return false
}

// IsDecompilation 判断错误链中是否含有反编译错误
func IsDecompilation(err error) bool {
	var ee *ExtractError
	if errors.As(err, &ee) {
		return ee.Type == ErrorTypeDecompilation
	}
	return false
}
