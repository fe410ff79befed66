package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewExtractError(t *testing.T) {
	err := NewExtractError(ErrorTypeNetwork, SeverityHigh, "TEST_ERROR", "测试错误")

	assert.NotNil(t, err)
	assert.Equal(t, ErrorTypeNetwork, err.Type)
	assert.Equal(t, SeverityHigh, err.Severity)
	assert.Equal(t, "TEST_ERROR", err.Code)
	assert.Equal(t, "测试错误", err.Message)
	assert.True(t, err.Retryable) // 网络错误默认可重试
	assert.False(t, err.Timestamp.IsZero())
}

func TestWrapError(t *testing.T) {
	originalErr := errors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeFileIO, SeverityMedium, "WRAPPED_ERROR", "包装错误")

	assert.NotNil(t, wrappedErr)
	assert.Equal(t, ErrorTypeFileIO, wrappedErr.Type)
	assert.Equal(t, originalErr, wrappedErr.Cause)
	assert.Contains(t, wrappedErr.Error(), "原始错误")
	assert.Equal(t, originalErr, wrappedErr.Unwrap())
}

func TestExtractError_Error(t *testing.T) {
	// 没有原因的错误
	err := NewExtractError(ErrorTypeSerialization, SeverityLow, "TEST_CODE", "测试消息")
	assert.Equal(t, "[TEST_CODE] 测试消息", err.Error())

	// 有原因的错误
	originalErr := errors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeSerialization, SeverityLow, "TEST_CODE", "测试消息")
	assert.Equal(t, "[TEST_CODE] 测试消息: 原始错误", wrappedErr.Error())
}

func TestExtractError_IsRetryable(t *testing.T) {
	retryableErr := NewExtractError(ErrorTypeNetwork, SeverityMedium, "NETWORK_ERROR", "网络错误")
	assert.True(t, retryableErr.IsRetryable())

	nonRetryableErr := NewExtractError(ErrorTypeConfig, SeverityCritical, "CONFIG_ERROR", "配置错误")
	assert.False(t, nonRetryableErr.IsRetryable())
}

func TestExtractError_WithBlockNumber(t *testing.T) {
	err := NewExtractError(ErrorTypeNetwork, SeverityMedium, "BLOCK_ERROR", "区块错误")
	err.WithBlockNumber(1000000)

	assert.NotNil(t, err.BlockNumber)
	assert.Equal(t, uint64(1000000), *err.BlockNumber)
}

func TestDetermineRetryable(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		expected  bool
	}{
		{ErrorTypeNetwork, true},
		{ErrorTypeTimeout, true},
		{ErrorTypeRateLimit, true},
		{ErrorTypeStore, true},
		{ErrorTypeKafka, true},
		{ErrorTypeBlockNotFound, false},
		{ErrorTypeDecompilation, false},
		{ErrorTypeConfig, false},
		{ErrorTypeFileIO, false},
	}

	for _, tt := range tests {
		result := determineRetryable(tt.errorType)
		assert.Equal(t, tt.expected, result, "errorType=%v", tt.errorType)
	}
}

func TestErrorType_String(t *testing.T) {
	assert.Equal(t, "Network", ErrorTypeNetwork.String())
	assert.Equal(t, "Decompilation", ErrorTypeDecompilation.String())
	assert.Equal(t, "Store", ErrorTypeStore.String())
	assert.Equal(t, "Unknown(999)", ErrorType(999).String())
}

func TestErrorSeverity_String(t *testing.T) {
	assert.Equal(t, "Low", SeverityLow.String())
	assert.Equal(t, "Critical", SeverityCritical.String())
	assert.Equal(t, "Unknown(999)", ErrorSeverity(999).String())
}

func TestPredefinedErrors(t *testing.T) {
	assert.Equal(t, ErrorTypeBlockNotFound, ErrBlockNotFound.Type)
	assert.Equal(t, "BLOCK_NOT_FOUND", ErrBlockNotFound.Code)
	assert.False(t, ErrBlockNotFound.Retryable)

	assert.Equal(t, ErrorTypeDecompilation, ErrDecompileTimeout.Type)
	assert.Equal(t, ErrorTypeDecompilation, ErrDecompileNoABI.Type)
	assert.Equal(t, ErrorTypeDecompilation, ErrDecompileBadABI.Type)

	assert.True(t, ErrNetworkFailure.Retryable)
}

func TestIsBlockNotFound(t *testing.T) {
	assert.True(t, IsBlockNotFound(ErrBlockNotFound))

	wrapped := WrapError(ErrBlockNotFound, ErrorTypeBlockNotFound, SeverityLow,
		"BLOCK_NOT_FOUND", "区块123不存在")
	assert.True(t, IsBlockNotFound(wrapped))

	assert.False(t, IsBlockNotFound(errors.New("别的错误")))
	assert.False(t, IsBlockNotFound(ErrNetworkFailure))
}

func TestIsDecompilation(t *testing.T) {
	assert.True(t, IsDecompilation(ErrDecompileTimeout))
	assert.False(t, IsDecompilation(ErrBlockNotFound))
}

func TestErrorStats_RecordError(t *testing.T) {
	stats := NewErrorStats()

	err1 := NewExtractError(ErrorTypeNetwork, SeverityMedium, "NET_ERROR", "网络错误")
	err1.Component = "fetcher"
	err2 := NewExtractError(ErrorTypeStore, SeverityHigh, "STORE_ERROR", "存储错误")
	err2.Component = "fetcher"
	err3 := NewExtractError(ErrorTypeNetwork, SeverityLow, "NET_TIMEOUT", "网络超时")
	err3.Component = "stream"

	stats.RecordError(err1)
	stats.RecordError(err2)
	stats.RecordError(err3)

	assert.Equal(t, 3, stats.TotalErrors)
	assert.Equal(t, 2, stats.ErrorsByType[ErrorTypeNetwork])
	assert.Equal(t, 1, stats.ErrorsByType[ErrorTypeStore])
	assert.Equal(t, 2, stats.ErrorsByComponent["fetcher"])
	assert.Equal(t, err3, stats.LastError)
}

func TestErrorStats_RecentErrorsLimit(t *testing.T) {
	stats := NewErrorStats()

	for i := 0; i < 150; i++ {
		stats.RecordError(NewExtractError(ErrorTypeNetwork, SeverityLow, "TEST_ERROR", "测试错误"))
	}

	assert.Equal(t, 150, stats.TotalErrors)
	assert.Equal(t, 100, len(stats.RecentErrors))
}

func TestErrorStats_GetErrorRate(t *testing.T) {
	stats := NewErrorStats()

	now := time.Now()
	for i := 0; i < 10; i++ {
		err := NewExtractError(ErrorTypeNetwork, SeverityLow, "TEST_ERROR", "测试错误")
		err.Timestamp = now.Add(-time.Duration(i*5) * time.Minute)
		stats.RecentErrors = append(stats.RecentErrors, err)
	}

	assert.Equal(t, 10.0, stats.GetErrorRate(time.Hour))
	assert.Equal(t, 0.0, stats.GetErrorRate(0))
}
