package validation

import (
	"strings"
	"testing"

	"excavator/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func strictValidator() *Validator {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewValidator(logger, true)
}

func lenientValidator() *Validator {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewValidator(logger, false)
}

func validBlock() *models.Block {
	return &models.Block{
		Number:     100,
		Hash:       "0x" + strings.Repeat("ab", 32),
		ParentHash: "0x" + strings.Repeat("cd", 32),
		Timestamp:  1700000000,
		GasLimit:   30000000,
		GasUsed:    12000000,
	}
}

func TestValidateBlock(t *testing.T) {
	v := strictValidator()

	assert.NoError(t, v.ValidateBlock(validBlock()))
	assert.Error(t, v.ValidateBlock(nil))

	bad := validBlock()
	bad.Hash = "0x1234"
	assert.Error(t, v.ValidateBlock(bad))

	bad = validBlock()
	bad.Timestamp = 0
	assert.Error(t, v.ValidateBlock(bad))

	bad = validBlock()
	bad.GasUsed = bad.GasLimit + 1
	assert.Error(t, v.ValidateBlock(bad))
}

func TestValidateBlockLenientMode(t *testing.T) {
	v := lenientValidator()

	bad := validBlock()
	bad.Hash = "not-a-hash"
	// 非严格模式只警告不拦截
	assert.NoError(t, v.ValidateBlock(bad))
}

func TestValidateTransaction(t *testing.T) {
	v := strictValidator()

	tx := &models.Transaction{
		Hash: "0x" + strings.Repeat("11", 32),
		From: "0x" + strings.Repeat("22", 20),
		To:   "0x" + strings.Repeat("33", 20),
	}
	assert.NoError(t, v.ValidateTransaction(tx))

	tx.To = "0xshort"
	assert.Error(t, v.ValidateTransaction(tx))
}

func TestValidateTrace(t *testing.T) {
	v := strictValidator()

	assert.NoError(t, v.ValidateTrace(&models.Trace{
		Type:   models.TraceTypeCreate,
		Result: &models.TraceResult{Address: "0x01"},
	}))

	// 失败的create允许没有结果
	assert.NoError(t, v.ValidateTrace(&models.Trace{
		Type:  models.TraceTypeCreate,
		Error: "Reverted",
	}))

	assert.Error(t, v.ValidateTrace(&models.Trace{Type: models.TraceTypeCreate}))
	assert.Error(t, v.ValidateTrace(&models.Trace{Type: "delegatecall"}))
}

func TestHashAndAddressFormats(t *testing.T) {
	assert.True(t, IsValidHash("0x"+strings.Repeat("0f", 32)))
	assert.False(t, IsValidHash("0x123"))
	assert.False(t, IsValidHash(strings.Repeat("0f", 32)))

	assert.True(t, IsValidAddress("0x"+strings.Repeat("0f", 20)))
	assert.False(t, IsValidAddress("0x"+strings.Repeat("0f", 32)))
}
