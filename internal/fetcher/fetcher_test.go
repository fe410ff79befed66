package fetcher

import (
	"context"
	"math/big"
	"testing"

	exterrors "excavator/internal/errors"
	"excavator/internal/traces"
	"excavator/pkg/models"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	blockErr  error
	logsErr   error
	tracesErr error
	traces    []*models.Trace
	logsCalls int
}

func (f *fakeSource) BlockWithTxs(_ context.Context, number uint64) (*types.Block, error) {
	if f.blockErr != nil {
		return nil, f.blockErr
	}
	header := &types.Header{Number: new(big.Int).SetUint64(number)}
	return types.NewBlockWithHeader(header), nil
}

func (f *fakeSource) Logs(_ context.Context, _ uint64, _ bool) ([]types.Log, error) {
	f.logsCalls++
	return nil, f.logsErr
}

func (f *fakeSource) Traces(_ context.Context, _ uint64) ([]*models.Trace, error) {
	return f.traces, f.tracesErr
}

func TestFetchSuccess(t *testing.T) {
	source := &fakeSource{}
	f := New(source)

	bundle, err := f.Fetch(context.Background(), 100, LogProfileAll)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bundle.Number)
	assert.Equal(t, uint64(100), bundle.Block.NumberU64())
	assert.Equal(t, 1, source.logsCalls)
}

func TestFetchSkipsLogsWhenDisabled(t *testing.T) {
	source := &fakeSource{}
	f := New(source)

	_, err := f.Fetch(context.Background(), 100, LogProfileNone)
	require.NoError(t, err)
	assert.Equal(t, 0, source.logsCalls)
}

func TestFetchBlockNotFound(t *testing.T) {
	source := &fakeSource{
		blockErr: exterrors.NewExtractError(exterrors.ErrorTypeBlockNotFound,
			exterrors.SeverityLow, "BLOCK_NOT_FOUND", "区块不存在"),
	}
	f := New(source)

	_, err := f.Fetch(context.Background(), 100, LogProfileNone)
	assert.True(t, exterrors.IsBlockNotFound(err))
}

func TestFetchPartialFailureIsFatal(t *testing.T) {
	source := &fakeSource{
		tracesErr: exterrors.ErrNetworkFailure,
	}
	f := New(source)

	// 任意一路失败都拿不到bundle
	bundle, err := f.Fetch(context.Background(), 100, LogProfileAll)
	assert.Error(t, err)
	assert.Nil(t, bundle)
}

func TestFetchPropagatesTraceErrors(t *testing.T) {
	source := &fakeSource{
		traces: []*models.Trace{
			{TxHash: "0x01", TraceAddress: []int{3}, Error: "Reverted"},
			{TxHash: "0x01", TraceAddress: []int{3, 0}},
		},
	}
	f := New(source)

	bundle, err := f.Fetch(context.Background(), 100, LogProfileNone)
	require.NoError(t, err)
	assert.Equal(t, traces.ParentFailedError, bundle.Traces[1].Error)
}
