package stream

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"excavator/internal/decompiler"
	"excavator/internal/deriver"
	exterrors "excavator/internal/errors"
	"excavator/internal/fetcher"
	"excavator/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChain 高度大于head的区块不存在
type fakeChain struct {
	mu     sync.Mutex
	head   uint64
	traces map[uint64][]*models.Trace
}

func (f *fakeChain) setHead(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = n
}

func (f *fakeChain) BlockWithTxs(_ context.Context, number uint64) (*types.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if number > f.head {
		return nil, exterrors.NewExtractError(exterrors.ErrorTypeBlockNotFound,
			exterrors.SeverityLow, "BLOCK_NOT_FOUND", "区块不存在")
	}
	header := &types.Header{Number: new(big.Int).SetUint64(number)}
	return types.NewBlockWithHeader(header), nil
}

func (f *fakeChain) Logs(_ context.Context, _ uint64, _ bool) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeChain) Traces(_ context.Context, number uint64) ([]*models.Trace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.traces[number], nil
}

func (f *fakeChain) HeadNumber(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

type fakeSub struct {
	errCh chan error
}

func (s *fakeSub) Unsubscribe()      {}
func (s *fakeSub) Err() <-chan error { return s.errCh }

type fakeHeads struct {
	*fakeChain
	mu      sync.Mutex
	headers chan<- *types.Header
}

func (f *fakeHeads) SubscribeNewHead(_ context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers = ch
	return &fakeSub{errCh: make(chan error)}, nil
}

func (f *fakeHeads) push(number uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers <- &types.Header{Number: new(big.Int).SetUint64(number)}
}

// fakeStore 内存存储
type fakeStore struct {
	mu              sync.Mutex
	blocks          map[uint64]*models.Block
	deployments     map[uint64][]*models.ContractDeployment
	destructions    map[uint64][]*models.ContractDestruction
	skeletons       map[string]int64
	skeletonInserts int
	transfersErr    error
	transfers       map[uint64][]*models.TokenTransfer
	last            uint64
	hasLast         bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		blocks:       make(map[uint64]*models.Block),
		deployments:  make(map[uint64][]*models.ContractDeployment),
		destructions: make(map[uint64][]*models.ContractDestruction),
		skeletons:    make(map[string]int64),
		transfers:    make(map[uint64][]*models.TokenTransfer),
	}
}

func (s *fakeStore) LastBlockNumber(_ context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast, nil
}

func (s *fakeStore) UpsertBlock(_ context.Context, block *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[block.Number] = block
	return nil
}

func (s *fakeStore) ReplaceTransactions(_ context.Context, _ uint64, _ []*models.Transaction) error {
	return nil
}

func (s *fakeStore) ReplaceTransfers(_ context.Context, number uint64, transfers []*models.TokenTransfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transfersErr != nil {
		return s.transfersErr
	}
	s.transfers[number] = transfers
	return nil
}

func (s *fakeStore) ReplaceLogs(_ context.Context, _ uint64, _ []*models.Log) error {
	return nil
}

func (s *fakeStore) ReplaceDeployments(_ context.Context, number uint64, deployments []*models.ContractDeployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployments[number] = deployments
	return nil
}

func (s *fakeStore) ReplaceDestructions(_ context.Context, number uint64, destructions []*models.ContractDestruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destructions[number] = destructions
	return nil
}

func (s *fakeStore) SkeletonIDByBytecode(_ context.Context, bytecode string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.skeletons[bytecode]
	return id, ok, nil
}

func (s *fakeStore) InsertSkeleton(_ context.Context, skeleton *models.Skeleton) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skeletonInserts++
	id := int64(len(s.skeletons) + 1)
	s.skeletons[skeleton.Bytecode] = id
	return id, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) blockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

func newTestFollower(opts Options, chain *fakeChain, st *fakeStore) *Follower {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return New(opts,
		fetcher.New(chain),
		deriver.New(nil, "", logger),
		decompiler.New(100*time.Millisecond, logger),
		st,
		&fakeHeads{fakeChain: chain},
		nil,
		exterrors.NewErrorStats(),
		logger)
}

func TestSyncToLiveCatchesUp(t *testing.T) {
	chain := &fakeChain{head: 103}
	st := newFakeStore()
	st.last, st.hasLast = 100, true

	f := newTestFollower(Options{NumJobs: 2}, chain, st)
	require.NoError(t, f.syncToLive(context.Background()))

	// 从101追到103
	assert.Equal(t, 3, st.blockCount())
	for _, n := range []uint64{101, 102, 103} {
		assert.Contains(t, st.blocks, n)
	}
}

func TestSyncToLiveEmptyStoreStartsAtHead(t *testing.T) {
	chain := &fakeChain{head: 50}
	st := newFakeStore()

	f := newTestFollower(Options{NumJobs: 1}, chain, st)
	require.NoError(t, f.syncToLive(context.Background()))

	assert.Contains(t, st.blocks, uint64(50))
	assert.NotContains(t, st.blocks, uint64(49))
}

func TestProcessBlockStoresDeploymentAndSkeleton(t *testing.T) {
	trace := &models.Trace{
		Type:        models.TraceTypeCreate,
		BlockNumber: 10,
		Action:      models.TraceAction{From: "0xcreator"},
		Result:      &models.TraceResult{Address: "0xaaa", Code: "0x6001"},
	}
	chain := &fakeChain{head: 11, traces: map[uint64][]*models.Trace{
		10: {trace},
		11: {trace},
	}}
	st := newFakeStore()

	f := newTestFollower(Options{}, chain, st)
	require.NoError(t, f.processBlock(context.Background(), 10))
	require.NoError(t, f.processBlock(context.Background(), 11))

	assert.Len(t, st.deployments[10], 1)
	// 相同骨架只入库一次
	assert.Equal(t, 1, st.skeletonInserts)
}

func TestProcessBlockSkipsFailedSubResource(t *testing.T) {
	chain := &fakeChain{head: 10}
	st := newFakeStore()
	st.transfersErr = exterrors.Derive(exterrors.ErrStoreFailure, errors.New("连接中断"))

	f := newTestFollower(Options{IncludeTransfers: true}, chain, st)
	// 子资源失败不影响区块本身
	require.NoError(t, f.processBlock(context.Background(), 10))
	assert.Contains(t, st.blocks, uint64(10))

	// 跳过的子资源计入错误统计
	assert.Equal(t, 1, f.stats.ErrorsByType[exterrors.ErrorTypeStore])
}

func TestProcessBlockReportsMissing(t *testing.T) {
	chain := &fakeChain{head: 10}
	f := newTestFollower(Options{}, chain, newFakeStore())

	err := f.processBlock(context.Background(), 11)
	assert.True(t, exterrors.IsBlockNotFound(err))
}

func TestFollowHeadsProcessesNewBlocks(t *testing.T) {
	chain := &fakeChain{head: 10}
	st := newFakeStore()
	heads := &fakeHeads{fakeChain: chain}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	f := New(Options{}, fetcher.New(chain), deriver.New(nil, "", logger),
		decompiler.New(100*time.Millisecond, logger), st, heads, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.followHeads(ctx) }()

	// 等订阅建立后推一个新区块头
	require.Eventually(t, func() bool {
		heads.mu.Lock()
		defer heads.mu.Unlock()
		return heads.headers != nil
	}, time.Second, 10*time.Millisecond)

	chain.setHead(11)
	heads.push(11)

	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		_, ok := st.blocks[11]
		return ok
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
