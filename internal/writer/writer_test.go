package writer

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	exterrors "excavator/internal/errors"
	"excavator/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T, sizeLimitKB int) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	w, err := New(dir, sizeLimitKB, gzip.DefaultCompression, nil, nil, logger)
	require.NoError(t, err)
	return w, dir
}

// readSegment 解压一个分段文件并返回其中的记录
func readSegment(t *testing.T, path string) []json.RawMessage {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	decoder, err := gzip.NewReader(file)
	require.NoError(t, err)
	defer decoder.Close()

	var items []json.RawMessage
	require.NoError(t, json.NewDecoder(decoder).Decode(&items))
	return items
}

func countRecords(t *testing.T, dir string) int {
	t.Helper()
	segments, err := filepath.Glob(filepath.Join(dir, "*.json.gz"))
	require.NoError(t, err)

	total := 0
	for _, segment := range segments {
		total += len(readSegment(t, segment))
	}
	return total
}

func TestWriterFlushesOnThreshold(t *testing.T) {
	// 阈值为0：每条记录都触发刷盘
	w, dir := newTestWriter(t, 0)
	w.Start()

	for i := 0; i < 3; i++ {
		w.Write(CmdBlock{Block: &models.Block{Number: uint64(i)}})
	}
	w.Close()

	segments, err := filepath.Glob(filepath.Join(dir, "static/blocks/*.json.gz"))
	require.NoError(t, err)
	// 三次阈值刷盘加一次收尾刷盘
	assert.Len(t, segments, 4)
	assert.Equal(t, 3, countRecords(t, filepath.Join(dir, "static/blocks")))
}

func TestWriterFlushesAllBuffersOnClose(t *testing.T) {
	w, dir := newTestWriter(t, 8192)
	w.Start()

	w.Write(CmdBlock{Block: &models.Block{Number: 1}})
	w.Write(CmdTransaction{Transaction: &models.Transaction{BlockNumber: 1}})
	w.Close()

	// 每种类型都有收尾分段，包括一条数据都没收到的类型
	for _, sub := range outputDirs {
		segments, err := filepath.Glob(filepath.Join(dir, sub, "*.json.gz"))
		require.NoError(t, err)
		assert.Len(t, segments, 1, sub)
	}

	assert.Equal(t, 1, countRecords(t, filepath.Join(dir, "static/blocks")))
	assert.Equal(t, 1, countRecords(t, filepath.Join(dir, "dynamic/transactions")))
	assert.Equal(t, 0, countRecords(t, filepath.Join(dir, "dynamic/logs")))
}

func TestWriterNoRecordLost(t *testing.T) {
	w, dir := newTestWriter(t, 1)
	w.Start()

	const n = 500
	for i := 0; i < n; i++ {
		w.Write(CmdTransfer{Transfer: &models.TokenTransfer{BlockNumber: uint64(i)}})
	}
	w.Close()

	assert.Equal(t, n, countRecords(t, filepath.Join(dir, "dynamic/transfers")))
}

func TestWriterDeduplicatesABIEntries(t *testing.T) {
	w, dir := newTestWriter(t, 8192)
	w.Start()

	abi := &models.ContractABI{Nodes: []*models.ABIEntry{
		{Type: "function", Function: &models.FunctionABI{
			Name:   "transfer",
			Inputs: []models.ABIToken{{InternalType: "address"}, {InternalType: "uint256"}},
		}},
		{Type: "event", Event: &models.EventABI{
			Name:   "Transfer",
			Inputs: []models.ABIToken{{InternalType: "address"}, {InternalType: "address"}, {InternalType: "uint256"}},
		}},
	}}

	// 两个不同骨架携带同一套ABI条目
	first := models.NewSkeleton("0x6001")
	first.SetABI(abi)
	second := models.NewSkeleton("0x6002")
	second.SetABI(abi)

	w.Write(CmdSkeleton{Skeleton: first})
	w.Write(CmdSkeleton{Skeleton: second})
	w.Close()

	assert.Equal(t, 2, countRecords(t, filepath.Join(dir, "static/skeletons")))
	assert.Equal(t, 1, countRecords(t, filepath.Join(dir, "static/functions")))
	assert.Equal(t, 1, countRecords(t, filepath.Join(dir, "static/events")))
	assert.Equal(t, 0, countRecords(t, filepath.Join(dir, "static/errors")))
}

func TestWriterCountsAllFlushFailures(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	dir := t.TempDir()
	stats := exterrors.NewErrorStats()
	// 阈值为0：每条记录都触发一次后台刷盘
	w, err := New(dir, 0, gzip.DefaultCompression, nil, stats, logger)
	require.NoError(t, err)

	// 输出目录被移走后每次刷盘都失败，并发失败一个不少地计数
	require.NoError(t, os.RemoveAll(dir))
	w.Start()

	const n = 200
	for i := 0; i < n; i++ {
		w.Write(CmdTransfer{Transfer: &models.TokenTransfer{BlockNumber: uint64(i)}})
	}
	w.Close()

	// n次阈值刷盘加10个缓冲的收尾刷盘
	assert.Equal(t, n+len(outputDirs), w.FlushFailures())
	assert.Equal(t, n+len(outputDirs), stats.TotalErrors)
}

func TestWriterSegmentContent(t *testing.T) {
	w, dir := newTestWriter(t, 8192)
	w.Start()

	w.Write(CmdDestruction{Destruction: &models.ContractDestruction{
		ContractAddress: "0xdead",
		BlockNumber:     42,
	}})
	w.Close()

	items := readSegment(t, filepath.Join(dir, "static/destructions/destructions_0.json.gz"))
	require.Len(t, items, 1)

	var got models.ContractDestruction
	require.NoError(t, json.Unmarshal(items[0], &got))
	assert.Equal(t, "0xdead", got.ContractAddress)
	assert.Equal(t, uint64(42), got.BlockNumber)
}
