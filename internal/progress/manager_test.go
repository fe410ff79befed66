package progress

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openManager(t *testing.T, path string) *Manager {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	m, err := NewManager(path, logger)
	require.NoError(t, err)
	return m
}

func TestProgressSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")

	m := openManager(t, path)
	require.NoError(t, m.UpdateProgress(100))
	require.NoError(t, m.UpdateProgress(105))
	require.NoError(t, m.AddContracts(7))
	require.NoError(t, m.Close())

	m = openManager(t, path)
	defer m.Close()

	assert.Equal(t, uint64(105), m.LastProcessedBlock())
	assert.Equal(t, uint64(7), m.Snapshot().TotalContracts)
}

func TestProgressKeepsHighestBlock(t *testing.T) {
	m := openManager(t, filepath.Join(t.TempDir(), "progress.db"))
	defer m.Close()

	// 并发完成时低区块号晚到不回退进度
	require.NoError(t, m.UpdateProgress(200))
	require.NoError(t, m.UpdateProgress(150))

	assert.Equal(t, uint64(200), m.LastProcessedBlock())
	assert.Equal(t, uint64(2), m.Snapshot().TotalBlocks)
}

func TestProgressReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	m := openManager(t, path)
	require.NoError(t, m.UpdateProgress(42))
	require.NoError(t, m.AddContracts(3))
	require.NoError(t, m.Reset())

	// 重置后存储桶可以继续写入
	require.NoError(t, m.UpdateProgress(7))
	require.NoError(t, m.Close())

	m = openManager(t, path)
	defer m.Close()
	assert.Equal(t, uint64(7), m.LastProcessedBlock())
	assert.Equal(t, uint64(0), m.Snapshot().TotalContracts)
}
