package cache

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireFreshSkeleton(t *testing.T) {
	c := New()
	h := common.HexToHash("0x01")

	assert.Equal(t, DecisionDecompile, c.Acquire(h))

	n, ok := c.State(h)
	require.True(t, ok)
	assert.Equal(t, int32(1), n)
}

func TestAcquireAfterSuccess(t *testing.T) {
	c := New()
	h := common.HexToHash("0x01")

	require.Equal(t, DecisionDecompile, c.Acquire(h))
	c.MarkDecompiled(h)

	// 状态到0后永远跳过
	for i := 0; i < 5; i++ {
		assert.Equal(t, DecisionSkipDecompiled, c.Acquire(h))
	}
	n, _ := c.State(h)
	assert.Equal(t, int32(0), n)
}

func TestAcquireUntilAbandoned(t *testing.T) {
	c := New()
	h := common.HexToHash("0x02")

	// 第一次发现计数为1，之后每次失败重试递增
	require.Equal(t, DecisionDecompile, c.Acquire(h))
	for i := 0; i < MaxAttempts; i++ {
		assert.Equal(t, DecisionDecompile, c.Acquire(h))
	}

	// 计数超过上限后放弃
	n, _ := c.State(h)
	assert.Greater(t, n, int32(MaxAttempts))
	assert.Equal(t, DecisionSkipAbandoned, c.Acquire(h))
	assert.Equal(t, DecisionSkipAbandoned, c.Acquire(h))
}

func TestStateMonotonicAfterSuccess(t *testing.T) {
	c := New()
	h := common.HexToHash("0x03")

	require.Equal(t, DecisionDecompile, c.Acquire(h))
	require.Equal(t, DecisionDecompile, c.Acquire(h))
	c.MarkDecompiled(h)

	// 成功后Acquire不再把计数从0抬起来
	assert.Equal(t, DecisionSkipDecompiled, c.Acquire(h))
	n, _ := c.State(h)
	assert.Equal(t, int32(0), n)
}

func TestMarkStored(t *testing.T) {
	c := New()
	h := common.HexToHash("0x04")

	assert.True(t, c.MarkStored(h))
	assert.False(t, c.MarkStored(h))
}

func TestConcurrentAcquire(t *testing.T) {
	c := New()
	h := common.HexToHash("0x05")

	// 8个并发worker最多把计数推到8，不会意外触发放弃状态
	const workers = 8
	decisions := make([]Decision, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			d := c.Acquire(h)
			decisions[idx] = d
			if d == DecisionDecompile {
				// 模拟第一个成功的反编译
				c.MarkDecompiled(h)
			}
		}(i)
	}
	wg.Wait()

	// 最终状态必须是0且保持不变
	n, ok := c.State(h)
	require.True(t, ok)
	assert.Equal(t, int32(0), n)
	assert.Equal(t, DecisionSkipDecompiled, c.Acquire(h))

	// 没有worker会看到放弃状态
	for _, d := range decisions {
		assert.NotEqual(t, DecisionSkipAbandoned, d)
	}
}
