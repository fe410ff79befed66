// Package cache 反编译尝试缓存
//
// 每个骨架指纹对应一个原子计数器，构成三态状态机：
//   - 0          已成功反编译，永不再试
//   - 1..=10     待反编译，值为历史尝试次数
//   - >10        放弃，永久跳过
//
// 计数器的读取和条件更新都是原子操作，昂贵的反编译调用
// 在不持有任何锁的情况下执行，并发发现同一骨架时最多产生
// 有限次数的冗余尝试，这是刻意的取舍
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// MaxAttempts 反编译尝试次数上限，超过后放弃该骨架
const MaxAttempts = 10

// Decision 查询缓存后的动作
type Decision int

const (
	// DecisionDecompile 需要执行反编译
	DecisionDecompile Decision = iota
	// DecisionSkipDecompiled 已成功反编译过，跳过
	DecisionSkipDecompiled
	// DecisionSkipAbandoned 失败次数过多，放弃
	DecisionSkipAbandoned
)

// DecompileCache 骨架指纹到反编译状态的并发缓存
type DecompileCache struct {
	entries sync.Map // common.Hash -> *atomic.Int32
}

// New 创建空缓存
func New() *DecompileCache {
	return &DecompileCache{}
}

// Acquire 查询并推进骨架的反编译状态，返回调用方应执行的动作
// 返回DecisionDecompile时调用方负责执行反编译，之后必须调用
// MarkDecompiled（成功）或什么都不做（失败，计数已在这里递增）
func (c *DecompileCache) Acquire(skeletonHash common.Hash) Decision {
	counter := atomic.Int32{}
	counter.Store(1)
	v, loaded := c.entries.LoadOrStore(skeletonHash, &counter)
	if !loaded {
		// 新发现的骨架，计数初始化为1并立即反编译
		return DecisionDecompile
	}

	entry := v.(*atomic.Int32)
	switch n := entry.Load(); {
	case n == 0:
		return DecisionSkipDecompiled
	case n <= MaxAttempts:
		// 仅当计数仍非零时递增，并发的成功反编译可能刚把它置0
		for {
			cur := entry.Load()
			if cur == 0 {
				return DecisionSkipDecompiled
			}
			if entry.CompareAndSwap(cur, cur+1) {
				return DecisionDecompile
			}
		}
	default:
		return DecisionSkipAbandoned
	}
}

// MarkDecompiled 反编译成功后把骨架状态置0
func (c *DecompileCache) MarkDecompiled(skeletonHash common.Hash) {
	if v, ok := c.entries.Load(skeletonHash); ok {
		v.(*atomic.Int32).Store(0)
	}
}

// MarkStored 跳过反编译模式下记录骨架已写出
// 返回true表示这是第一次见到该骨架
func (c *DecompileCache) MarkStored(skeletonHash common.Hash) bool {
	counter := atomic.Int32{}
	counter.Store(1)
	_, loaded := c.entries.LoadOrStore(skeletonHash, &counter)
	return !loaded
}

// State 读取骨架当前的计数值，不存在时返回(-1, false)
func (c *DecompileCache) State(skeletonHash common.Hash) (int32, bool) {
	v, ok := c.entries.Load(skeletonHash)
	if !ok {
		return -1, false
	}
	return v.(*atomic.Int32).Load(), true
}
