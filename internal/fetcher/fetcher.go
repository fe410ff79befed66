// Package fetcher 单个区块的并发抓取
package fetcher

import (
	"context"
	"sync"

	exterrors "excavator/internal/errors"
	"excavator/internal/traces"
	"excavator/pkg/models"

	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSource 区块抓取依赖的链上数据源
type ChainSource interface {
	BlockWithTxs(ctx context.Context, number uint64) (*types.Block, error)
	Logs(ctx context.Context, number uint64, transferOnly bool) ([]types.Log, error)
	Traces(ctx context.Context, number uint64) ([]*models.Trace, error)
}

// LogProfile 日志抓取模式
type LogProfile int

const (
	// LogProfileNone 不抓日志
	LogProfileNone LogProfile = iota
	// LogProfileTransferOnly 只抓Transfer事件日志
	LogProfileTransferOnly
	// LogProfileAll 抓全部日志
	LogProfileAll
)

// Bundle 一个区块的全部原始数据
type Bundle struct {
	Number uint64
	Block  *types.Block
	Logs   []types.Log
	Traces []*models.Trace
}

// Fetcher 区块抓取器
type Fetcher struct {
	source ChainSource
}

// New 创建抓取器
func New(source ChainSource) *Fetcher {
	return &Fetcher{source: source}
}

// Fetch 并发抓取区块+交易、日志、跟踪三路数据
// 区块是原子的：任意一路失败则整个区块失败，不接受部分成功
// 跟踪返回前已完成失败传播
func (f *Fetcher) Fetch(ctx context.Context, number uint64, profile LogProfile) (*Bundle, error) {
	var (
		wg        sync.WaitGroup
		block     *types.Block
		logs      []types.Log
		rawTraces []*models.Trace

		blockErr, logsErr, tracesErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		block, blockErr = f.source.BlockWithTxs(ctx, number)
	}()
	go func() {
		defer wg.Done()
		rawTraces, tracesErr = f.source.Traces(ctx, number)
	}()

	if profile != LogProfileNone {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logs, logsErr = f.source.Logs(ctx, number, profile == LogProfileTransferOnly)
		}()
	}

	wg.Wait()

	// 区块不存在优先于网络错误上报，追块模式依赖这个区分
	if exterrors.IsBlockNotFound(blockErr) {
		return nil, blockErr
	}
	for _, err := range []error{blockErr, logsErr, tracesErr} {
		if err != nil {
			return nil, err
		}
	}

	traces.PropagateErrors(rawTraces)

	return &Bundle{
		Number: number,
		Block:  block,
		Logs:   logs,
		Traces: rawTraces,
	}, nil
}
