// Package extractor 历史区间提取协调器
// 信号量限制在途区块数，提交循环支持协作式停止，
// 收尾时等待全部在途任务、关闭写入器并清理反编译临时目录
package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"excavator/internal/cache"
	"excavator/internal/decompiler"
	"excavator/internal/deriver"
	exterrors "excavator/internal/errors"
	"excavator/internal/fetcher"
	"excavator/internal/resolver"
	"excavator/internal/writer"
	"excavator/pkg/models"

	"github.com/sirupsen/logrus"
)

// Options 提取区间和内容开关
type Options struct {
	From uint64
	To   uint64
	// NumTasks 在途区块上限，0表示 5×CPU核数
	NumTasks            int
	IncludeTransactions bool
	IncludeTransfers    bool
	IncludeLogs         bool
	SkipDecompilation   bool
}

// ProgressSink 完成区块的进度回调
type ProgressSink interface {
	UpdateProgress(blockNumber uint64) error
}

// Summary 一次提取运行的汇总
type Summary struct {
	ContractsTotal  uint64
	ContractsFailed uint64
	LastBlock       uint64
	Elapsed         time.Duration
	BlocksProcessed uint64
}

// Extractor 提取协调器
type Extractor struct {
	opts       Options
	fetcher    *fetcher.Fetcher
	deriver    *deriver.Deriver
	decompiler *decompiler.Decompiler
	cache      *cache.DecompileCache
	writer     *writer.Writer
	resolver   *resolver.SignatureResolver
	stats      *exterrors.ErrorStats
	progress   ProgressSink
	logger     *logrus.Logger

	cntTotal  atomic.Uint64
	cntFailed atomic.Uint64
	cntBlocks atomic.Uint64
}

// New 创建提取协调器，resolver、stats和progress都可为nil
func New(opts Options, f *fetcher.Fetcher, d *deriver.Deriver, dec *decompiler.Decompiler,
	c *cache.DecompileCache, w *writer.Writer, r *resolver.SignatureResolver,
	stats *exterrors.ErrorStats, progress ProgressSink, logger *logrus.Logger) *Extractor {
	return &Extractor{
		opts:       opts,
		fetcher:    f,
		deriver:    d,
		decompiler: dec,
		cache:      c,
		writer:     w,
		resolver:   r,
		stats:      stats,
		progress:   progress,
		logger:     logger,
	}
}

// record 把管线错误计入运行期统计
func (e *Extractor) record(err error) {
	if e.stats == nil {
		return
	}
	var ee *exterrors.ExtractError
	if errors.As(err, &ee) {
		e.stats.RecordError(ee)
	}
}

// Run 提取[From, To]区间
// ctx取消时停止提交新区块，已在途的区块会处理完
func (e *Extractor) Run(ctx context.Context) (*Summary, error) {
	if e.opts.From > e.opts.To {
		return nil, fmt.Errorf("非法区间: %d > %d", e.opts.From, e.opts.To)
	}

	tasks := e.opts.NumTasks
	if tasks <= 0 {
		tasks = 5 * runtime.NumCPU()
	}

	e.logger.Infof("开始提取区块 %d 到 %d，并发 %d", e.opts.From, e.opts.To, tasks)
	started := time.Now()

	e.writer.Start()

	sem := make(chan struct{}, tasks)
	last := e.opts.From

dispatch:
	for number := e.opts.From; number <= e.opts.To; number++ {
		// 协作式停止：每次提交前检查取消
		select {
		case <-ctx.Done():
			e.logger.Warnf("收到停止信号，最后提交的区块: %d", last)
			break dispatch
		case sem <- struct{}{}:
		}

		last = number
		go func(n uint64) {
			defer func() { <-sem }()
			e.extractAt(ctx, n)
		}(number)
	}

	// 占满全部信号量位，等价于等待所有在途区块完成
	for i := 0; i < tasks; i++ {
		sem <- struct{}{}
	}

	e.writer.Close()

	if failures := e.writer.FlushFailures(); failures > 0 {
		e.logger.Errorf("有 %d 个分段文件写出失败", failures)
	}

	if err := os.RemoveAll(decompiler.ScratchDir); err != nil {
		e.logger.Warnf("清理反编译临时目录失败: %v", err)
	}

	summary := &Summary{
		ContractsTotal:  e.cntTotal.Load(),
		ContractsFailed: e.cntFailed.Load(),
		LastBlock:       last,
		Elapsed:         time.Since(started),
		BlocksProcessed: e.cntBlocks.Load(),
	}
	e.logSummary(summary)

	return summary, nil
}

func (e *Extractor) logSummary(s *Summary) {
	succeeded := s.ContractsTotal - s.ContractsFailed
	ratio := 100.0
	if s.ContractsTotal > 0 {
		ratio = float64(succeeded) / float64(s.ContractsTotal) * 100
	}

	seconds := s.Elapsed.Seconds()
	e.logger.Infof("提取完成: 合约 %d 个，失败 %d 个，成功率 %.1f%%", s.ContractsTotal, s.ContractsFailed, ratio)
	if seconds > 0 {
		e.logger.Infof("耗时 %s，%.2f 合约/秒，%.2f 区块/秒",
			s.Elapsed.Round(time.Millisecond),
			float64(s.ContractsTotal)/seconds,
			float64(s.BlocksProcessed)/seconds)
	}
}

func (e *Extractor) logProfile() fetcher.LogProfile {
	switch {
	case e.opts.IncludeLogs:
		return fetcher.LogProfileAll
	case e.opts.IncludeTransfers:
		return fetcher.LogProfileTransferOnly
	default:
		return fetcher.LogProfileNone
	}
}

// extractAt 处理单个区块
// 抓取失败只记日志跳过，单个坏区块不拖垮整个区间
func (e *Extractor) extractAt(ctx context.Context, number uint64) {
	bundle, err := e.fetcher.Fetch(ctx, number, e.logProfile())
	if err != nil {
		if exterrors.IsBlockNotFound(err) {
			e.logger.Warnf("区块 %d 不存在，跳过", number)
		} else {
			e.logger.Warnf("处理区块 %d 时网络错误，跳过: %v", number, err)
		}
		e.record(err)
		return
	}

	for _, trace := range bundle.Traces {
		if deployment := e.deriver.DeploymentFromTrace(trace); deployment != nil {
			e.processDeployment(ctx, deployment)
			continue
		}
		if destruction := e.deriver.DestructionFromTrace(trace); destruction != nil {
			e.writer.Write(writer.CmdDestruction{Destruction: destruction})
		}
	}

	if e.opts.IncludeTransfers {
		for _, transfer := range deriver.TransfersFromLogs(bundle.Logs) {
			e.writer.Write(writer.CmdTransfer{Transfer: transfer})
		}
	}

	if e.opts.IncludeLogs {
		for i := range bundle.Logs {
			log := &models.Log{}
			log.FromEthereumLog(&bundle.Logs[i])
			e.writer.Write(writer.CmdLog{Log: log})
		}
	}

	if e.opts.IncludeTransactions {
		for _, tx := range bundle.Block.Transactions() {
			record := &models.Transaction{}
			record.FromEthereumTransaction(tx, number)
			e.writer.Write(writer.CmdTransaction{Transaction: record})
		}
	}

	block := &models.Block{}
	block.FromEthereumBlock(bundle.Block)
	e.writer.Write(writer.CmdBlock{Block: block})

	e.cntBlocks.Add(1)
	if e.progress != nil {
		if err := e.progress.UpdateProgress(number); err != nil {
			e.logger.Warnf("记录进度失败: %v", err)
		}
	}
}

// processDeployment 部署记录的完整处理：补充信息、
// 骨架去重、按需反编译，最后写出部署记录
func (e *Extractor) processDeployment(ctx context.Context, deployment *models.ContractDeployment) {
	e.deriver.Enrich(ctx, deployment)
	hash := deployment.SkeletonHash()

	if e.opts.SkipDecompilation {
		// 跳过反编译时骨架只在首次出现时写出
		if e.cache.MarkStored(hash) {
			e.writer.Write(writer.CmdSkeleton{Skeleton: models.NewSkeleton(deployment.Skeleton)})
		}
	} else if e.cache.Acquire(hash) == cache.DecisionDecompile {
		skeleton := models.NewSkeleton(deployment.Skeleton)

		abi, err := e.decompiler.Decompile(ctx, deployment.ContractAddress, deployment.Skeleton)
		if err != nil {
			if exterrors.IsDecompilation(err) {
				e.cntFailed.Add(1)
			}
			e.record(err)
			skeleton.SetFailedDecompilation(true)
		} else {
			if e.resolver != nil {
				e.resolver.ResolveABI(abi)
			}
			skeleton.SetABI(abi)
			e.cache.MarkDecompiled(hash)
		}

		// 反编译失败的骨架也写出，失败标记跟着记录走
		e.writer.Write(writer.CmdSkeleton{Skeleton: skeleton})
	}

	e.cntTotal.Add(1)
	e.writer.Write(writer.CmdDeployment{Deployment: deployment})
}
