// Package stream 追块模式：先批量追到链头，再订阅新区块头实时跟进
// 记录落数据库而不是压缩文件，重复处理同一区块是幂等的
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"excavator/internal/decompiler"
	"excavator/internal/deriver"
	exterrors "excavator/internal/errors"
	"excavator/internal/fetcher"
	"excavator/internal/resolver"
	"excavator/internal/store"
	"excavator/internal/validation"
	"excavator/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// HeadSource 新区块头订阅源
type HeadSource interface {
	HeadNumber(ctx context.Context) (uint64, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// Options 追块模式配置
type Options struct {
	IncludeTransactions bool
	IncludeTransfers    bool
	IncludeLogs         bool
	// NoSync 跳过追赶阶段，直接订阅新区块
	NoSync bool
	// NumJobs 追赶阶段的并发度
	NumJobs int
}

// Follower 追块器
type Follower struct {
	opts       Options
	fetcher    *fetcher.Fetcher
	deriver    *deriver.Deriver
	decompiler *decompiler.Decompiler
	store      store.Store
	heads      HeadSource
	resolver   *resolver.SignatureResolver
	stats      *exterrors.ErrorStats
	validator  *validation.Validator
	logger     *logrus.Logger
}

// New 创建追块器，r和stats都可为nil
func New(opts Options, f *fetcher.Fetcher, d *deriver.Deriver, dec *decompiler.Decompiler,
	s store.Store, heads HeadSource, r *resolver.SignatureResolver,
	stats *exterrors.ErrorStats, logger *logrus.Logger) *Follower {
	if opts.NumJobs <= 0 {
		opts.NumJobs = 1
	}
	return &Follower{
		opts:       opts,
		fetcher:    f,
		deriver:    d,
		decompiler: dec,
		store:      s,
		heads:      heads,
		resolver:   r,
		stats:      stats,
		validator:  validation.NewValidator(logger, false),
		logger:     logger,
	}
}

// record 把管线错误计入运行期统计，供状态接口查询
func (f *Follower) record(err error) {
	if f.stats == nil {
		return
	}
	var ee *exterrors.ExtractError
	if errors.As(err, &ee) {
		f.stats.RecordError(ee)
	}
}

// Run 先追赶到链头，再订阅新区块头持续跟进，ctx取消后返回
func (f *Follower) Run(ctx context.Context) error {
	if !f.opts.NoSync {
		if err := f.syncToLive(ctx); err != nil {
			return err
		}
	}
	return f.followHeads(ctx)
}

// syncToLive 从库里最高区块的下一个开始批量追赶
// 碰到不存在的区块说明已经追上链头
func (f *Follower) syncToLive(ctx context.Context) error {
	last, ok, err := f.store.LastBlockNumber(ctx)
	if err != nil {
		return err
	}

	var next uint64
	if ok {
		next = last + 1
	} else {
		// 空库从当前链头开始，历史回填交给批量提取
		head, err := f.heads.HeadNumber(ctx)
		if err != nil {
			return fmt.Errorf("获取链头失败: %w", err)
		}
		next = head
	}

	f.logger.Infof("开始追赶，起始区块 %d，并发 %d", next, f.opts.NumJobs)

	sem := make(chan struct{}, f.opts.NumJobs)
	caughtUp := make(chan struct{}, 1)
	done := ctx.Done()

dispatch:
	for number := next; ; number++ {
		select {
		case <-done:
			break dispatch
		case <-caughtUp:
			break dispatch
		case sem <- struct{}{}:
		}

		go func(n uint64) {
			defer func() { <-sem }()
			if reachedHead := f.syncBlock(ctx, n); reachedHead {
				select {
				case caughtUp <- struct{}{}:
				default:
				}
			}
		}(number)
	}

	for i := 0; i < f.opts.NumJobs; i++ {
		sem <- struct{}{}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	f.logger.Info("已追上链头")
	return nil
}

// syncBlock 处理追赶阶段的单个区块，返回true表示已追上链头
// 网络和存储错误重试，同一个区块不会被放弃
func (f *Follower) syncBlock(ctx context.Context, number uint64) bool {
	for {
		err := f.processBlock(ctx, number)
		switch {
		case err == nil:
			return false
		case exterrors.IsBlockNotFound(err):
			return true
		case ctx.Err() != nil:
			return false
		default:
			f.logger.Warnf("区块 %d 处理失败，稍后重试: %v", number, err)
			f.record(err)
			select {
			case <-ctx.Done():
				return false
			case <-time.After(time.Second):
			}
		}
	}
}

// followHeads 订阅新区块头并顺序处理
func (f *Follower) followHeads(ctx context.Context) error {
	headers := make(chan *types.Header, 64)
	sub, err := f.heads.SubscribeNewHead(ctx, headers)
	if err != nil {
		return fmt.Errorf("订阅新区块失败: %w", err)
	}
	defer sub.Unsubscribe()

	f.logger.Info("已订阅新区块")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("区块订阅中断: %w", err)
		case header := <-headers:
			number := header.Number.Uint64()
			if err := f.processBlock(ctx, number); err != nil {
				// 实时区块处理失败只记日志，下一个区块头照常处理
				f.logger.Errorf("实时区块 %d 处理失败: %v", number, err)
				f.record(err)
			}
		}
	}
}

// processBlock 抓取并入库单个区块
// 区块本身写入失败整体失败；各子资源互相独立，
// 某一类写入失败跳过该类，其余照常入库
func (f *Follower) processBlock(ctx context.Context, number uint64) error {
	bundle, err := f.fetcher.Fetch(ctx, number, f.logProfile())
	if err != nil {
		return err
	}

	block := &models.Block{}
	block.FromEthereumBlock(bundle.Block)
	if err := f.validator.ValidateBlock(block); err != nil {
		return err
	}
	if err := f.store.UpsertBlock(ctx, block); err != nil {
		return err
	}

	var deployments []*models.ContractDeployment
	var destructions []*models.ContractDestruction
	for _, trace := range bundle.Traces {
		if deployment := f.deriver.DeploymentFromTrace(trace); deployment != nil {
			f.deriver.Enrich(ctx, deployment)
			f.ensureSkeleton(ctx, deployment)
			deployments = append(deployments, deployment)
			continue
		}
		if destruction := f.deriver.DestructionFromTrace(trace); destruction != nil {
			destructions = append(destructions, destruction)
		}
	}

	f.replaceSub(number, "部署", func() error {
		return f.store.ReplaceDeployments(ctx, number, deployments)
	})
	f.replaceSub(number, "自毁", func() error {
		return f.store.ReplaceDestructions(ctx, number, destructions)
	})

	if f.opts.IncludeTransactions {
		txs := make([]*models.Transaction, 0, len(bundle.Block.Transactions()))
		for _, tx := range bundle.Block.Transactions() {
			record := &models.Transaction{}
			record.FromEthereumTransaction(tx, number)
			txs = append(txs, record)
		}
		f.replaceSub(number, "交易", func() error {
			return f.store.ReplaceTransactions(ctx, number, txs)
		})
	}

	if f.opts.IncludeTransfers {
		f.replaceSub(number, "转账", func() error {
			return f.store.ReplaceTransfers(ctx, number, deriver.TransfersFromLogs(bundle.Logs))
		})
	}

	if f.opts.IncludeLogs {
		logs := make([]*models.Log, 0, len(bundle.Logs))
		for i := range bundle.Logs {
			record := &models.Log{}
			record.FromEthereumLog(&bundle.Logs[i])
			logs = append(logs, record)
		}
		f.replaceSub(number, "日志", func() error {
			return f.store.ReplaceLogs(ctx, number, logs)
		})
	}

	f.logger.Debugf("区块 %d 入库完成", number)
	return nil
}

// replaceSub 执行子资源的删除重插，失败跳过该类资源
func (f *Follower) replaceSub(number uint64, kind string, fn func() error) {
	if err := fn(); err != nil {
		f.logger.Warnf("区块 %d 的%s入库失败，跳过: %v", number, kind, err)
		f.record(err)
	}
}

// ensureSkeleton 骨架已入库则复用，否则反编译后入库
// 反编译失败的骨架也入库并带失败标记
func (f *Follower) ensureSkeleton(ctx context.Context, deployment *models.ContractDeployment) {
	_, exists, err := f.store.SkeletonIDByBytecode(ctx, deployment.Skeleton)
	if err != nil {
		f.logger.Warnf("查询骨架失败: %v", err)
		f.record(err)
		return
	}
	if exists {
		return
	}

	skeleton := models.NewSkeleton(deployment.Skeleton)
	abi, err := f.decompiler.Decompile(ctx, deployment.ContractAddress, deployment.Skeleton)
	if err != nil {
		skeleton.SetFailedDecompilation(true)
	} else {
		if f.resolver != nil {
			f.resolver.ResolveABI(abi)
		}
		skeleton.SetABI(abi)
	}

	if _, err := f.store.InsertSkeleton(ctx, skeleton); err != nil {
		f.logger.Warnf("骨架入库失败: %v", err)
		f.record(err)
	}
}

func (f *Follower) logProfile() fetcher.LogProfile {
	switch {
	case f.opts.IncludeLogs:
		return fetcher.LogProfileAll
	case f.opts.IncludeTransfers:
		return fetcher.LogProfileTransferOnly
	default:
		return fetcher.LogProfileNone
	}
}
