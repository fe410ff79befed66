// Package shutdown 优雅停机
// 信号到达后取消主上下文，并按注册顺序号执行各组件的收尾函数
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序常量，数字越小越早执行
const (
	OrderStopDispatch    = 10 // 停止提交新区块
	OrderFlushWriter     = 20 // 刷出写入器缓冲
	OrderCloseStores     = 30 // 关闭数据库和Kafka连接
	OrderSaveProgress    = 40 // 保存进度
	OrderCleanupScratch  = 50 // 清理临时目录
)

// Hook 单个组件的收尾函数
type Hook struct {
	Name  string
	Order int
	Fn    func(ctx context.Context) error
}

// Graceful 优雅停机协调器
type Graceful struct {
	logger  *logrus.Logger
	timeout time.Duration

	mu    sync.Mutex
	hooks []Hook
	done  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建停机协调器并开始监听SIGINT/SIGTERM
// 返回的上下文在信号到达时取消
func New(timeout time.Duration, logger *logrus.Logger) *Graceful {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Graceful{
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("收到停机信号: %v", sig)
		cancel()
	}()

	return g
}

// Context 主上下文，信号到达时取消
func (g *Graceful) Context() context.Context {
	return g.ctx
}

// Register 注册收尾函数
func (g *Graceful) Register(name string, order int, fn func(ctx context.Context) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, Hook{Name: name, Order: order, Fn: fn})
}

// Shutdown 按顺序执行全部收尾函数，整体受超时限制
// 重复调用只执行一次
func (g *Graceful) Shutdown() {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return
	}
	g.done = true
	hooks := make([]Hook, len(g.hooks))
	copy(hooks, g.hooks)
	g.mu.Unlock()

	g.cancel()

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].Order < hooks[j].Order })

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	for _, hook := range hooks {
		started := time.Now()
		if err := hook.Fn(ctx); err != nil {
			g.logger.Errorf("收尾 '%s' 失败 (耗时 %v): %v", hook.Name, time.Since(started).Round(time.Millisecond), err)
		} else {
			g.logger.Debugf("收尾 '%s' 完成 (耗时 %v)", hook.Name, time.Since(started).Round(time.Millisecond))
		}

		if ctx.Err() != nil {
			g.logger.Warn("停机超时，放弃剩余收尾步骤")
			return
		}
	}
}
