// Package writer 批量写入器
//
// 单个消费者独占全部缓冲状态：每种实体一个缓冲区，序列化后的
// 体积超过阈值时压缩落盘为编号的分段文件，通道关闭时把所有
// 剩余缓冲（包括空的）再刷一次，保证不丢尾部记录
package writer

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	exterrors "excavator/internal/errors"
	"excavator/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// WriteCommand 写入命令，各实体类型的带标签联合
type WriteCommand interface{ writeCommand() }

// CmdBlock 区块写入命令
type CmdBlock struct{ Block *models.Block }

// CmdTransaction 交易写入命令
type CmdTransaction struct{ Transaction *models.Transaction }

// CmdLog 日志写入命令
type CmdLog struct{ Log *models.Log }

// CmdTransfer 代币转账写入命令
type CmdTransfer struct{ Transfer *models.TokenTransfer }

// CmdDeployment 合约部署写入命令
type CmdDeployment struct{ Deployment *models.ContractDeployment }

// CmdDestruction 合约自毁写入命令
type CmdDestruction struct{ Destruction *models.ContractDestruction }

// CmdSkeleton 骨架写入命令
type CmdSkeleton struct{ Skeleton *models.Skeleton }

func (CmdBlock) writeCommand()       {}
func (CmdTransaction) writeCommand() {}
func (CmdLog) writeCommand()         {}
func (CmdTransfer) writeCommand()    {}
func (CmdDeployment) writeCommand()  {}
func (CmdDestruction) writeCommand() {}
func (CmdSkeleton) writeCommand()    {}

// 写入通道容量，写满后生产者阻塞，对整条管线形成背压
const channelCapacity = 10000

// 输出目录布局
var outputDirs = []string{
	"static/blocks",
	"static/skeletons",
	"static/events",
	"static/functions",
	"static/errors",
	"static/deployments",
	"static/destructions",
	"dynamic/transactions",
	"dynamic/transfers",
	"dynamic/logs",
}

// segmentBuffer 单个实体类型的缓冲区
// counter是分段文件编号，从0开始单调递增
type segmentBuffer struct {
	dir     string
	prefix  string
	counter int
	items   []json.RawMessage
	size    int
}

func (b *segmentBuffer) append(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.items = append(b.items, raw)
	b.size += len(raw) + 1
	return nil
}

// Writer 批量写入器
type Writer struct {
	outputPath       string
	sizeLimitKB      int
	compressionLevel int
	logger           *logrus.Logger

	cmds chan WriteCommand
	done chan struct{}

	// 并发执行中的刷盘任务
	flushWG sync.WaitGroup

	// 可选的Kafka镜像
	kafka *KafkaMirror

	// 可选的错误统计
	stats *exterrors.ErrorStats

	blocks       *segmentBuffer
	transactions *segmentBuffer
	deployments  *segmentBuffer
	destructions *segmentBuffer
	transfers    *segmentBuffer
	logs         *segmentBuffer
	skeletons    *segmentBuffer
	functions    *segmentBuffer
	events       *segmentBuffer
	abiErrors    *segmentBuffer

	// 跨骨架的ABI条目去重集合，key是签名哈希
	seenFunctions map[common.Hash]struct{}
	seenEvents    map[common.Hash]struct{}
	seenErrors    map[common.Hash]struct{}

	// 刷盘失败计数，后台刷盘任务并发递增
	// 刷盘失败记日志不重试
	flushFailures atomic.Int64
}

// New 创建写入器并准备输出目录，kafka和stats都可为nil
func New(outputPath string, sizeLimitKB, compressionLevel int, kafka *KafkaMirror,
	stats *exterrors.ErrorStats, logger *logrus.Logger) (*Writer, error) {
	for _, dir := range outputDirs {
		if err := os.MkdirAll(filepath.Join(outputPath, dir), 0o755); err != nil {
			return nil, fmt.Errorf("创建输出目录失败: %w", err)
		}
	}

	newBuffer := func(dir, prefix string) *segmentBuffer {
		return &segmentBuffer{dir: filepath.Join(outputPath, dir), prefix: prefix}
	}

	return &Writer{
		outputPath:       outputPath,
		sizeLimitKB:      sizeLimitKB,
		compressionLevel: compressionLevel,
		logger:           logger,
		cmds:             make(chan WriteCommand, channelCapacity),
		done:             make(chan struct{}),
		kafka:            kafka,
		stats:            stats,
		blocks:           newBuffer("static/blocks", "blocks"),
		transactions:     newBuffer("dynamic/transactions", "transactions"),
		deployments:      newBuffer("static/deployments", "deployments"),
		destructions:     newBuffer("static/destructions", "destructions"),
		transfers:        newBuffer("dynamic/transfers", "transfers"),
		logs:             newBuffer("dynamic/logs", "logs"),
		skeletons:        newBuffer("static/skeletons", "skeletons"),
		functions:        newBuffer("static/functions", "functions"),
		events:           newBuffer("static/events", "events"),
		abiErrors:        newBuffer("static/errors", "errors"),
		seenFunctions:    make(map[common.Hash]struct{}),
		seenEvents:       make(map[common.Hash]struct{}),
		seenErrors:       make(map[common.Hash]struct{}),
	}, nil
}

// Write 把命令放进写入通道，通道满时阻塞
func (w *Writer) Write(cmd WriteCommand) {
	w.cmds <- cmd
}

// Start 启动消费循环
func (w *Writer) Start() {
	go w.run()
}

// Close 关闭写入通道并等待全部数据落盘
func (w *Writer) Close() {
	close(w.cmds)
	<-w.done
}

// FlushFailures 刷盘失败次数
func (w *Writer) FlushFailures() int {
	return int(w.flushFailures.Load())
}

func (w *Writer) record(err *exterrors.ExtractError) {
	if w.stats != nil {
		w.stats.RecordError(err)
	}
}

func (w *Writer) run() {
	defer close(w.done)

	for cmd := range w.cmds {
		w.dispatch(cmd)
	}

	w.logger.Info("写入通道已关闭，刷出剩余数据...")
	started := time.Now()

	// 所有缓冲最后都刷一次，空缓冲也产出空分段
	for _, b := range w.allBuffers() {
		w.flush(b)
	}

	w.flushWG.Wait()

	w.logger.Infof("最终刷盘耗时 %s", time.Since(started).Round(time.Millisecond))
}

func (w *Writer) allBuffers() []*segmentBuffer {
	return []*segmentBuffer{
		w.blocks, w.transactions, w.deployments, w.destructions,
		w.transfers, w.logs, w.skeletons, w.functions, w.events, w.abiErrors,
	}
}

func (w *Writer) dispatch(cmd WriteCommand) {
	switch c := cmd.(type) {
	case CmdBlock:
		w.appendAndMaybeFlush(w.blocks, c.Block)
		w.mirror("blocks", c.Block)
	case CmdTransaction:
		w.appendAndMaybeFlush(w.transactions, c.Transaction)
		w.mirror("transactions", c.Transaction)
	case CmdLog:
		w.appendAndMaybeFlush(w.logs, c.Log)
		w.mirror("logs", c.Log)
	case CmdTransfer:
		w.appendAndMaybeFlush(w.transfers, c.Transfer)
		w.mirror("transfers", c.Transfer)
	case CmdDeployment:
		w.appendAndMaybeFlush(w.deployments, c.Deployment)
		w.mirror("deployments", c.Deployment)
	case CmdDestruction:
		w.appendAndMaybeFlush(w.destructions, c.Destruction)
		w.mirror("destructions", c.Destruction)
	case CmdSkeleton:
		w.appendSkeleton(c.Skeleton)
		w.mirror("skeletons", c.Skeleton)
	}
}

// appendSkeleton 骨架本身入缓冲，其ABI条目按签名哈希去重后
// 分别进函数/事件/错误缓冲
func (w *Writer) appendSkeleton(skeleton *models.Skeleton) {
	w.appendAndMaybeFlush(w.skeletons, skeleton)

	if skeleton.ABI == nil {
		return
	}

	for _, node := range skeleton.ABI.Nodes {
		sigHash := node.GetSignatureHash()
		switch node.Type {
		case "function":
			if _, ok := w.seenFunctions[sigHash]; ok {
				continue
			}
			w.seenFunctions[sigHash] = struct{}{}
			w.appendAndMaybeFlush(w.functions, node.Function)
		case "event":
			if _, ok := w.seenEvents[sigHash]; ok {
				continue
			}
			w.seenEvents[sigHash] = struct{}{}
			w.appendAndMaybeFlush(w.events, node.Event)
		case "error":
			if _, ok := w.seenErrors[sigHash]; ok {
				continue
			}
			w.seenErrors[sigHash] = struct{}{}
			w.appendAndMaybeFlush(w.abiErrors, node.Error)
		}
	}
}

func (w *Writer) appendAndMaybeFlush(b *segmentBuffer, v interface{}) {
	if err := b.append(v); err != nil {
		w.logger.Errorf("序列化%s记录失败: %v", b.prefix, err)
		w.record(exterrors.Derive(exterrors.ErrSerializationFailed, err).
			WithMessage(fmt.Sprintf("序列化%s记录失败", b.prefix)))
		return
	}

	if b.size > w.sizeLimitKB*1024 {
		w.flush(b)
	}
}

// flush 把缓冲内容移交给后台刷盘任务并重置缓冲
// 同一类型的下一次刷盘使用递增后的编号，不会和在途任务冲突
func (w *Writer) flush(b *segmentBuffer) {
	items := b.items
	target := filepath.Join(b.dir, fmt.Sprintf("%s_%d.json.gz", b.prefix, b.counter))
	b.counter++
	b.items = nil
	b.size = 0

	w.flushWG.Add(1)
	go func() {
		defer w.flushWG.Done()
		if err := writeSegment(target, items, w.compressionLevel); err != nil {
			w.logger.Errorf("刷盘失败 %s: %v", target, err)
			w.flushFailures.Add(1)
			w.record(exterrors.WrapError(err, exterrors.ErrorTypeFileIO,
				exterrors.SeverityHigh, "FLUSH_FAILURE", fmt.Sprintf("刷盘失败 %s", target)))
		}
	}()
}

// writeSegment 把一批记录序列化成JSON数组并gzip压缩写入文件
func writeSegment(path string, items []json.RawMessage, level int) error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(item)
	}
	buf.WriteByte(']')

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder, err := gzip.NewWriterLevel(file, level)
	if err != nil {
		return err
	}
	if _, err := encoder.Write(buf.Bytes()); err != nil {
		encoder.Close()
		return err
	}
	return encoder.Close()
}

func (w *Writer) mirror(kind string, payload interface{}) {
	if w.kafka == nil {
		return
	}
	if err := w.kafka.Publish(kind, payload); err != nil {
		w.logger.Warnf("Kafka镜像发送失败 (%s): %v", kind, err)
	}
}
