// Package progress 提取进度的本地持久化
// 进度落在嵌入式BoltDB里，进程重启后可以用--resume从
// 上次处理到的区块继续
package progress

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath 默认数据库路径
	DefaultDBPath = "./data/progress.db"

	progressBucket = "progress"

	lastBlockKey      = "last_processed_block"
	totalContractsKey = "total_contracts"
	startTimeKey      = "start_time"
	lastUpdateKey     = "last_update_time"
)

// Snapshot 某一时刻的进度
type Snapshot struct {
	LastProcessedBlock uint64    `json:"last_processed_block"`
	TotalBlocks        uint64    `json:"total_blocks"`
	TotalContracts     uint64    `json:"total_contracts"`
	StartTime          time.Time `json:"start_time"`
	LastUpdateTime     time.Time `json:"last_update_time"`
	BlocksPerSecond    float64   `json:"blocks_per_second"`
}

// Manager 进度管理器
type Manager struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string

	mu    sync.Mutex
	state Snapshot
}

// NewManager 打开进度数据库，文件不存在时创建
func NewManager(dbPath string, logger *logrus.Logger) (*Manager, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开进度数据库失败: %w", err)
	}

	m := &Manager{db: db, logger: logger, dbPath: dbPath}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(progressBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化进度存储桶失败: %w", err)
	}

	if err := m.load(); err != nil {
		logger.Warnf("加载历史进度失败: %v", err)
	}

	logger.Debugf("进度数据库已就绪: %s", dbPath)
	return m, nil
}

func (m *Manager) load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(progressBucket))
		if bucket == nil {
			return nil
		}

		if data := bucket.Get([]byte(lastBlockKey)); len(data) == 8 {
			m.state.LastProcessedBlock = binary.BigEndian.Uint64(data)
		}
		if data := bucket.Get([]byte(totalContractsKey)); len(data) == 8 {
			m.state.TotalContracts = binary.BigEndian.Uint64(data)
		}
		if data := bucket.Get([]byte(startTimeKey)); data != nil {
			json.Unmarshal(data, &m.state.StartTime)
		}
		if data := bucket.Get([]byte(lastUpdateKey)); data != nil {
			json.Unmarshal(data, &m.state.LastUpdateTime)
		}
		return nil
	})
}

// LastProcessedBlock 上次处理到的区块号
func (m *Manager) LastProcessedBlock() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.LastProcessedBlock
}

// UpdateProgress 记录一个处理完成的区块
// 区块并发完成时保留最大的区块号
func (m *Manager) UpdateProgress(blockNumber uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if m.state.StartTime.IsZero() {
		m.state.StartTime = now
	}
	if blockNumber > m.state.LastProcessedBlock {
		m.state.LastProcessedBlock = blockNumber
	}
	m.state.TotalBlocks++
	m.state.LastUpdateTime = now

	if elapsed := now.Sub(m.state.StartTime).Seconds(); elapsed > 0 {
		m.state.BlocksPerSecond = float64(m.state.TotalBlocks) / elapsed
	}

	return m.persist()
}

// AddContracts 累加已处理的合约数
func (m *Manager) AddContracts(n uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.TotalContracts += n
	return m.persist()
}

// persist 调用方必须持有锁
func (m *Manager) persist() error {
	state := m.state
	return m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(progressBucket))
		if bucket == nil {
			return fmt.Errorf("进度存储桶不存在")
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, state.LastProcessedBlock)
		if err := bucket.Put([]byte(lastBlockKey), buf); err != nil {
			return err
		}

		buf = make([]byte, 8)
		binary.BigEndian.PutUint64(buf, state.TotalContracts)
		if err := bucket.Put([]byte(totalContractsKey), buf); err != nil {
			return err
		}

		if data, err := json.Marshal(state.StartTime); err == nil {
			bucket.Put([]byte(startTimeKey), data)
		}
		if data, err := json.Marshal(state.LastUpdateTime); err == nil {
			bucket.Put([]byte(lastUpdateKey), data)
		}
		return nil
	})
}

// Snapshot 当前进度的副本
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset 清空全部进度
// 迭代中删除键在bbolt里是未定义行为，整桶删除后重建
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = Snapshot{}
	return m.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(progressBucket)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(progressBucket))
		return err
	})
}

// DBPath 数据库文件路径
func (m *Manager) DBPath() string {
	return m.dbPath
}

// Close 关闭数据库
func (m *Manager) Close() error {
	return m.db.Close()
}
