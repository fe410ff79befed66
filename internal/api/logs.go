package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry 一条内存里的日志
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// LogBuffer 固定容量的日志环形缓冲
type LogBuffer struct {
	mu       sync.Mutex
	entries  []LogEntry
	capacity int
	next     int
	full     bool
}

// NewLogBuffer 创建日志缓冲
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LogBuffer{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
	}
}

// Append 追加一条日志，写满后覆盖最旧的
func (b *LogBuffer) Append(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = entry
	b.next = (b.next + 1) % b.capacity
	if b.next == 0 {
		b.full = true
	}
}

// Recent 最近的limit条日志，新的在前
func (b *LogBuffer) Recent(limit int) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.next
	if b.full {
		size = b.capacity
	}
	if limit > size {
		limit = size
	}

	result := make([]LogEntry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (b.next - 1 - i + b.capacity) % b.capacity
		result = append(result, b.entries[idx])
	}
	return result
}

// LogHook 把logrus日志写进缓冲的钩子
type LogHook struct {
	buffer *LogBuffer
}

// NewLogHook 创建日志钩子
func NewLogHook(buffer *LogBuffer) *LogHook {
	return &LogHook{buffer: buffer}
}

// Levels 钩子生效的级别
func (h *LogHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.InfoLevel,
		logrus.WarnLevel,
		logrus.ErrorLevel,
		logrus.FatalLevel,
	}
}

// Fire 写入一条日志
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.buffer.Append(LogEntry{
		Time:    entry.Time,
		Level:   entry.Level.String(),
		Message: entry.Message,
	})
	return nil
}
