package errors

import (
	"sync"
	"time"
)

// ErrorStats 运行期错误统计，供追块模式的状态接口查询
type ErrorStats struct {
	mu sync.RWMutex

	TotalErrors       int                   `json:"total_errors"`
	ErrorsByType      map[ErrorType]int     `json:"errors_by_type"`
	ErrorsBySeverity  map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	RecentErrors      []*ExtractError       `json:"recent_errors"`
	LastError         *ExtractError         `json:"last_error,omitempty"`
}

// 最近错误列表的长度上限
const recentErrorsLimit = 100

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[ErrorType]int),
		ErrorsBySeverity:  make(map[ErrorSeverity]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*ExtractError, 0),
	}
}

// RecordError 记录一次错误
func (s *ErrorStats) RecordError(err *ExtractError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalErrors++
	s.ErrorsByType[err.Type]++
	s.ErrorsBySeverity[err.Severity]++
	if err.Component != "" {
		s.ErrorsByComponent[err.Component]++
	}

	s.LastError = err
	s.RecentErrors = append(s.RecentErrors, err)
	if len(s.RecentErrors) > recentErrorsLimit {
		s.RecentErrors = s.RecentErrors[len(s.RecentErrors)-recentErrorsLimit:]
	}
}

// GetErrorRate 计算指定时间窗口内的错误率（个/小时）
func (s *ErrorStats) GetErrorRate(window time.Duration) float64 {
	if window <= 0 {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	count := 0
	for _, err := range s.RecentErrors {
		if err.Timestamp.After(cutoff) {
			count++
		}
	}

	return float64(count) / window.Hours()
}
