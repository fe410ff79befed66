// Package api 运行状态查询接口
// 只读接口：进度、错误统计和最近日志，供运维面板轮询
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	exterrors "excavator/internal/errors"
	"excavator/internal/progress"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Server 状态接口服务器
type Server struct {
	logger   *logrus.Logger
	progress *progress.Manager
	stats    *exterrors.ErrorStats
	logs     *LogBuffer
	server   *http.Server
	started  time.Time
}

// NewServer 创建状态服务器，progress和stats都可为nil
func NewServer(port int, p *progress.Manager, stats *exterrors.ErrorStats, logger *logrus.Logger) *Server {
	logBuffer := NewLogBuffer(1000)
	logger.AddHook(NewLogHook(logBuffer))

	s := &Server{
		logger:   logger,
		progress: p,
		stats:    stats,
		logs:     logBuffer,
		started:  time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s.setupRoutes(router)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}
	return s
}

// Start 启动监听，阻塞到服务器关闭
func (s *Server) Start() error {
	s.logger.Infof("状态接口启动在 %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 优雅关闭服务器
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.health)

	api := router.Group("/api/v1")
	{
		api.GET("/progress", s.getProgress)
		api.GET("/errors", s.getErrors)
		api.GET("/logs", s.getLogs)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) getProgress(c *gin.Context) {
	if s.progress == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "进度跟踪未启用"})
		return
	}
	c.JSON(http.StatusOK, s.progress.Snapshot())
}

func (s *Server) getErrors(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "错误统计未启用"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":         s.stats,
		"rate_per_hour": s.stats.GetErrorRate(time.Hour),
	})
}

func (s *Server) getLogs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"logs": s.logs.Recent(limit),
	})
}
