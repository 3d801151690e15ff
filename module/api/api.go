package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/oneops-ai/incident-rca/config"
	"github.com/oneops-ai/incident-rca/core"
	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/infra/log"
)

// RCARequest 分析请求。可只给 request_id 或部分定位字段，
// 也可从自由文本中提取；知识库可内联或按路径覆盖。
type RCARequest struct {
	RequestID       string           `json:"request_id,omitempty"`
	Hostname        string           `json:"hostname,omitempty"`
	EventID         string           `json:"eventid,omitempty"`
	Text            string           `json:"text,omitempty"` // 自由文本，服务端提取定位字段
	LookbackMinutes int              `json:"lookback_minutes,omitempty"`
	KBEntries       []domain.KBEntry `json:"kb_entries,omitempty"`
	KBJSONPath      string           `json:"kb_json_path,omitempty"`
}

// ReportSlot 批处理的单个结果槽。
type ReportSlot struct {
	IncidentID     uint64            `json:"incident_id"`
	CorrelationKey string            `json:"correlation_key"`
	Report         *domain.RCAReport `json:"report,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// RCAResponse 分析响应。
type RCAResponse struct {
	Counts  domain.CorrelationCounts `json:"correlation_counts"`
	Reports []ReportSlot             `json:"reports"`
}

// RCAService 分析入口，由装配层实现。
type RCAService interface {
	HandleRCA(ctx context.Context, req RCARequest) (RCAResponse, error)
	// QueryReports 按事件簇 ID 查询已归档报告；归档未启用时
	// 返回 core.ErrArchiveDisabled
	QueryReports(ctx context.Context, incidentIDs []uint64) ([]domain.ArchivedReport, error)
	// QueryReportHistory 按关联键查询历史归档，时间倒序
	QueryReportHistory(ctx context.Context, correlationKey string, limit int) ([]domain.ArchivedReport, error)
}

// Server HTTP 入口：触发分析、Webhook 事件接收、健康检查。
type Server struct {
	cfg        *config.Config
	service    RCAService
	publisher  core.StreamPublisher // 可为 nil（未启用消息流）
	httpServer *http.Server
}

// New 创建 API 服务。
func New(cfg *config.Config, service RCAService, publisher core.StreamPublisher) *Server {
	return &Server{cfg: cfg, service: service, publisher: publisher}
}

// Start 注册路由并启动 HTTP Server，阻塞到 ctx 取消。
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s.Register(engine)

	addr := fmt.Sprintf(":%d", s.cfg.APIPort)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: engine,
	}
	s.httpServer = httpSrv

	log.Infof("HTTP 服务监听 %s", addr)
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Stop 优雅关闭 HTTP 服务。
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Register 注册路由（测试时可挂到自建 engine 上）。
func (s *Server) Register(engine *gin.Engine) {
	v1 := engine.Group("/api/incident-rca/v1")
	{
		v1.POST("/rca", s.postRCA)
		v1.POST("/events", s.postEvent)
		v1.GET("/reports", s.getReports)
		v1.GET("/healthz", s.healthz)
	}
}

func (s *Server) postRCA(c *gin.Context) {
	var req RCARequest
	// 空请求体按默认回溯窗口全量分析
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("请求参数解析失败: %v", err)})
			return
		}
	}

	resp, err := s.service.HandleRCA(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) postEvent(c *gin.Context) {
	if s.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "消息流未启用"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 10<<20) // 限制 10MB
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取请求失败"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体不能为空"})
		return
	}

	log.Debugf("收到 Webhook 事件，内容: %s", string(body))

	key := fmt.Sprintf("%d", time.Now().UnixNano())
	if err := s.publisher.PublishRawEvent(c.Request.Context(), key, body); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("写入消息流失败: %v", err)})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "key": key})
}

// getReports 归档查询：按事件簇 ID 精确取，或按关联键取同一
// 事件簇的历史归档（时间倒序）。
func (s *Server) getReports(c *gin.Context) {
	if key := c.Query("correlation_key"); key != "" {
		limit, _ := strconv.Atoi(c.Query("limit"))
		reports, err := s.service.QueryReportHistory(c.Request.Context(), key, limit)
		if err != nil {
			s.writeReportError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reports": reports})
		return
	}

	raw := c.Query("incident_ids")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 incident_ids 或 correlation_key 参数"})
		return
	}
	var ids []uint64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("非法的 incident_id: %s", part)})
			return
		}
		ids = append(ids, id)
	}

	reports, err := s.service.QueryReports(c.Request.Context(), ids)
	if err != nil {
		s.writeReportError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (s *Server) writeReportError(c *gin.Context, err error) {
	if errors.Is(err, core.ErrArchiveDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
