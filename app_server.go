package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/comment"
	"github.com/xpzouying/livepilot/configs"
	"github.com/xpzouying/livepilot/pilot"
)

// AppServer HTTP / WebSocket / MCP 的统一入口
type AppServer struct {
	cfg   *configs.Config
	pilot *pilot.Pilot
	// live 直播间消息广播，events 全部事件的广播
	live   *comment.Hub
	events *comment.Hub

	router     *gin.Engine
	httpServer *http.Server
	mcpServer  *mcp.Server
}

func NewAppServer(cfg *configs.Config, p *pilot.Pilot, live *comment.Hub) *AppServer {
	s := &AppServer{
		cfg:    cfg,
		pilot:  p,
		live:   live,
		events: comment.NewHub(cfg.Live.BroadcastQueue),
	}
	s.mcpServer = s.initMCPServer()
	s.router = s.setupRoutes()
	return s
}

func (s *AppServer) setupRoutes() *gin.Engine {
	if s.cfg.Server.Mode != "" {
		gin.SetMode(s.cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/live", gin.WrapH(s.live))

	// MCP Streamable HTTP
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
	r.Any("/mcp", gin.WrapH(mcpHandler))

	api := r.Group("/api/v1")
	{
		api.GET("/events", gin.WrapH(s.events))
		api.GET("/accounts", s.listAccountsHandler)

		acc := api.Group("/accounts/:id")
		acc.POST("/connect", s.connectHandler)
		acc.POST("/disconnect", s.disconnectHandler)
		acc.GET("/tasks", s.listTasksHandler)
		acc.POST("/tasks/:name", s.startTaskHandler)
		acc.DELETE("/tasks/:name", s.stopTaskHandler)
		acc.PATCH("/tasks/:name", s.updateTaskHandler)
		acc.POST("/tasks/:name/restart", s.restartTaskHandler)
		acc.POST("/listen", s.startListeningHandler)
		acc.DELETE("/listen", s.stopListeningHandler)
		acc.GET("/messages", s.messagesHandler)
	}
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logrus.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"client_ip": c.ClientIP(),
			"latency":   time.Since(start).String(),
		}).Debug("http request")
	}
}

// forwardEvents 把 pilot 事件转发给 /api/v1/events 的订阅者，直到事件流关闭
func (s *AppServer) forwardEvents() {
	ch, _ := s.pilot.Subscribe(s.cfg.Live.EventBuffer)
	go func() {
		for ev := range ch {
			s.events.Publish(comment.Envelope{Type: string(ev.Type), Account: ev.Account, Data: ev})
		}
	}()
}

// Start 启动 HTTP 服务，收到退出信号后优雅关闭
func (s *AppServer) Start(addr string) error {
	s.forwardEvents()

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("启动 HTTP 服务器: %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		s.shutdownCore()
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	logrus.Info("正在关闭服务器...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// WebSocket 连接不会被 Shutdown 主动断开，先关闭 Hub
	s.live.Close()
	s.events.Close()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("等待连接关闭超时，强制关闭")
		_ = s.httpServer.Close()
	}
	s.shutdownCore()
	logrus.Info("服务器已关闭")
	return nil
}

// StartSTDIO 以 STDIO 模式运行 MCP 服务器，直到客户端断开
func (s *AppServer) StartSTDIO() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer s.shutdownCore()

	// STDIO 模式下 stdout 属于协议通道，日志只能写 stderr
	logrus.SetOutput(os.Stderr)
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "mcp stdio")
	}
	return nil
}

func (s *AppServer) shutdownCore() {
	s.pilot.Close()
	s.live.Close()
	s.events.Close()
}
