package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/browser"
	"github.com/xpzouying/livepilot/configs"
	"github.com/xpzouying/livepilot/platform"
	"github.com/xpzouying/livepilot/registry"
	"github.com/xpzouying/livepilot/task"
)

// respondError 返回错误响应
func respondError(c *gin.Context, statusCode int, code, message string, details any) {
	response := ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	}

	logrus.Errorf("%s %s %s %d", c.Request.Method, c.Request.URL.Path,
		c.GetString("account"), statusCode)

	c.JSON(statusCode, response)
}

// respondSuccess 返回成功响应
func respondSuccess(c *gin.Context, data any, message string) {
	response := SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	}

	logrus.Infof("%s %s %s %d", c.Request.Method, c.Request.URL.Path,
		c.GetString("account"), http.StatusOK)

	c.JSON(http.StatusOK, response)
}

// respondPilotError 按错误类别映射状态码
func respondPilotError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrInvalidConfig):
		respondError(c, http.StatusBadRequest, "INVALID_CONFIG", "任务配置无效", err.Error())
	case errors.Is(err, platform.ErrUnknownPlatform):
		respondError(c, http.StatusBadRequest, "UNKNOWN_PLATFORM", "未知平台", err.Error())
	case errors.Is(err, registry.ErrTaskNotFound):
		respondError(c, http.StatusNotFound, "TASK_NOT_FOUND", "任务不存在", err.Error())
	case errors.Is(err, platform.ErrNotConnected):
		respondError(c, http.StatusConflict, "NOT_CONNECTED", "账号未连接", err.Error())
	case errors.Is(err, platform.ErrUnsupported):
		respondError(c, http.StatusUnprocessableEntity, "UNSUPPORTED", "平台不支持该能力", err.Error())
	case platform.IsFatal(err):
		respondError(c, http.StatusBadGateway, "SESSION_FAILED", "浏览器会话失败", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "内部错误", err.Error())
	}
}

func accountParam(c *gin.Context) string {
	id := c.Param("id")
	c.Set("account", id)
	return id
}

func (s *AppServer) healthHandler(c *gin.Context) {
	respondSuccess(c, map[string]any{
		"status":    "healthy",
		"service":   "livepilot",
		"accounts":  len(s.pilot.Accounts()),
		"ws_live":   s.live.Clients(),
		"ws_events": s.events.Clients(),
	}, "服务正常")
}

func (s *AppServer) listAccountsHandler(c *gin.Context) {
	respondSuccess(c, s.pilot.Accounts(), "")
}

// connectHandler 连接账号。登录可能需要等待用户扫码，请求会一直阻塞到登录完成或客户端断开。
func (s *AppServer) connectHandler(c *gin.Context) {
	id := accountParam(c)

	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "请求参数错误", err.Error())
		return
	}

	opts := browser.LaunchOptions{
		Headless:       configs.IsHeadless(),
		AuthState:      req.AuthState,
		ExecutablePath: req.ExecutablePath,
	}
	if req.Headless != nil {
		opts.Headless = *req.Headless
	}

	res, err := s.pilot.Connect(c.Request.Context(), id, req.Platform, opts)
	if err != nil {
		respondPilotError(c, err)
		return
	}

	respondSuccess(c, ConnectResponse{
		Account:     id,
		AccountName: res.AccountName,
		AuthState:   res.AuthState,
		Failovers:   res.Failovers,
	}, "连接成功")
}

func (s *AppServer) disconnectHandler(c *gin.Context) {
	id := accountParam(c)
	if err := s.pilot.Disconnect(id); err != nil {
		respondPilotError(c, err)
		return
	}
	respondSuccess(c, nil, "已断开")
}

func (s *AppServer) listTasksHandler(c *gin.Context) {
	respondSuccess(c, s.pilot.Tasks(accountParam(c)), "")
}

func (s *AppServer) startTaskHandler(c *gin.Context) {
	id := accountParam(c)

	var cfg task.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "请求参数错误", err.Error())
		return
	}

	info, err := s.pilot.StartTask(id, c.Param("name"), cfg)
	if err != nil {
		respondPilotError(c, err)
		return
	}
	respondSuccess(c, StartTaskResponse{Started: true, Task: info}, "任务已启动")
}

func (s *AppServer) stopTaskHandler(c *gin.Context) {
	id := accountParam(c)
	if err := s.pilot.StopTask(id, c.Param("name")); err != nil {
		respondPilotError(c, err)
		return
	}
	respondSuccess(c, nil, "任务已停止")
}

func (s *AppServer) updateTaskHandler(c *gin.Context) {
	id := accountParam(c)

	var patch task.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "请求参数错误", err.Error())
		return
	}

	cfg, err := s.pilot.UpdateTaskConfig(id, c.Param("name"), patch)
	if err != nil {
		respondPilotError(c, err)
		return
	}
	respondSuccess(c, cfg, "配置已更新")
}

func (s *AppServer) restartTaskHandler(c *gin.Context) {
	id := accountParam(c)
	if err := s.pilot.RestartTask(id, c.Param("name")); err != nil {
		respondPilotError(c, err)
		return
	}
	respondSuccess(c, nil, "任务已重启")
}

func (s *AppServer) startListeningHandler(c *gin.Context) {
	id := accountParam(c)

	var req ListenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "请求参数错误", err.Error())
		return
	}

	if err := s.pilot.StartListening(c.Request.Context(), id, req.Source); err != nil {
		respondPilotError(c, err)
		return
	}
	respondSuccess(c, map[string]any{"listening": true, "source": req.Source}, "开始监听")
}

func (s *AppServer) stopListeningHandler(c *gin.Context) {
	id := accountParam(c)
	if err := s.pilot.StopListening(id); err != nil {
		respondPilotError(c, err)
		return
	}
	respondSuccess(c, map[string]any{"listening": false}, "已停止监听")
}

// messagesHandler 最近的直播间消息，?limit= 默认 50
func (s *AppServer) messagesHandler(c *gin.Context) {
	id := accountParam(c)

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit 必须是正整数", v)
			return
		}
		limit = n
	}

	msgs := s.pilot.RecentMessages(id, limit)
	if msgs == nil {
		msgs = []platform.LiveMessage{}
	}
	respondSuccess(c, MessagesResponse{Account: id, Messages: msgs, Count: len(msgs)}, "")
}
