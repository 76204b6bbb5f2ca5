package main

import (
	"github.com/xpzouying/livepilot/platform"
	"github.com/xpzouying/livepilot/task"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

// ConnectRequest 连接账号
type ConnectRequest struct {
	Platform string `json:"platform" binding:"required"`
	// Headless 为空时使用全局配置
	Headless *bool `json:"headless,omitempty"`
	// AuthState 上次连接返回的登录态（base64），为空时从存储读取
	AuthState      []byte `json:"auth_state,omitempty"`
	ExecutablePath string `json:"executable_path,omitempty"`
}

// ConnectResponse 连接结果，AuthState 原样返回给调用方保存
type ConnectResponse struct {
	Account     string `json:"account"`
	AccountName string `json:"account_name"`
	AuthState   []byte `json:"auth_state"`
	Failovers   int    `json:"failovers"`
}

// StartTaskResponse 启动任务结果
type StartTaskResponse struct {
	Started bool      `json:"started"`
	Task    task.Info `json:"task"`
}

// ListenRequest 开始监听
type ListenRequest struct {
	Source platform.Source `json:"source" binding:"required"`
}

// MessagesResponse 最近的直播间消息
type MessagesResponse struct {
	Account  string                 `json:"account"`
	Messages []platform.LiveMessage `json:"messages"`
	Count    int                    `json:"count"`
}

// MCPContent MCP 工具返回的一段内容
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MCPToolResult MCP 工具调用结果
type MCPToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}
