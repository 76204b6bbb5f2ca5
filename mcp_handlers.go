package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/browser"
	"github.com/xpzouying/livepilot/configs"
)

// MCP 工具处理函数

func textResult(text string) *MCPToolResult {
	return &MCPToolResult{
		Content: []MCPContent{{
			Type: "text",
			Text: text,
		}},
	}
}

func errorResult(prefix string, err error) *MCPToolResult {
	return &MCPToolResult{
		Content: []MCPContent{{
			Type: "text",
			Text: prefix + ": " + err.Error(),
		}},
		IsError: true,
	}
}

// jsonResult 格式化输出，转换为 JSON 字符串
func jsonResult(what string, v any) *MCPToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &MCPToolResult{
			Content: []MCPContent{{
				Type: "text",
				Text: fmt.Sprintf("%s成功，但序列化失败: %v", what, err),
			}},
			IsError: true,
		}
	}
	return textResult(string(data))
}

func (s *AppServer) handleListAccounts(ctx context.Context) *MCPToolResult {
	logrus.Info("MCP: 列出账号")
	return jsonResult("列出账号", s.pilot.Accounts())
}

// handleConnectAccount 连接账号。登录态优先从存储读取，读取不到时等待扫码登录。
func (s *AppServer) handleConnectAccount(ctx context.Context, args ConnectAccountArgs) *MCPToolResult {
	logrus.Infof("MCP: 连接账号 - 账号: %s, 平台: %s", args.Account, args.Platform)

	if args.Account == "" || args.Platform == "" {
		return textErrorResult("连接失败: 缺少 account 或 platform 参数")
	}

	opts := browser.LaunchOptions{Headless: configs.IsHeadless()}
	if args.Headless != nil {
		opts.Headless = *args.Headless
	}

	res, err := s.pilot.Connect(ctx, args.Account, args.Platform, opts)
	if err != nil {
		return errorResult("连接失败", err)
	}

	text := fmt.Sprintf("连接成功: 账号 %s（%s）", args.Account, res.AccountName)
	if res.Failovers > 0 {
		text += "，已完成扫码登录并切回无头模式"
	}
	return textResult(text)
}

func (s *AppServer) handleDisconnectAccount(ctx context.Context, args AccountArgs) *MCPToolResult {
	logrus.Infof("MCP: 断开账号 - 账号: %s", args.Account)

	if err := s.pilot.Disconnect(args.Account); err != nil {
		return errorResult("断开失败", err)
	}
	return textResult("已断开账号 " + args.Account)
}

func (s *AppServer) handleStartTask(ctx context.Context, args StartTaskArgs) *MCPToolResult {
	logrus.Infof("MCP: 启动任务 - 账号: %s, 任务: %s", args.Account, args.Name)

	info, err := s.pilot.StartTask(args.Account, args.Name, args.Config)
	if err != nil {
		return errorResult("启动任务失败", err)
	}
	return jsonResult("启动任务", StartTaskResponse{Started: true, Task: info})
}

func (s *AppServer) handleStopTask(ctx context.Context, args TaskArgs) *MCPToolResult {
	logrus.Infof("MCP: 停止任务 - 账号: %s, 任务: %s", args.Account, args.Name)

	if err := s.pilot.StopTask(args.Account, args.Name); err != nil {
		return errorResult("停止任务失败", err)
	}
	return textResult(fmt.Sprintf("任务 %s 已停止", args.Name))
}

func (s *AppServer) handleUpdateTaskConfig(ctx context.Context, args UpdateTaskConfigArgs) *MCPToolResult {
	logrus.Infof("MCP: 更新任务配置 - 账号: %s, 任务: %s", args.Account, args.Name)

	cfg, err := s.pilot.UpdateTaskConfig(args.Account, args.Name, args.Patch)
	if err != nil {
		return errorResult("更新配置失败，原配置保持不变", err)
	}
	return jsonResult("更新配置", cfg)
}

func (s *AppServer) handleListTasks(ctx context.Context, args AccountArgs) *MCPToolResult {
	logrus.Infof("MCP: 列出任务 - 账号: %s", args.Account)
	return jsonResult("列出任务", s.pilot.Tasks(args.Account))
}

func (s *AppServer) handleStartListening(ctx context.Context, args StartListeningArgs) *MCPToolResult {
	logrus.Infof("MCP: 开始监听 - 账号: %s, 来源: %s", args.Account, args.Source)

	if err := s.pilot.StartListening(ctx, args.Account, args.Source); err != nil {
		return errorResult("开始监听失败", err)
	}
	return textResult(fmt.Sprintf("已开始监听 %s 的直播间消息（%s）", args.Account, args.Source))
}

func (s *AppServer) handleStopListening(ctx context.Context, args AccountArgs) *MCPToolResult {
	logrus.Infof("MCP: 停止监听 - 账号: %s", args.Account)

	if err := s.pilot.StopListening(args.Account); err != nil {
		return errorResult("停止监听失败", err)
	}
	return textResult("已停止监听")
}

func (s *AppServer) handleRecentMessages(ctx context.Context, args RecentMessagesArgs) *MCPToolResult {
	logrus.Infof("MCP: 获取最近消息 - 账号: %s", args.Account)

	limit := args.Limit
	if limit <= 0 {
		limit = 50
	}
	msgs := s.pilot.RecentMessages(args.Account, limit)
	if len(msgs) == 0 {
		return textResult("暂无消息")
	}
	return jsonResult("获取最近消息", MessagesResponse{Account: args.Account, Messages: msgs, Count: len(msgs)})
}

func textErrorResult(text string) *MCPToolResult {
	r := textResult(text)
	r.IsError = true
	return r
}
