package main

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/xpzouying/livepilot/platform"
	"github.com/xpzouying/livepilot/task"
)

// MCP 工具参数

type AccountArgs struct {
	Account string `json:"account" jsonschema:"账号 ID"`
}

type ConnectAccountArgs struct {
	Account  string `json:"account" jsonschema:"账号 ID"`
	Platform string `json:"platform" jsonschema:"平台名称，对应配置中的 sites.name"`
	Headless *bool  `json:"headless,omitempty" jsonschema:"是否无头模式，不传时使用全局配置"`
}

type StartTaskArgs struct {
	Account string      `json:"account" jsonschema:"账号 ID"`
	Name    string      `json:"name" jsonschema:"任务名，以任务类型开头，例如 comment:welcome、popup:goods、pin:notice"`
	Config  task.Config `json:"config" jsonschema:"任务配置"`
}

type TaskArgs struct {
	Account string `json:"account" jsonschema:"账号 ID"`
	Name    string `json:"name" jsonschema:"任务名"`
}

type UpdateTaskConfigArgs struct {
	Account string     `json:"account" jsonschema:"账号 ID"`
	Name    string     `json:"name" jsonschema:"任务名"`
	Patch   task.Patch `json:"patch" jsonschema:"需要修改的字段，未填写的字段保持不变"`
}

type StartListeningArgs struct {
	Account string          `json:"account" jsonschema:"账号 ID"`
	Source  platform.Source `json:"source" jsonschema:"监听来源：control_panel 或 dashboard"`
}

type RecentMessagesArgs struct {
	Account string `json:"account" jsonschema:"账号 ID"`
	Limit   int    `json:"limit,omitempty" jsonschema:"返回条数，默认 50"`
}

// initMCPServer 注册全部 MCP 工具
func (s *AppServer) initMCPServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "livepilot",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_accounts",
		Description: "列出全部账号及其连接状态",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		return toCallToolResult(s.handleListAccounts(ctx)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "connect_account",
		Description: "为账号启动浏览器并登录直播中控台。未登录时会打开有头浏览器等待扫码，调用会阻塞到登录完成",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ConnectAccountArgs) (*mcp.CallToolResult, any, error) {
		return toCallToolResult(s.handleConnectAccount(ctx, args)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "disconnect_account",
		Description: "断开账号：停止全部任务和监听并关闭浏览器",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args AccountArgs) (*mcp.CallToolResult, any, error) {
		return toCallToolResult(s.handleDisconnectAccount(ctx, args)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_task",
		Description: "启动定时任务（评论轮播、商品讲解、置顶），同名任务会先被停止",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args StartTaskArgs) (*mcp.CallToolResult, any, error) {
		return toCallToolResult(s.handleStartTask(ctx, args)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "stop_task",
		Description: "停止并移除任务",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args TaskArgs) (*mcp.CallToolResult, any, error) {
		return toCallToolResult(s.handleStopTask(ctx, args)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_task_config",
		Description: "修改运行中任务的配置，配置无效时保留原配置",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args UpdateTaskConfigArgs) (*mcp.CallToolResult, any, error) {
		return toCallToolResult(s.handleUpdateTaskConfig(ctx, args)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_tasks",
		Description: "列出账号下的全部任务",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args AccountArgs) (*mcp.CallToolResult, any, error) {
		return toCallToolResult(s.handleListTasks(ctx, args)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_listening",
		Description: "开始监听直播间消息（评论、进场、关注等）",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args StartListeningArgs) (*mcp.CallToolResult, any, error) {
		return toCallToolResult(s.handleStartListening(ctx, args)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "stop_listening",
		Description: "停止监听直播间消息",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args AccountArgs) (*mcp.CallToolResult, any, error) {
		return toCallToolResult(s.handleStopListening(ctx, args)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "recent_messages",
		Description: "获取最近收到的直播间消息",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args RecentMessagesArgs) (*mcp.CallToolResult, any, error) {
		return toCallToolResult(s.handleRecentMessages(ctx, args)), nil, nil
	})

	return server
}

// toCallToolResult 转换为 SDK 的结果类型
func toCallToolResult(r *MCPToolResult) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: r.IsError}
	for _, c := range r.Content {
		out.Content = append(out.Content, &mcp.TextContent{Text: c.Text})
	}
	return out
}
