package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xpzouying/livepilot/comment"
	"github.com/xpzouying/livepilot/configs"
	"github.com/xpzouying/livepilot/pilot"
)

var (
	configPath string
	headless   bool
	binPath    string // 浏览器二进制文件路径
	addr       string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "livepilot",
		Short:         "直播中控台自动化：多账号登录、定时评论/讲解/置顶、直播间消息监听",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径（默认查找 ./configs/config.yaml）")
	root.PersistentFlags().BoolVar(&headless, "headless", true, "是否无头模式")
	root.PersistentFlags().StringVar(&binPath, "bin", "", "浏览器二进制文件路径")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP / WebSocket / MCP(HTTP) 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := buildServer(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return s.Start(cfg.Server.Addr)
		},
	}
	serve.Flags().StringVar(&addr, "port", "", "监听地址，例如 :18060")

	stdio := &cobra.Command{
		Use:   "mcp",
		Short: "以 STDIO 模式运行 MCP 服务器（用于 MCP 客户端）",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := buildServer(cmd)
			if err != nil {
				return err
			}
			logrus.Info("启动 STDIO 模式 MCP 服务器")
			return s.StartSTDIO()
		},
	}

	root.AddCommand(serve, stdio)
	return root
}

// loadConfig 读取配置，命令行参数优先于配置文件
func loadConfig(cmd *cobra.Command) (*configs.Config, error) {
	cfg, err := configs.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if flags.Changed("bin") {
		cfg.Browser.BinPath = binPath
	}
	if len(cfg.Browser.BinPath) == 0 {
		cfg.Browser.BinPath = os.Getenv("ROD_BROWSER_BIN")
	}

	cfg.Apply()
	return cfg, nil
}

func buildServer(cmd *cobra.Command) (*AppServer, *configs.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	live := comment.NewHub(cfg.Live.BroadcastQueue)
	p, err := pilot.FromConfig(context.Background(), cfg, live)
	if err != nil {
		return nil, nil, err
	}
	return NewAppServer(cfg, p, live), cfg, nil
}
