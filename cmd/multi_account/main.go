package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/configs"
	"github.com/xpzouying/livepilot/cookies"
	"github.com/xpzouying/livepilot/pilot"
)

// resetAuthStates 删除配置中全部账号已保存的登录态
func resetAuthStates(ctx context.Context, cfg *configs.Config) error {
	store, err := cookies.Open(ctx, cfg.AuthStore)
	if err != nil {
		return err
	}
	for _, a := range cfg.Accounts {
		if err := store.Delete(ctx, a.ID); err != nil {
			return err
		}
	}
	return nil
}

// 这个 CLI 程序按配置文件并行连接多个账号，启动各自的任务和消息监听，
// 直到收到退出信号或达到运行时长，不依赖 HTTP / MCP 客户端。
func main() {
	var (
		configPath string
		headless   bool
		binPath    string
		duration   int
		resetAuth  bool
	)

	flag.StringVar(&configPath, "config", "", "配置文件路径（默认查找 ./configs/config.yaml）")
	flag.BoolVar(&headless, "headless", false, "是否无头模式，默认 false（有界面，便于扫码登录）")
	flag.StringVar(&binPath, "bin", "", "浏览器二进制文件路径（可选，不传则使用 ROD_BROWSER_BIN 环境变量）")
	flag.IntVar(&duration, "duration", 0, "运行时长（分钟），0 表示一直运行到 Ctrl+C")
	flag.BoolVar(&resetAuth, "reset-auth", false, "启动前清理已保存的登录态并重新登录")
	flag.Parse()

	cfg, err := configs.Load(configPath)
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	cfg.Browser.Headless = headless
	if binPath == "" {
		binPath = os.Getenv("ROD_BROWSER_BIN")
	}
	if binPath != "" {
		cfg.Browser.BinPath = binPath
	}
	cfg.Apply()

	if len(cfg.Accounts) == 0 {
		logrus.Fatal("配置文件中没有 accounts")
	}
	if headless {
		logrus.Warn("当前以无头模式运行，首次登录时会自动切换到有头浏览器扫码")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(duration)*time.Minute)
		defer cancel()
	}

	if resetAuth {
		if err := resetAuthStates(ctx, cfg); err != nil {
			logrus.Fatalf("failed to reset auth states: %v", err)
		}
		logrus.Info("登录态已清理，将重新登录")
	}

	p, err := pilot.FromConfig(ctx, cfg, nil)
	if err != nil {
		logrus.Fatalf("failed to init pilot: %v", err)
	}
	defer p.Close()

	events, cancelEvents := p.Subscribe(256)
	defer cancelEvents()
	go logEvents(events)

	logrus.Infof("开始并行连接账号，账号数=%d", len(cfg.Accounts))
	results, err := p.ConnectAll(ctx, pilot.Plans(cfg))
	for _, res := range results {
		if res.Error != "" {
			fmt.Printf("账号 %s 连接失败：%s\n", res.Account, res.Error)
			continue
		}
		fmt.Printf("账号 %s（%s）已连接，运行中的任务: %v\n", res.Account, res.AccountName, res.Tasks)
	}
	if err != nil {
		logrus.Fatal("所有账号均未连接成功，请检查登录状态或网络情况")
	}

	<-ctx.Done()
	logrus.Info("正在停止全部账号...")
}

func logEvents(events <-chan pilot.Event) {
	for ev := range events {
		log := logrus.WithFields(logrus.Fields{"account": ev.Account, "event": ev.Type})
		switch ev.Type {
		case pilot.EventLiveMessage:
			m := ev.Message
			log.WithFields(logrus.Fields{"kind": m.Kind, "sender": m.SenderName}).Info(m.Content)
		case pilot.EventTaskStopped:
			log.WithFields(logrus.Fields{"task": ev.Task.Name, "reason": ev.Task.Reason}).Warn(ev.Task.Error)
		case pilot.EventSessionDisconnected:
			log.WithField("reason", ev.Reason).Warn("会话已断开")
		}
	}
}
