package pilot

import (
	"context"

	"github.com/xpzouying/livepilot/browser"
	"github.com/xpzouying/livepilot/comment"
	"github.com/xpzouying/livepilot/configs"
	"github.com/xpzouying/livepilot/cookies"
	"github.com/xpzouying/livepilot/locator"
	"github.com/xpzouying/livepilot/platform"
	"github.com/xpzouying/livepilot/site"
	"github.com/xpzouying/livepilot/task"
)

// FromConfig 按配置注册站点、打开登录态存储并创建 Pilot
func FromConfig(ctx context.Context, cfg *configs.Config, broadcaster comment.Broadcaster) (*Pilot, error) {
	sessions := browser.GetGlobalManager()
	sessions.SetConfig(configs.GetBinPath(), cfg.Browser.LaunchTimeout)

	reg := platform.NewRegistry()
	if err := site.RegisterAll(reg, withLocatorDefaults(cfg.Sites, cfg.Locator)); err != nil {
		return nil, err
	}

	store, err := cookies.Open(ctx, cfg.AuthStore)
	if err != nil {
		return nil, err
	}

	return New(Options{
		Platforms:   reg,
		Sessions:    sessions,
		AuthStore:   store,
		Broadcaster: broadcaster,
		Retry: task.RetryPolicy{
			MaxRetries: cfg.Retry.MaxRetries,
			Delay:      cfg.Retry.Delay,
		},
		ScreenshotDir:  cfg.Browser.ScreenshotDir,
		RecentMessages: cfg.Live.RecentMessages,
		EventBuffer:    cfg.Live.EventBuffer,
	}), nil
}

// withLocatorDefaults 站点没有单独配置商品列表查找参数时使用全局参数
func withLocatorDefaults(profiles []site.Profile, defaults locator.Options) []site.Profile {
	out := make([]site.Profile, len(profiles))
	for i, p := range profiles {
		if p.Goods != nil && p.Goods.Locator == (locator.Options{}) {
			g := *p.Goods
			g.Locator = defaults
			p.Goods = &g
		}
		out[i] = p
	}
	return out
}

// Plans 把配置中的账号转换为 ConnectAll 的参数
func Plans(cfg *configs.Config) []AccountPlan {
	plans := make([]AccountPlan, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		headless := configs.IsHeadless()
		if a.Headless != nil {
			headless = *a.Headless
		}
		plans = append(plans, AccountPlan{
			ID:       a.ID,
			Platform: a.Platform,
			Launch:   browser.LaunchOptions{Headless: headless, ExecutablePath: configs.GetBinPath()},
			Listen:   platform.Source(a.Listen),
			Tasks:    a.Tasks,
		})
	}
	return plans
}
