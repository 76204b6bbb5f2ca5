package browser

import (
	"fmt"
	"runtime"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/xpzouying/headless_browser"
)

type browserConfig struct {
	binPath   string
	authState AuthState
}

type Option func(*browserConfig)

func WithBinPath(binPath string) Option {
	return func(c *browserConfig) {
		c.binPath = binPath
	}
}

// WithAuthState 新浏览器实例启动时注入的登录态（cookies 部分在启动时注入）
func WithAuthState(state AuthState) Option {
	return func(c *browserConfig) {
		c.authState = state
	}
}

// NewBrowser 启动一个新的浏览器进程。
// headless_browser 内部使用 Must* 系列方法，这里把 panic 转换为 ErrLaunchFailed。
func NewBrowser(headless bool, options ...Option) (b *headless_browser.Browser, err error) {
	cfg := &browserConfig{}
	for _, opt := range options {
		opt(cfg)
	}

	opts := []headless_browser.Option{
		headless_browser.WithHeadless(headless),
	}
	if cfg.binPath != "" {
		opts = append(opts, headless_browser.WithChromeBinPath(cfg.binPath))
	}

	if len(cfg.authState) > 0 {
		cookies, cerr := cfg.authState.cookiesJSON()
		if cerr != nil {
			logrus.Warnf("failed to decode auth state cookies: %v", cerr)
		} else if len(cookies) > 0 {
			opts = append(opts, headless_browser.WithCookies(string(cookies)))
			logrus.Debug("loaded cookies from auth state")
		}
	}

	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = errors.Wrap(ErrLaunchFailed, fmt.Sprint(r))
		}
	}()

	return headless_browser.New(opts...), nil
}

// newPage 创建页面，同样需要兜住 panic
func newPage(b *headless_browser.Browser) (page *rod.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			page = nil
			err = errors.Wrap(ErrLaunchFailed, fmt.Sprintf("create page: %v", r))
		}
	}()
	return b.NewPage(), nil
}

// ConfigurePage 配置页面，应用针对特定环境的补丁（如 Windows UA 修复）
func ConfigurePage(page *rod.Page) {
	// headless_browser 内部使用了 stealth 库，默认会将 UA 伪装成 Mac Chrome，
	// Windows 下需要改回来，否则部分中控台会识别成 Mac 设备
	if runtime.GOOS == "windows" {

		ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

		// 1. 通过协议层覆盖 UA
		// 忽略错误，因为如果页面已经关闭这可能会失败，但不影响主流程
		_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent: ua,
			Platform:  "Windows",
		})

		// 2. 注入 JS 脚本覆盖 navigator 属性
		_, err := page.EvalOnNewDocument(`
			Object.defineProperty(navigator, 'platform', {
				get: () => 'Win32'
			});
			Object.defineProperty(navigator, 'userAgent', {
				get: () => '` + ua + `'
			});
			Object.defineProperty(navigator, 'vendor', {
				get: () => 'Google Inc.'
			});
		`)
		if err != nil {
			logrus.Warnf("failed to set user agent script: %v", err)
		}

		logrus.Info("已修正 Windows 环境下的 User-Agent 设置")
	}
}
