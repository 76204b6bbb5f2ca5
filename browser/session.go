package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/xpzouying/headless_browser"
)

// Session 一个账号独占的浏览器进程 + 页面
type Session interface {
	// Page 主页面（中控台）
	Page() *rod.Page
	Headless() bool
	// CaptureAuthState 抓取当前登录态
	CaptureAuthState(ctx context.Context) (AuthState, error)
	// OpenPage 在同一个浏览器里打开辅助页面
	OpenPage(ctx context.Context, url string) (*rod.Page, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// Closed 主页面被关闭（用户手动关闭或调用 Close）时关闭
	Closed() <-chan struct{}
	Close() error
}

// LaunchOptions 会话启动参数
type LaunchOptions struct {
	Headless       bool      `json:"headless"`
	AuthState      AuthState `json:"-"`
	ExecutablePath string    `json:"executable_path,omitempty"`
}

// Launcher 创建新会话，登录状态机通过它完成有头/无头切换
type Launcher interface {
	CreateSession(ctx context.Context, opts LaunchOptions) (Session, error)
}

type browserSession struct {
	hb       *headless_browser.Browser
	page     *rod.Page
	headless bool

	mu       sync.Mutex
	auxPages []*rod.Page

	closed    chan struct{}
	closeOnce sync.Once
}

func newBrowserSession(hb *headless_browser.Browser, page *rod.Page, headless bool) *browserSession {
	s := &browserSession{
		hb:       hb,
		page:     page,
		headless: headless,
		closed:   make(chan struct{}),
	}
	go s.watchClose()
	return s
}

func (s *browserSession) Page() *rod.Page { return s.page }

func (s *browserSession) Headless() bool { return s.headless }

func (s *browserSession) Closed() <-chan struct{} { return s.closed }

func (s *browserSession) CaptureAuthState(ctx context.Context) (AuthState, error) {
	if s.isClosed() {
		return nil, ErrPageClosed
	}
	return captureAuthState(ctx, s.page)
}

func (s *browserSession) OpenPage(ctx context.Context, url string) (*rod.Page, error) {
	if s.isClosed() {
		return nil, ErrPageClosed
	}
	page, err := stealth.Page(s.page.Browser())
	if err != nil {
		return nil, errors.Wrap(err, "create stealth page")
	}
	ConfigurePage(page)
	if err := page.Context(ctx).Navigate(url); err != nil {
		_ = page.Close()
		return nil, errors.Wrapf(err, "navigate %s", url)
	}

	s.mu.Lock()
	s.auxPages = append(s.auxPages, page)
	s.mu.Unlock()
	return page, nil
}

func (s *browserSession) Screenshot(ctx context.Context) ([]byte, error) {
	if s.isClosed() {
		return nil, ErrPageClosed
	}
	return s.page.Context(ctx).Screenshot(false, nil)
}

func (s *browserSession) Close() error {
	s.markClosed()

	s.mu.Lock()
	aux := s.auxPages
	s.auxPages = nil
	s.mu.Unlock()
	for _, p := range aux {
		_ = p.Close()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logrus.Warnf("close browser panic: %v", r)
			}
		}()
		s.hb.Close()
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logrus.Warn("关闭浏览器超时")
	}
	return nil
}

func (s *browserSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *browserSession) markClosed() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// watchClose 主页面的 target 被销毁（或浏览器断开）时标记会话关闭
func (s *browserSession) watchClose() {
	b := s.page.Browser()
	_ = proto.TargetSetDiscoverTargets{Discover: true}.Call(b)

	targetID := s.page.TargetID
	wait := b.EachEvent(func(e *proto.TargetTargetDestroyed) bool {
		return e.TargetID == targetID
	})
	wait()

	if !s.isClosed() {
		logrus.WithField("target", targetID).Info("页面已被关闭")
	}
	s.markClosed()
}
