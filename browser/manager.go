package browser

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/xpzouying/headless_browser"

	"github.com/xpzouying/livepilot/metrics"
)

const defaultLaunchTimeout = 60 * time.Second

// Manager 浏览器会话管理器。
// 每次 CreateSession 都会启动全新的浏览器进程，进程不会在账号之间复用；
// 已连接账号的会话表由 Manager 统一维护（单写者）。
type Manager struct {
	mu            sync.Mutex
	sessions      map[string]Session
	binPath       string
	launchTimeout time.Duration

	launch  func(headless bool, options ...Option) (*headless_browser.Browser, error)
	resolve func(explicit string) (string, error)
}

var (
	globalManager     *Manager
	globalManagerOnce sync.Once
)

// GetGlobalManager 获取全局浏览器管理器（单例）
func GetGlobalManager() *Manager {
	globalManagerOnce.Do(func() {
		globalManager = NewManager()
	})
	return globalManager
}

func NewManager() *Manager {
	return &Manager{
		sessions:      make(map[string]Session),
		launchTimeout: defaultLaunchTimeout,
		launch:        NewBrowser,
		resolve:       ResolveExecutable,
	}
}

// SetConfig 设置默认浏览器路径与启动超时
func (m *Manager) SetConfig(binPath string, launchTimeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binPath = binPath
	if launchTimeout > 0 {
		m.launchTimeout = launchTimeout
	}
}

// CreateSession 启动新的浏览器进程并打开主页面。
// 启动失败（找不到浏览器、启动超时）属于致命错误，不做重试。
func (m *Manager) CreateSession(ctx context.Context, opts LaunchOptions) (Session, error) {
	m.mu.Lock()
	binPath := opts.ExecutablePath
	if binPath == "" {
		binPath = m.binPath
	}
	timeout := m.launchTimeout
	m.mu.Unlock()

	bin, err := m.resolve(binPath)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"headless":   opts.Headless,
		"bin":        bin,
		"auth_state": len(opts.AuthState) > 0,
	}).Info("创建新的浏览器实例...")

	ch := make(chan launched, 1)
	go func() {
		hb, err := m.launch(opts.Headless, WithBinPath(bin), WithAuthState(opts.AuthState))
		if err != nil {
			ch <- launched{err: err}
			return
		}
		page, err := newPage(hb)
		if err != nil {
			hb.Close()
			ch <- launched{err: err}
			return
		}
		ConfigurePage(page)
		if err := restoreLocalStorage(page, opts.AuthState); err != nil {
			logrus.Warnf("failed to restore local storage: %v", err)
		}
		ch <- launched{sess: newBrowserSession(hb, page, opts.Headless)}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		logrus.Info("✓ 浏览器实例创建成功")
		return r.sess, nil
	case <-timer.C:
		go discardLaunch(ch)
		return nil, errors.Wrapf(ErrLaunchFailed, "launch timeout after %s", timeout)
	case <-ctx.Done():
		go discardLaunch(ch)
		return nil, errors.Wrap(ErrLaunchFailed, ctx.Err().Error())
	}
}

type launched struct {
	sess *browserSession
	err  error
}

// discardLaunch 超时之后仍然成功启动的进程需要关掉，避免泄漏
func discardLaunch(ch chan launched) {
	r := <-ch
	if r.sess != nil {
		_ = r.sess.Close()
	}
}

// Attach 绑定账号与会话，返回被替换的旧会话（如果有）
func (m *Manager) Attach(account string, s Session) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.sessions[account]
	m.sessions[account] = s
	metrics.Sessions.Set(float64(len(m.sessions)))
	return old
}

// Session 获取账号当前的会话
func (m *Manager) Session(account string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[account]
	return s, ok
}

// Detach 仅当账号当前绑定的仍是 s 时才移除
func (m *Manager) Detach(account string, s Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[account]; ok && cur == s {
		delete(m.sessions, account)
		metrics.Sessions.Set(float64(len(m.sessions)))
		return true
	}
	return false
}

// Len 当前存活的会话数
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll 关闭并清理全部会话
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]Session)
	metrics.Sessions.Set(0)
	m.mu.Unlock()

	for account, s := range sessions {
		logrus.WithField("account", account).Info("关闭浏览器实例...")
		_ = s.Close()
	}
}
