package login

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/go-rod/rod"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpzouying/livepilot/browser"
	"github.com/xpzouying/livepilot/platform"
)

const validAuth = "valid-cookies"

// journal 记录事件发生的先后顺序
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type fakeSession struct {
	id         int
	headless   bool
	auth       browser.AuthState
	captureErr error
	j          *journal
	closed     chan struct{}
	once       sync.Once
}

func (s *fakeSession) Page() *rod.Page { return nil }
func (s *fakeSession) Headless() bool  { return s.headless }
func (s *fakeSession) CaptureAuthState(ctx context.Context) (browser.AuthState, error) {
	s.j.add("capture#%d", s.id)
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	return s.auth, nil
}
func (s *fakeSession) OpenPage(ctx context.Context, url string) (*rod.Page, error) { return nil, nil }
func (s *fakeSession) Screenshot(ctx context.Context) ([]byte, error)               { return nil, nil }
func (s *fakeSession) Closed() <-chan struct{}                                      { return s.closed }
func (s *fakeSession) Close() error {
	s.once.Do(func() {
		s.j.add("close#%d", s.id)
		close(s.closed)
	})
	return nil
}

type fakeLauncher struct {
	j          *journal
	sessions   []*fakeSession
	failAt     int
	captureErr error
}

func (l *fakeLauncher) CreateSession(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	n := len(l.sessions) + 1
	if l.failAt == n {
		return nil, errors.Wrap(browser.ErrLaunchFailed, "boom")
	}
	l.j.add("launch#%d headless=%v auth=%s", n, opts.Headless, opts.AuthState)
	s := &fakeSession{id: n, headless: opts.Headless, auth: opts.AuthState, captureErr: l.captureErr, j: l.j, closed: make(chan struct{})}
	l.sessions = append(l.sessions, s)
	return s, nil
}

// fakeAdapter 会话带有合法登录态时直接进入中控台；Login 之后会话获得合法登录态
type fakeAdapter struct {
	j          *journal
	connectErr error
	loginErr   error
	// rejectAll 登录态永远无效
	rejectAll bool
}

func (a *fakeAdapter) Connect(ctx context.Context, sess browser.Session) (bool, error) {
	s := sess.(*fakeSession)
	a.j.add("connect#%d", s.id)
	if a.connectErr != nil {
		return false, a.connectErr
	}
	return !a.rejectAll && string(s.auth) == validAuth, nil
}

func (a *fakeAdapter) Login(ctx context.Context, sess browser.Session) error {
	s := sess.(*fakeSession)
	a.j.add("login#%d", s.id)
	if a.loginErr != nil {
		return a.loginErr
	}
	s.auth = browser.AuthState(validAuth)
	return nil
}

func (a *fakeAdapter) AccountName(ctx context.Context, sess browser.Session) (string, error) {
	a.j.add("name#%d", sess.(*fakeSession).id)
	return "小店", nil
}

func (a *fakeAdapter) Disconnect() {}

type hookAdapter struct {
	*fakeAdapter
}

func (a hookAdapter) AfterLogin(ctx context.Context, sess browser.Session) error {
	a.j.add("hook#%d", sess.(*fakeSession).id)
	return nil
}

func setup() (*journal, *fakeLauncher, *fakeAdapter) {
	j := &journal{}
	return j, &fakeLauncher{j: j}, &fakeAdapter{j: j}
}

func TestValidAuthStateSkipsLogin(t *testing.T) {
	j, l, a := setup()
	res, err := NewManager(l).Run(context.Background(), Request{
		Account: "acc",
		Adapter: a,
		Launch:  browser.LaunchOptions{Headless: true, AuthState: browser.AuthState(validAuth)},
	})
	require.NoError(t, err)

	assert.Equal(t, []State{StateCheckingAccess, StateAuthenticated, StateReady}, res.Trace)
	assert.Equal(t, 0, res.Failovers)
	assert.Equal(t, "小店", res.AccountName)
	assert.Equal(t, browser.AuthState(validAuth), res.AuthState)
	assert.Len(t, l.sessions, 1)
	assert.NotContains(t, j.list(), "login#1")
}

func TestHeadlessFailover(t *testing.T) {
	j, l, a := setup()
	res, err := NewManager(l).Run(context.Background(), Request{
		Account: "acc",
		Adapter: a,
		Launch:  browser.LaunchOptions{Headless: true},
	})
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateCheckingAccess, StateNeedsLogin, StateHeadlessFailover,
		StateCheckingAccess, StateNeedsLogin, StateInteractiveLogin, StateRestoringHeadless,
		StateCheckingAccess, StateAuthenticated, StateReady,
	}, res.Trace)
	assert.Equal(t, 1, res.Failovers)
	assert.True(t, res.Session.Headless())
	assert.Equal(t, browser.AuthState(validAuth), res.AuthState)

	assert.Equal(t, []string{
		"launch#1 headless=true auth=",
		"connect#1",
		"close#1",
		"launch#2 headless=false auth=",
		"connect#2",
		"login#2",
		"capture#2",
		"close#2",
		"launch#3 headless=true auth=" + validAuth,
		"connect#3",
		"name#3",
	}, j.list())

	require.Len(t, l.sessions, 3)
	assert.Same(t, l.sessions[2], res.Session)
}

func TestHeadfulLoginWithoutFailover(t *testing.T) {
	_, l, a := setup()
	res, err := NewManager(l).Run(context.Background(), Request{
		Account: "acc",
		Adapter: a,
		Launch:  browser.LaunchOptions{Headless: false},
	})
	require.NoError(t, err)

	assert.Equal(t, []State{StateCheckingAccess, StateNeedsLogin, StateInteractiveLogin, StateAuthenticated, StateReady}, res.Trace)
	assert.Equal(t, 0, res.Failovers)
	assert.False(t, res.Session.Headless())
	assert.Len(t, l.sessions, 1)
}

// 抓取的登录态用于新会话时不会再次进入 NeedsLogin
func TestAuthStateRoundTrip(t *testing.T) {
	_, l, a := setup()
	m := NewManager(l)

	first, err := m.Run(context.Background(), Request{Account: "acc", Adapter: a, Launch: browser.LaunchOptions{Headless: false}})
	require.NoError(t, err)
	_ = first.Session.Close()

	second, err := m.Run(context.Background(), Request{
		Account: "acc",
		Adapter: a,
		Launch:  browser.LaunchOptions{Headless: true, AuthState: first.AuthState},
	})
	require.NoError(t, err)
	assert.NotContains(t, second.Trace, StateNeedsLogin)
	assert.Equal(t, 0, second.Failovers)
}

func TestFailoverAtMostOnce(t *testing.T) {
	j, l, a := setup()
	a.rejectAll = true

	_, err := NewManager(l).Run(context.Background(), Request{Account: "acc", Adapter: a, Launch: browser.LaunchOptions{Headless: true}})
	assert.ErrorIs(t, err, platform.ErrLoginFailed)

	assert.Len(t, l.sessions, 3, "只切换一次")
	for _, s := range l.sessions {
		select {
		case <-s.closed:
		default:
			t.Fatalf("session %d not closed", s.id)
		}
	}
	assert.Equal(t, 1, countPrefix(j.list(), "login#"))
}

func TestFatalErrors(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(l *fakeLauncher, a *fakeAdapter)
		wantErr error
	}{
		{
			name:    "启动失败",
			prepare: func(l *fakeLauncher, a *fakeAdapter) { l.failAt = 1 },
			wantErr: browser.ErrLaunchFailed,
		},
		{
			name:    "切换时启动失败",
			prepare: func(l *fakeLauncher, a *fakeAdapter) { l.failAt = 2 },
			wantErr: browser.ErrLaunchFailed,
		},
		{
			name:    "导航失败",
			prepare: func(l *fakeLauncher, a *fakeAdapter) { a.connectErr = errors.Wrap(platform.ErrNavigation, "timeout") },
			wantErr: platform.ErrNavigation,
		},
		{
			name:    "登录失败",
			prepare: func(l *fakeLauncher, a *fakeAdapter) { a.loginErr = errors.Wrap(platform.ErrLoginFailed, "page crashed") },
			wantErr: platform.ErrLoginFailed,
		},
		{
			name:    "取消",
			prepare: func(l *fakeLauncher, a *fakeAdapter) { a.loginErr = context.Canceled },
			wantErr: context.Canceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, l, a := setup()
			tt.prepare(l, a)

			res, err := NewManager(l).Run(context.Background(), Request{Account: "acc", Adapter: a, Launch: browser.LaunchOptions{Headless: true}})
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, platform.IsRetryable(err))
			for _, s := range l.sessions {
				select {
				case <-s.closed:
				default:
					t.Fatalf("session %d leaked", s.id)
				}
			}
		})
	}
}

func TestPostLoginHookRunsBeforeAccountName(t *testing.T) {
	j, l, a := setup()
	_, err := NewManager(l).Run(context.Background(), Request{
		Account: "acc",
		Adapter: hookAdapter{a},
		Launch:  browser.LaunchOptions{Headless: false, AuthState: browser.AuthState(validAuth)},
	})
	require.NoError(t, err)

	events := j.list()
	hook, name := indexOf(events, "hook#1"), indexOf(events, "name#1")
	require.GreaterOrEqual(t, hook, 0)
	assert.Less(t, hook, name)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "headless_failover", StateHeadlessFailover.String())
	assert.Equal(t, "state(99)", State(99).String())
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func countPrefix(list []string, prefix string) int {
	n := 0
	for _, v := range list {
		if len(v) >= len(prefix) && v[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func TestCaptureErrorKeepsCause(t *testing.T) {
	_, l, a := setup()
	l.captureErr = errors.Wrap(browser.ErrPageClosed, "target closed")

	res, err := NewManager(l).Run(context.Background(), Request{Account: "acc", Adapter: a, Launch: browser.LaunchOptions{Headless: false}})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, platform.ErrLoginFailed)
	assert.ErrorIs(t, err, browser.ErrPageClosed)
	assert.Contains(t, err.Error(), "target closed")
	assert.False(t, platform.IsRetryable(err))
}
