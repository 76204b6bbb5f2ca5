// Package login 连接账号时的登录状态机。
//
//	CheckingAccess -> Authenticated | NeedsLogin
//	NeedsLogin     -> HeadlessFailover（无头，且本次还没有切换过）| InteractiveLogin（有头）
//	HeadlessFailover  : 关闭无头浏览器，以有头模式重新启动，回到 CheckingAccess
//	InteractiveLogin  : 等待用户登录，立即抓取登录态；如果是切换出来的有头会话，进入 RestoringHeadless
//	RestoringHeadless : 关闭有头浏览器，带着新的登录态重新启动无头浏览器，回到 CheckingAccess
//	Authenticated     : 执行登录后钩子、读取账号名 -> Ready
//
// 每次连接最多切换一次，切换回无头后仍然需要登录视为失败。
package login

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/browser"
	"github.com/xpzouying/livepilot/metrics"
	"github.com/xpzouying/livepilot/platform"
)

// State 登录状态
type State int

const (
	StateCheckingAccess State = iota
	StateAuthenticated
	StateNeedsLogin
	StateHeadlessFailover
	StateInteractiveLogin
	StateRestoringHeadless
	StateReady
	StateFatal
)

var stateNames = map[State]string{
	StateCheckingAccess:    "checking_access",
	StateAuthenticated:     "authenticated",
	StateNeedsLogin:        "needs_login",
	StateHeadlessFailover:  "headless_failover",
	StateInteractiveLogin:  "interactive_login",
	StateRestoringHeadless: "restoring_headless",
	StateReady:             "ready",
	StateFatal:             "fatal",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const (
	maxFailovers = 1
	// maxSteps 状态转移次数上限，正常流程最多 10 步
	maxSteps = 16
)

// Request 一次连接
type Request struct {
	Account string
	Adapter platform.Adapter
	Launch  browser.LaunchOptions
}

// Result 连接成功后的会话与登录态
type Result struct {
	Session     browser.Session
	AuthState   browser.AuthState
	AccountName string
	Failovers   int
	// Trace 经过的状态
	Trace []State
}

// Manager 登录状态机
type Manager struct {
	launcher browser.Launcher
}

func NewManager(l browser.Launcher) *Manager {
	return &Manager{launcher: l}
}

type run struct {
	req       Request
	log       *logrus.Entry
	sess      browser.Session
	auth      browser.AuthState
	fresh     bool
	restore   bool
	failovers int
	trace     []State
}

// Run 执行状态机直到 Ready 或 Fatal。失败时已启动的浏览器都会被关闭。
func (m *Manager) Run(ctx context.Context, req Request) (*Result, error) {
	r := &run{
		req:  req,
		log:  logrus.WithField("account", req.Account),
		auth: req.Launch.AuthState,
	}

	sess, err := m.launch(ctx, req.Launch.Headless, r.auth, req.Launch.ExecutablePath)
	if err != nil {
		metrics.LoginResults.WithLabelValues("fatal").Inc()
		return nil, err
	}
	r.sess = sess

	res, err := m.loop(ctx, r)
	if err != nil {
		r.trace = append(r.trace, StateFatal)
		r.log.WithError(err).WithField("trace", r.trace).Error("连接失败")
		if r.sess != nil {
			_ = r.sess.Close()
		}
		metrics.LoginResults.WithLabelValues("fatal").Inc()
		return nil, err
	}
	metrics.LoginResults.WithLabelValues("ready").Inc()
	return res, nil
}

func (m *Manager) loop(ctx context.Context, r *run) (*Result, error) {
	adapter := r.req.Adapter
	state := StateCheckingAccess

	for step := 0; step < maxSteps; step++ {
		r.trace = append(r.trace, state)
		r.log.WithField("state", state).Debug("登录状态")

		switch state {
		case StateCheckingAccess:
			ok, err := adapter.Connect(ctx, r.sess)
			if err != nil {
				return nil, errors.Wrap(err, "check access")
			}
			if ok {
				state = StateAuthenticated
			} else {
				state = StateNeedsLogin
			}

		case StateNeedsLogin:
			switch {
			case !r.sess.Headless():
				state = StateInteractiveLogin
			case r.failovers < maxFailovers:
				state = StateHeadlessFailover
			default:
				return nil, errors.Wrap(platform.ErrLoginFailed, "still on login page after headless failover")
			}

		case StateHeadlessFailover:
			r.failovers++
			metrics.LoginFailovers.Inc()
			r.log.Info("无头模式需要登录，切换到有头模式")
			if err := m.relaunch(ctx, r, false); err != nil {
				return nil, err
			}
			r.restore = true
			state = StateCheckingAccess

		case StateInteractiveLogin:
			if err := adapter.Login(ctx, r.sess); err != nil {
				return nil, errors.Wrap(err, "interactive login")
			}
			// 切换模式之前先保存登录态
			if err := r.capture(ctx); err != nil {
				return nil, errors.Wrap(&captureError{cause: err}, "capture auth state")
			}
			if r.restore {
				state = StateRestoringHeadless
			} else {
				state = StateAuthenticated
			}

		case StateRestoringHeadless:
			r.log.Info("登录完成，切换回无头模式")
			if err := m.relaunch(ctx, r, true); err != nil {
				return nil, err
			}
			r.restore = false
			state = StateCheckingAccess

		case StateAuthenticated:
			if r.restore {
				// 有头会话没有经过登录就已经可用，同样带着登录态切回无头
				if err := r.capture(ctx); err != nil {
					return nil, errors.Wrap(&captureError{cause: err}, "capture auth state")
				}
				state = StateRestoringHeadless
				continue
			}
			return m.ready(ctx, r)

		default:
			return nil, errors.Errorf("unexpected login state %s", state)
		}
	}
	return nil, errors.Wrapf(platform.ErrLoginFailed, "login did not settle after %d steps", maxSteps)
}

func (m *Manager) ready(ctx context.Context, r *run) (*Result, error) {
	adapter := r.req.Adapter
	if hook, ok := adapter.(platform.PostLoginHook); ok {
		if err := hook.AfterLogin(ctx, r.sess); err != nil {
			return nil, errors.Wrap(err, "post login hook")
		}
	}

	name, err := adapter.AccountName(ctx, r.sess)
	if err != nil {
		r.log.WithError(err).Warn("读取账号名失败")
	}

	if !r.fresh {
		// cookie 可能已经轮换，尽量保存最新的登录态
		if err := r.capture(ctx); err != nil {
			r.log.WithError(err).Warn("刷新登录态失败，沿用旧的登录态")
		}
	}

	r.trace = append(r.trace, StateReady)
	r.log.WithFields(logrus.Fields{
		"account_name": name,
		"headless":     r.sess.Headless(),
		"failovers":    r.failovers,
	}).Info("账号已连接")

	return &Result{
		Session:     r.sess,
		AuthState:   r.auth,
		AccountName: name,
		Failovers:   r.failovers,
		Trace:       r.trace,
	}, nil
}

// captureError 抓取登录态失败。归为 ErrLoginFailed，同时保留底层原因供 errors.Is 判断。
type captureError struct {
	cause error
}

func (e *captureError) Error() string {
	return fmt.Sprintf("%v: %v", platform.ErrLoginFailed, e.cause)
}

func (e *captureError) Is(target error) bool {
	return target == platform.ErrLoginFailed
}

func (e *captureError) Unwrap() error {
	return e.cause
}

func (r *run) capture(ctx context.Context) error {
	state, err := r.sess.CaptureAuthState(ctx)
	if err != nil {
		return err
	}
	r.auth = state
	r.fresh = true
	return nil
}

func (m *Manager) relaunch(ctx context.Context, r *run, headless bool) error {
	_ = r.sess.Close()
	r.sess = nil

	sess, err := m.launch(ctx, headless, r.auth, r.req.Launch.ExecutablePath)
	if err != nil {
		return err
	}
	r.sess = sess
	return nil
}

func (m *Manager) launch(ctx context.Context, headless bool, auth browser.AuthState, bin string) (browser.Session, error) {
	return m.launcher.CreateSession(ctx, browser.LaunchOptions{
		Headless:       headless,
		AuthState:      auth,
		ExecutablePath: bin,
	})
}
