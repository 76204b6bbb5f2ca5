// Package pilot 面向上层（HTTP / MCP / 多账号启动器）的统一入口：
// 按账号管理会话、任务与消息监听，并把消息、任务停止、会话断开推送到事件流。
package pilot

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/browser"
	"github.com/xpzouying/livepilot/comment"
	"github.com/xpzouying/livepilot/cookies"
	"github.com/xpzouying/livepilot/login"
	"github.com/xpzouying/livepilot/platform"
	"github.com/xpzouying/livepilot/registry"
	"github.com/xpzouying/livepilot/task"
)

var ErrClosed = errors.New("pilot closed")

// Options Pilot 的依赖
type Options struct {
	Platforms *platform.Registry
	// Launcher 启动浏览器，通常就是 Sessions
	Launcher browser.Launcher
	Sessions *browser.Manager
	// AuthStore 可选，连接成功后保存登录态，连接时未传登录态则从这里读取
	AuthStore cookies.Store
	// Broadcaster 可选，直播间消息的 WebSocket 广播
	Broadcaster comment.Broadcaster

	Retry         task.RetryPolicy
	ScreenshotDir string

	RecentMessages int
	EventBuffer    int
}

// ConnectResult 连接成功后返回给调用方的登录态与账号名
type ConnectResult struct {
	AuthState   browser.AuthState `json:"-"`
	AccountName string            `json:"account_name"`
	Failovers   int               `json:"failovers"`
}

// AccountInfo 账号快照
type AccountInfo struct {
	ID          string          `json:"id"`
	Platform    string          `json:"platform"`
	AccountName string          `json:"account_name,omitempty"`
	Connected   bool            `json:"connected"`
	Connecting  bool            `json:"connecting,omitempty"`
	Headless    bool            `json:"headless"`
	Listening   platform.Source `json:"listening,omitempty"`
	Tasks       int             `json:"tasks"`
}

// pending 正在进行的连接
type pending struct {
	cancel context.CancelFunc
}

type account struct {
	id string

	// mu 串行化同一账号的所有变更
	mu        sync.Mutex
	platform  string
	name      string
	sess      browser.Session
	adapter   platform.Adapter
	unbind    func()
	listening platform.Source
	ring      *comment.Ring
}

// Pilot 多账号编排器
type Pilot struct {
	opts  Options
	login *login.Manager
	tasks *registry.Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	accounts   map[string]*account
	connecting map[string]*pending

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
	closed  bool
}

func New(opts Options) *Pilot {
	if opts.Platforms == nil {
		opts.Platforms = platform.NewRegistry()
	}
	if opts.Sessions == nil {
		opts.Sessions = browser.GetGlobalManager()
	}
	if opts.Launcher == nil {
		opts.Launcher = opts.Sessions
	}
	if opts.Retry.MaxRetries <= 0 {
		opts.Retry = task.DefaultRetryPolicy()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pilot{
		opts:       opts,
		login:      login.NewManager(opts.Launcher),
		tasks:      registry.New(),
		ctx:        ctx,
		cancel:     cancel,
		accounts:   make(map[string]*account),
		connecting: make(map[string]*pending),
		subs:       make(map[int]chan Event),
	}
}

func (p *Pilot) entry(id string, create bool) *account {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[id]
	if !ok && create {
		acc = &account{id: id, ring: comment.NewRing(p.opts.RecentMessages)}
		p.accounts[id] = acc
	}
	return acc
}

// connected 加锁后返回账号，未连接时返回 ErrNotConnected。调用方负责解锁。
func (p *Pilot) connected(id string) (*account, error) {
	acc := p.entry(id, false)
	if acc == nil {
		return nil, errors.Wrapf(platform.ErrNotConnected, "account %s", id)
	}
	acc.mu.Lock()
	if acc.sess == nil {
		acc.mu.Unlock()
		return nil, errors.Wrapf(platform.ErrNotConnected, "account %s", id)
	}
	return acc, nil
}

// Connect 为账号启动浏览器并完成登录。已连接的账号会先断开旧会话。
// 登录等待没有超时，只能通过 ctx 或 Disconnect 取消。
func (p *Pilot) Connect(ctx context.Context, id, kind string, opts browser.LaunchOptions) (*ConnectResult, error) {
	if p.ctx.Err() != nil {
		return nil, ErrClosed
	}
	adapter, err := p.opts.Platforms.New(kind)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"account": id, "platform": kind})

	if len(opts.AuthState) == 0 && p.opts.AuthStore != nil {
		state, err := p.opts.AuthStore.Load(ctx, id)
		switch {
		case err == nil:
			opts.AuthState = state
			log.Info("使用已保存的登录态")
		case !errors.Is(err, cookies.ErrNotFound):
			log.WithError(err).Warn("读取登录态失败，将重新登录")
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cur := &pending{cancel: cancel}
	p.mu.Lock()
	if prev, ok := p.connecting[id]; ok {
		prev.cancel()
	}
	p.connecting[id] = cur
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.connecting[id] == cur {
			delete(p.connecting, id)
		}
		p.mu.Unlock()
	}()

	acc := p.entry(id, true)
	acc.mu.Lock()
	if acc.sess != nil {
		log.Info("账号已连接，先断开旧会话")
		p.teardown(acc, "replaced")
	}
	acc.mu.Unlock()

	// 扫码登录可能持续数分钟，期间不持有账号锁
	res, err := p.login.Run(ctx, login.Request{Account: id, Adapter: adapter, Launch: opts})
	if err != nil {
		adapter.Disconnect()
		return nil, err
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	// 登录期间被 Disconnect、新的 Connect 或 Close 取消
	if err := ctx.Err(); err != nil {
		adapter.Disconnect()
		_ = res.Session.Close()
		if p.ctx.Err() != nil {
			return nil, ErrClosed
		}
		return nil, errors.Wrapf(err, "connect %s canceled", id)
	}
	if acc.sess != nil {
		p.teardown(acc, "replaced")
	}

	if p.opts.AuthStore != nil {
		if err := p.opts.AuthStore.Save(ctx, id, res.AuthState); err != nil {
			log.WithError(err).Warn("保存登录态失败")
		}
	}

	sess := res.Session
	acc.platform = kind
	acc.name = res.AccountName
	acc.sess = sess
	acc.adapter = adapter
	if old := p.opts.Sessions.Attach(id, sess); old != nil && old != sess {
		_ = old.Close()
	}
	acc.unbind = p.tasks.BindPage(id, sess.Closed(), func() {
		p.pageClosed(acc, sess)
	})

	log.WithField("name", res.AccountName).Info("账号已连接")
	return &ConnectResult{
		AuthState:   res.AuthState,
		AccountName: res.AccountName,
		Failovers:   res.Failovers,
	}, nil
}

// pageClosed 页面被关闭后的清理，任务已由 registry 停止
func (p *Pilot) pageClosed(acc *account, sess browser.Session) {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	if acc.sess != sess {
		return
	}
	p.release(acc)
	// 页面关了浏览器进程还在，一并关闭
	_ = sess.Close()
	logrus.WithField("account", acc.id).Warn("页面已关闭，会话已移除")
	p.emit(Event{Type: EventSessionDisconnected, Account: acc.id, Reason: "page_closed"})
}

// teardown 主动断开，调用方持有 acc.mu
func (p *Pilot) teardown(acc *account, reason string) {
	if acc.unbind != nil {
		acc.unbind()
	}
	p.tasks.StopAll(acc.id)
	sess := acc.sess
	p.release(acc)
	if sess != nil {
		_ = sess.Close()
	}
	p.emit(Event{Type: EventSessionDisconnected, Account: acc.id, Reason: reason})
}

// release 停止监听、释放适配器并移除会话，不关闭浏览器
func (p *Pilot) release(acc *account) {
	if acc.adapter != nil {
		if l, ok := platform.AsListener(acc.adapter); ok && acc.listening != "" {
			l.StopListening()
		}
		acc.adapter.Disconnect()
	}
	if acc.sess != nil {
		p.opts.Sessions.Detach(acc.id, acc.sess)
	}
	acc.sess = nil
	acc.adapter = nil
	acc.unbind = nil
	acc.listening = ""
}

// Disconnect 停止账号的全部任务和监听并关闭浏览器；正在进行的连接会被取消
func (p *Pilot) Disconnect(id string) error {
	p.mu.Lock()
	c, pendingConnect := p.connecting[id]
	if pendingConnect {
		c.cancel()
	}
	p.mu.Unlock()

	acc, err := p.connected(id)
	if err != nil {
		if pendingConnect {
			logrus.WithField("account", id).Info("已取消正在进行的连接")
			return nil
		}
		return err
	}
	defer acc.mu.Unlock()

	p.teardown(acc, "manual")
	logrus.WithField("account", id).Info("账号已断开")
	return nil
}

// StartTask 创建并启动任务，同名任务会先被停止
func (p *Pilot) StartTask(id, name string, cfg task.Config) (task.Info, error) {
	acc, err := p.connected(id)
	if err != nil {
		return task.Info{}, err
	}
	defer acc.mu.Unlock()

	adapter, sess := acc.adapter, acc.sess
	factory := func() (*task.Task, error) {
		return task.New(id, name, cfg, adapter, task.Options{
			Retry:    p.opts.Retry,
			Diagnose: p.diagnose(sess),
			OnStop:   p.taskStopped,
		})
	}
	// 任务的生命周期跟随 Pilot，不跟随发起请求的 ctx
	t, err := p.tasks.StartTask(p.ctx, id, name, factory)
	if err != nil {
		return task.Info{}, err
	}
	return t.Info(), nil
}

func (p *Pilot) diagnose(sess browser.Session) task.DiagnoseFunc {
	return func(_ context.Context, t *task.Task, err error) {
		path, serr := browser.SaveScreenshot(sess, p.opts.ScreenshotDir, t.Account()+"_"+t.Name())
		log := logrus.WithFields(logrus.Fields{"account": t.Account(), "task": t.Name()})
		if serr != nil {
			log.WithError(serr).Warn("保存诊断截图失败")
			return
		}
		log.WithError(err).WithField("screenshot", path).Warn("任务最终失败，已保存截图")
	}
}

func (p *Pilot) taskStopped(t *task.Task, reason task.StopReason, err error) {
	ts := &TaskStopped{ID: t.ID(), Name: t.Name(), Reason: string(reason)}
	if err != nil {
		ts.Error = err.Error()
	}
	p.emit(Event{Type: EventTaskStopped, Account: t.Account(), Task: ts})
}

func (p *Pilot) StopTask(id, name string) error {
	return p.tasks.StopTask(id, name)
}

// UpdateTaskConfig 校验失败时保留原配置
func (p *Pilot) UpdateTaskConfig(id, name string, patch task.Patch) (task.Config, error) {
	return p.tasks.UpdateTaskConfig(id, name, patch)
}

func (p *Pilot) RestartTask(id, name string) error {
	return p.tasks.RestartTask(id, name)
}

func (p *Pilot) Tasks(id string) []task.Info {
	return p.tasks.Tasks(id)
}

// StartListening 开始监听直播间消息，同一账号同时只监听一个来源
func (p *Pilot) StartListening(ctx context.Context, id string, source platform.Source) error {
	acc, err := p.connected(id)
	if err != nil {
		return err
	}
	defer acc.mu.Unlock()

	l, ok := platform.AsListener(acc.adapter)
	if !ok {
		return errors.Wrapf(platform.ErrUnsupported, "account %s cannot listen", id)
	}
	if acc.listening != "" {
		l.StopListening()
		acc.listening = ""
	}

	ring := acc.ring
	fan := &comment.FanOut{
		Account: id,
		Sink: func(msg platform.LiveMessage) {
			ring.Add(msg)
			p.emit(Event{Type: EventLiveMessage, Account: id, Message: &msg})
		},
		Broadcaster: p.opts.Broadcaster,
	}
	if err := l.StartListening(ctx, fan.Deliver, source); err != nil {
		return err
	}
	acc.listening = source
	logrus.WithFields(logrus.Fields{"account": id, "source": source}).Info("开始监听直播间消息")
	return nil
}

func (p *Pilot) StopListening(id string) error {
	acc, err := p.connected(id)
	if err != nil {
		return err
	}
	defer acc.mu.Unlock()

	if acc.listening == "" {
		return nil
	}
	if l, ok := platform.AsListener(acc.adapter); ok {
		l.StopListening()
	}
	acc.listening = ""
	return nil
}

// RecentMessages 最近 n 条消息（旧的在前），断开后依然可读
func (p *Pilot) RecentMessages(id string, n int) []platform.LiveMessage {
	acc := p.entry(id, false)
	if acc == nil {
		return nil
	}
	return acc.ring.Recent(n)
}

// Accounts 全部账号快照，按 ID 排序
func (p *Pilot) Accounts() []AccountInfo {
	p.mu.Lock()
	accounts := make([]*account, 0, len(p.accounts))
	connecting := make(map[string]bool, len(p.connecting))
	for _, acc := range p.accounts {
		accounts = append(accounts, acc)
	}
	for id := range p.connecting {
		connecting[id] = true
	}
	p.mu.Unlock()

	infos := make([]AccountInfo, 0, len(accounts))
	for _, acc := range accounts {
		acc.mu.Lock()
		info := AccountInfo{
			ID:          acc.id,
			Platform:    acc.platform,
			AccountName: acc.name,
			Connected:   acc.sess != nil,
			Connecting:  connecting[acc.id],
			Listening:   acc.listening,
		}
		if acc.sess != nil {
			info.Headless = acc.sess.Headless()
		}
		acc.mu.Unlock()
		info.Tasks = len(p.tasks.Tasks(acc.id))
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close 断开全部账号并关闭事件流
func (p *Pilot) Close() {
	p.cancel()

	p.mu.Lock()
	for _, c := range p.connecting {
		c.cancel()
	}
	accounts := make([]*account, 0, len(p.accounts))
	for _, acc := range p.accounts {
		accounts = append(accounts, acc)
	}
	p.mu.Unlock()

	for _, acc := range accounts {
		acc.mu.Lock()
		if acc.sess != nil {
			p.teardown(acc, "manual")
		}
		acc.mu.Unlock()
	}
	p.tasks.Close()
	p.closeSubscribers()
}
