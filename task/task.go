package task

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/metrics"
	"github.com/xpzouying/livepilot/platform"
)

// DiagnoseFunc 最后一次重试失败后调用，用于截图等诊断
type DiagnoseFunc func(ctx context.Context, t *Task, err error)

// Options 创建任务的依赖
type Options struct {
	Retry    RetryPolicy
	Diagnose DiagnoseFunc
	// OnStop 任务停止时回调（completed/error/manual）
	OnStop func(t *Task, reason StopReason, err error)
}

// Task 某个账号下的一个命名任务
type Task struct {
	id      string
	name    string
	account string
	kind    Kind

	adapter platform.Adapter
	opts    Options

	updateMu sync.Mutex
	config   atomic.Pointer[Config]
	cursor   atomic.Int64

	sched *Scheduler
}

// Info 任务快照
type Info struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Account string `json:"account"`
	Kind    Kind   `json:"kind"`
	State   string `json:"state"`
	Config  Config `json:"config"`
}

// New 校验配置和适配器能力后创建任务，任务创建后处于 Idle 状态
func New(account, name string, cfg Config, adapter platform.Adapter, opts Options) (*Task, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(kind); err != nil {
		return nil, err
	}
	if err := checkCapability(adapter, kind); err != nil {
		return nil, err
	}

	t := &Task{
		id:      uuid.NewString(),
		name:    name,
		account: account,
		kind:    kind,
		adapter: adapter,
		opts:    opts,
	}
	cfg = cfg.clone()
	t.config.Store(&cfg)
	t.sched = NewScheduler(account+"/"+name, cfg.Interval, t.tick, t.stopped)
	return t, nil
}

func checkCapability(a platform.Adapter, kind Kind) error {
	var ok bool
	switch kind {
	case KindComment:
		_, ok = platform.AsCommenter(a)
	case KindPopup:
		_, ok = platform.AsPopper(a)
	case KindPin:
		_, ok = platform.AsPinner(a)
	}
	if !ok {
		return errors.Wrapf(platform.ErrUnsupported, "task kind %s", kind)
	}
	return nil
}

func (t *Task) ID() string      { return t.id }
func (t *Task) Name() string    { return t.name }
func (t *Task) Account() string { return t.account }
func (t *Task) Kind() Kind      { return t.kind }

// Config 当前生效的配置
func (t *Task) Config() Config {
	return t.config.Load().clone()
}

func (t *Task) State() State {
	return t.sched.State()
}

func (t *Task) Done() <-chan struct{} {
	return t.sched.Done()
}

func (t *Task) Wait(ctx context.Context) error {
	return t.sched.Wait(ctx)
}

func (t *Task) Info() Info {
	return Info{
		ID:      t.id,
		Name:    t.name,
		Account: t.account,
		Kind:    t.kind,
		State:   t.State().String(),
		Config:  t.Config(),
	}
}

// Start 立即执行第一次
func (t *Task) Start(ctx context.Context) bool {
	if !t.sched.Start(ctx) {
		return false
	}
	metrics.TasksRunning.WithLabelValues(string(t.kind)).Inc()
	return true
}

func (t *Task) Stop() {
	t.sched.Stop()
}

func (t *Task) Restart() {
	t.sched.Restart()
}

// UpdateConfig 应用部分更新，校验失败时保留原配置
func (t *Task) UpdateConfig(p Patch) (Config, error) {
	t.updateMu.Lock()
	defer t.updateMu.Unlock()

	next := t.config.Load().Apply(p)
	if err := next.Validate(t.kind); err != nil {
		return t.Config(), err
	}
	t.config.Store(&next)
	t.sched.UpdateInterval(next.Interval)

	logrus.WithFields(logrus.Fields{"account": t.account, "task": t.name}).Info("任务配置已更新")
	return next.clone(), nil
}

func (t *Task) stopped(reason StopReason, err error) {
	metrics.TasksRunning.WithLabelValues(string(t.kind)).Dec()
	metrics.TaskStops.WithLabelValues(string(t.kind), string(reason)).Inc()
	if t.opts.OnStop != nil {
		t.opts.OnStop(t, reason, err)
	}
}

func (t *Task) tick(ctx context.Context) error {
	start := time.Now()
	err := t.execute(ctx)

	status := "ok"
	switch {
	case errors.Is(err, ErrCompleted):
		status = "completed"
	case err != nil:
		status = "error"
	}
	metrics.TaskTickDuration.WithLabelValues(string(t.kind), status).Observe(time.Since(start).Seconds())
	return err
}

func (t *Task) execute(ctx context.Context) error {
	cfg := t.config.Load()
	log := logrus.WithFields(logrus.Fields{"account": t.account, "task": t.name})

	policy := t.opts.Retry
	shouldRetry := policy.ShouldRetry
	policy.ShouldRetry = func(err error) bool {
		if shouldRetry != nil {
			return shouldRetry(err)
		}
		return platform.IsRetryable(err)
	}
	onRetry := policy.OnRetry
	policy.OnRetry = func(err error, attempt int) {
		metrics.TaskRetries.Inc()
		log.WithError(err).WithField("attempt", attempt).Warn("任务执行失败，准备重试")
		if onRetry != nil {
			onRetry(err, attempt)
		}
	}

	var (
		op   func(ctx context.Context) error
		next int64
	)
	switch t.kind {
	case KindComment:
		msg, n, err := pick(t, cfg, cfg.Messages)
		if err != nil {
			return err
		}
		next = n
		c, _ := platform.AsCommenter(t.adapter)
		op = func(ctx context.Context) error {
			pinned, err := c.Comment(ctx, msg, cfg.PinToTop)
			if err != nil {
				return err
			}
			if cfg.PinToTop && !pinned {
				log.Warn("评论已发送，但置顶失败")
			}
			log.WithField("message", msg).Info("评论已发送")
			return nil
		}
	case KindPopup:
		id, n, err := pick(t, cfg, cfg.ItemIDs)
		if err != nil {
			return err
		}
		next = n
		p, _ := platform.AsPopper(t.adapter)
		op = func(ctx context.Context) error {
			if err := p.Popup(ctx, id); err != nil {
				return err
			}
			log.WithField("item", id).Info("商品讲解已弹出")
			return nil
		}
	case KindPin:
		msg, n, err := pick(t, cfg, cfg.Messages)
		if err != nil {
			return err
		}
		next = n
		p, _ := platform.AsPinner(t.adapter)
		op = func(ctx context.Context) error {
			if err := p.Pin(ctx, msg); err != nil {
				return err
			}
			log.WithField("message", msg).Info("消息已置顶")
			return nil
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown task kind %q", t.kind)
	}

	err := Retry(ctx, policy, op)
	if err != nil {
		if ctx.Err() == nil && t.opts.Diagnose != nil {
			t.opts.Diagnose(ctx, t, err)
		}
		return err
	}
	// 只有发送成功才前进，失败或被取代的那一条下次重发
	t.cursor.CompareAndSwap(next, next+1)
	return nil
}

// pick 按顺序或随机挑选下一个元素，返回当前游标。Once 模式下走完一遍返回 ErrCompleted。
func pick[T any](t *Task, cfg *Config, list []T) (T, int64, error) {
	var zero T
	n := t.cursor.Load()
	if cfg.Once && n >= int64(len(list)) {
		return zero, n, ErrCompleted
	}
	if cfg.Random {
		return list[rand.Intn(len(list))], n, nil
	}
	return list[n%int64(len(list))], n, nil
}
