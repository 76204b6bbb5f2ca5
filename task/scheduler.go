package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrCompleted 由任务体返回，表示任务正常结束（停止原因为 completed）
var ErrCompleted = errors.New("task completed")

// State 调度器状态
type State int32

const (
	StateIdle State = iota
	StateScheduled
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StopReason 停止原因
type StopReason string

const (
	StopCompleted StopReason = "completed"
	StopError     StopReason = "error"
	StopManual    StopReason = "manual"
)

// Body 任务体，ctx 在任务被停止或者被下一次执行取代时取消
type Body func(ctx context.Context) error

// StopFunc 调度器停止时回调，每次启动最多回调一次
type StopFunc func(reason StopReason, err error)

// Scheduler 自我重排的定时任务：执行完一次之后按照 [min, max] 的随机间隔重新计时。
// 同一时刻最多只有一个任务体在执行，新的一次执行先取消上一次的 ctx 并等待它返回。
type Scheduler struct {
	name     string
	body     Body
	onStop   StopFunc
	interval atomic.Pointer[Interval]

	mu    sync.Mutex
	state State
	// gen 每次启动/重启/停止自增，过期的定时器据此忽略
	gen    uint64
	runID  uint64
	timer  *time.Timer
	cancel context.CancelFunc
	// lastRun 最近一次执行的结束信号
	lastRun chan struct{}
	done    chan struct{}
	reason  StopReason
	err     error
	release func() bool
}

// NewScheduler 创建调度器，处于 Idle 状态
func NewScheduler(name string, iv Interval, body Body, onStop StopFunc) *Scheduler {
	s := &Scheduler{
		name:   name,
		body:   body,
		onStop: onStop,
		done:   make(chan struct{}),
	}
	s.interval.Store(&iv)
	return s
}

// Start 立即安排第一次执行。ctx 取消时调度器以 manual 原因停止。
// 已经在运行时返回 false。
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	switch s.state {
	case StateScheduled, StateRunning:
		s.mu.Unlock()
		return false
	case StateStopped:
		s.done = make(chan struct{})
		s.reason, s.err = "", nil
	}
	s.gen++
	s.state = StateScheduled
	s.armLocked(0)
	s.release = context.AfterFunc(ctx, s.Stop)
	s.mu.Unlock()

	logrus.WithField("task", s.name).Debug("任务已启动")
	return true
}

// Restart 取消等待中的定时器并立即重新执行，正在执行的任务体会被取代
func (s *Scheduler) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateScheduled && s.state != StateRunning {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	s.state = StateScheduled
	s.armLocked(0)
}

// Stop 取消定时器和正在执行的任务体，可重复调用
func (s *Scheduler) Stop() {
	s.stop(StopManual, nil)
}

// UpdateInterval 修改间隔，从下一次计时开始生效，不影响正在执行的任务体
func (s *Scheduler) UpdateInterval(iv Interval) {
	s.interval.Store(&iv)
}

// Interval 当前间隔
func (s *Scheduler) Interval() Interval {
	return *s.interval.Load()
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done 停止后关闭
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Result 停止原因，未停止时 reason 为空
func (s *Scheduler) Result() (StopReason, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason, s.err
}

// Wait 等待调度器停止并且最后一次任务体返回
func (s *Scheduler) Wait(ctx context.Context) error {
	select {
	case <-s.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	last := s.lastRun
	s.mu.Unlock()
	if last == nil {
		return nil
	}
	select {
	case <-last:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) armLocked(delay time.Duration) {
	gen := s.gen
	s.timer = time.AfterFunc(delay, func() { s.fire(gen) })
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	// 先取消上一次执行，再开始新的一次
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.runID++
	runID := s.runID
	prev := s.lastRun
	finished := make(chan struct{})
	s.lastRun = finished
	s.state = StateRunning
	s.mu.Unlock()

	defer close(finished)

	// 上一次执行不理会取消时，也要等它返回才能开始
	if prev != nil {
		<-prev
	}
	if ctx.Err() != nil {
		return
	}

	err := s.run(ctx)
	s.finish(ctx, gen, runID, err)
}

func (s *Scheduler) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("task body panic: %v", r)
		}
	}()
	return s.body(ctx)
}

func (s *Scheduler) finish(ctx context.Context, gen, runID uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || runID != s.runID || s.state == StateStopped {
		// 被取代或者已经停止
		s.mu.Unlock()
		return
	}

	switch {
	case err == nil:
		delay := s.Interval().Next()
		s.state = StateScheduled
		s.armLocked(delay)
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{"task": s.name, "next": delay}).Debug("任务执行完成，等待下一次")
		return
	case errors.Is(err, ErrCompleted):
		s.mu.Unlock()
		s.stop(StopCompleted, nil)
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		s.mu.Unlock()
		s.stop(StopManual, nil)
	default:
		s.mu.Unlock()
		s.stop(StopError, err)
	}
}

func (s *Scheduler) stop(reason StopReason, err error) {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	started := s.state != StateIdle
	s.state = StateStopped
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.reason, s.err = reason, err
	close(s.done)
	release := s.release
	s.release = nil
	s.mu.Unlock()

	if release != nil {
		release()
	}

	log := logrus.WithFields(logrus.Fields{"task": s.name, "reason": reason})
	if err != nil {
		log.WithError(err).Warn("任务异常停止")
	} else {
		log.Info("任务已停止")
	}
	if started && s.onStop != nil {
		s.onStop(reason, err)
	}
}
