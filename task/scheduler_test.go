package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stopRecord struct {
	mu      sync.Mutex
	reasons []StopReason
	errs    []error
}

func (r *stopRecord) onStop(reason StopReason, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	r.errs = append(r.errs, err)
}

func (r *stopRecord) get() ([]StopReason, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StopReason(nil), r.reasons...), append([]error(nil), r.errs...)
}

func waitStopped(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

var fast = Interval{Min: 5, Max: 10}

func TestSchedulerReschedules(t *testing.T) {
	var calls atomic.Int32
	rec := &stopRecord{}
	s := NewScheduler("t", fast, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, rec.onStop)

	assert.Equal(t, StateIdle, s.State())
	require.True(t, s.Start(context.Background()))
	assert.False(t, s.Start(context.Background()), "重复启动")

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, time.Millisecond)

	s.Stop()
	s.Stop()
	waitStopped(t, s)

	assert.Equal(t, StateStopped, s.State())
	reasons, errs := rec.get()
	assert.Equal(t, []StopReason{StopManual}, reasons)
	assert.Equal(t, []error{nil}, errs)

	// 停止之后不再执行
	n := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}

func TestSchedulerStopReasons(t *testing.T) {
	errBoom := errors.New("boom")
	tests := []struct {
		name       string
		body       Body
		wantReason StopReason
		wantErr    error
	}{
		{
			name:       "错误",
			body:       func(ctx context.Context) error { return errBoom },
			wantReason: StopError,
			wantErr:    errBoom,
		},
		{
			name:       "完成",
			body:       func(ctx context.Context) error { return errors.Wrap(ErrCompleted, "list done") },
			wantReason: StopCompleted,
		},
		{
			name:       "panic",
			body:       func(ctx context.Context) error { panic("oops") },
			wantReason: StopError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &stopRecord{}
			s := NewScheduler("t", fast, tt.body, rec.onStop)
			s.Start(context.Background())
			waitStopped(t, s)

			reason, err := s.Result()
			assert.Equal(t, tt.wantReason, reason)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.name == "panic" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "oops")
			}

			reasons, _ := rec.get()
			assert.Equal(t, []StopReason{tt.wantReason}, reasons)
		})
	}
}

func TestSchedulerParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &stopRecord{}
	s := NewScheduler("t", fast, func(ctx context.Context) error { return nil }, rec.onStop)
	s.Start(ctx)

	cancel()
	waitStopped(t, s)
	reason, _ := s.Result()
	assert.Equal(t, StopManual, reason)
}

func TestSchedulerStopIdle(t *testing.T) {
	rec := &stopRecord{}
	s := NewScheduler("t", fast, func(ctx context.Context) error { return nil }, rec.onStop)
	s.Stop()
	assert.Equal(t, StateStopped, s.State())

	reasons, _ := rec.get()
	assert.Empty(t, reasons, "没有启动过的任务停止时不回调")
}

func TestSchedulerStartAfterStop(t *testing.T) {
	var calls atomic.Int32
	s := NewScheduler("t", Interval{Min: 1000, Max: 1000}, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, nil)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	s.Stop()
	waitStopped(t, s)

	require.True(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	s.Stop()
	waitStopped(t, s)
}

// 任务体比间隔慢并且不理会取消时，下一次执行也要等上一次返回，且上一次的 ctx 已被取消
func TestSchedulerCancellationPrecedesReentry(t *testing.T) {
	var (
		active    atomic.Int32
		maxActive atomic.Int32
		runs      atomic.Int32
		mu        sync.Mutex
		prevCtx   context.Context
		violation atomic.Bool
	)

	s := NewScheduler("slow", Interval{Min: 1, Max: 1}, func(ctx context.Context) error {
		mu.Lock()
		if prevCtx != nil && prevCtx.Err() == nil {
			violation.Store(true)
		}
		prevCtx = ctx
		mu.Unlock()

		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
		return nil
	}, nil)

	s.Start(context.Background())
	for i := 0; i < 10; i++ {
		time.Sleep(3 * time.Millisecond)
		s.Restart()
	}
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, time.Millisecond)
	s.Stop()
	waitStopped(t, s)

	assert.Equal(t, int32(1), maxActive.Load())
	assert.False(t, violation.Load())
}

func TestSchedulerUpdateInterval(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	s := NewScheduler("t", Interval{Min: 1000, Max: 1000}, func(ctx context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}, nil)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.State() == StateRunning }, time.Second, time.Millisecond)

	s.UpdateInterval(Interval{Min: 1, Max: 2})
	assert.Equal(t, StateRunning, s.State(), "正在执行的任务不受影响")
	close(release)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	s.Stop()
	waitStopped(t, s)
	assert.Equal(t, Interval{Min: 1, Max: 2}, s.Interval())
}

func TestSchedulerStopCancelsRunningBody(t *testing.T) {
	started := make(chan struct{})
	s := NewScheduler("t", fast, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, nil)

	s.Start(context.Background())
	<-started
	s.Stop()
	waitStopped(t, s)

	reason, err := s.Result()
	assert.Equal(t, StopManual, reason)
	assert.NoError(t, err)
}
