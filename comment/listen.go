package comment

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/platform"
)

// Options 单个监听来源的参数
type Options struct {
	Source  platform.Source
	Pattern *regexp.Regexp
	Decoder Decoder
	// KeepAlive 固定周期执行的保活动作（关闭弹层、点击"新消息"等），可以为空
	KeepAlive       func(ctx context.Context) error
	KeepAlivePeriod time.Duration
}

// Listening 一个正在运行的监听，Stop 同时停止拦截和保活
type Listening struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Listen 在 page 上开始监听，消息通过 deliver 投递
func Listen(ctx context.Context, page *rod.Page, opts Options, deliver func(platform.LiveMessage)) (*Listening, error) {
	if opts.Pattern == nil || opts.Decoder == nil {
		return nil, errors.New("listen: pattern and decoder are required")
	}

	in := NewInterceptor(page, opts.Pattern, opts.Decoder, opts.Source, deliver)
	if err := in.Enable(ctx); err != nil {
		return nil, err
	}

	runners := []func(context.Context){in.Run}
	if opts.KeepAlive != nil && opts.KeepAlivePeriod > 0 {
		runners = append(runners, func(ctx context.Context) {
			KeepAlive(ctx, opts.KeepAlivePeriod, opts.KeepAlive)
		})
	}
	logrus.WithField("source", opts.Source).Info("开始监听直播间消息")
	return start(ctx, runners...), nil
}

func start(ctx context.Context, runners ...func(context.Context)) *Listening {
	ctx, cancel := context.WithCancel(ctx)
	l := &Listening{cancel: cancel, done: make(chan struct{})}

	var wg sync.WaitGroup
	for _, run := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}
	go func() {
		wg.Wait()
		close(l.done)
	}()
	return l
}

// Stop 取消监听并等待后台协程退出，可重复调用
func (l *Listening) Stop() {
	l.cancel()
	<-l.done
}

func (l *Listening) Done() <-chan struct{} {
	return l.done
}

// KeepAlive 每隔 period 执行一次 step，出错只记录日志，直到 ctx 取消
func KeepAlive(ctx context.Context, period time.Duration, step func(ctx context.Context) error) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := step(ctx); err != nil && ctx.Err() == nil {
				logrus.WithError(err).Debug("保活动作失败")
			}
		}
	}
}
