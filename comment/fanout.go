package comment

import (
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/platform"
)

// Broadcaster 可选的外部广播（WebSocket），实现方不能阻塞调用方
type Broadcaster interface {
	Broadcast(account string, msg platform.LiveMessage)
}

// FanOut 把每条消息分别投递给进程内订阅者和广播器，两者互不影响
type FanOut struct {
	Account     string
	Sink        platform.Sink
	Broadcaster Broadcaster
}

func (f *FanOut) Deliver(msg platform.LiveMessage) {
	if f.Sink != nil {
		safely("sink", func() { f.Sink(msg) })
	}
	if f.Broadcaster != nil {
		safely("broadcaster", func() { f.Broadcaster.Broadcast(f.Account, msg) })
	}
}

func safely(target string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("target", target).Errorf("消息投递 panic: %v", r)
		}
	}()
	fn()
}
