package pilot

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/platform"
)

// EventType 推送给上层的事件类型
type EventType string

const (
	EventLiveMessage         EventType = "live_message"
	EventTaskStopped         EventType = "task_stopped"
	EventSessionDisconnected EventType = "session_disconnected"
)

// Event 事件流中的一条记录
type Event struct {
	Type    EventType             `json:"type"`
	Account string                `json:"account"`
	Time    time.Time             `json:"time"`
	Message *platform.LiveMessage `json:"message,omitempty"`
	Task    *TaskStopped          `json:"task,omitempty"`
	// Reason 会话断开原因：page_closed / manual / replaced
	Reason string `json:"reason,omitempty"`
}

// TaskStopped 任务停止通知
type TaskStopped struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

// Subscribe 订阅事件流。buffer <= 0 时使用默认长度。
// 订阅者消费过慢时新事件会被丢弃，不会阻塞推送方。
func (p *Pilot) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = p.opts.EventBuffer
	}
	ch := make(chan Event, buffer)

	p.subMu.Lock()
	if p.closed {
		p.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.subMu.Unlock()

	cancel := func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (p *Pilot) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	p.subMu.Lock()
	defer p.subMu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			logrus.WithFields(logrus.Fields{
				"account":    ev.Account,
				"event":      ev.Type,
				"subscriber": id,
			}).Warn("事件订阅者消费过慢，丢弃事件")
		}
	}
}

func (p *Pilot) closeSubscribers() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
