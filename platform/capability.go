package platform

import (
	"context"

	"github.com/xpzouying/livepilot/browser"
)

// Capability 平台适配器可能支持的能力
type Capability string

const (
	CapabilityPopup   Capability = "popup"
	CapabilityComment Capability = "comment"
	CapabilityListen  Capability = "listen"
	CapabilityPin     Capability = "pin"
)

// Connectable 每个适配器都必须实现的连接/登录能力。
// Connect 与 Login 的错误视为致命错误，整个会话随之销毁。
type Connectable interface {
	// Connect 打开控制台页面，返回 true 表示已经处于控制台（而不是登录页）
	Connect(ctx context.Context, sess browser.Session) (bool, error)
	// Login 阻塞直到用户完成登录，没有超时，只能通过 ctx 取消
	Login(ctx context.Context, sess browser.Session) error
	AccountName(ctx context.Context, sess browser.Session) (string, error)
	Disconnect()
}

// Adapter 单个站点的适配器。一个 Session 只对应一个 Adapter 实例。
type Adapter interface {
	Connectable
}

// PostLoginHook 登录完成后、查询账号名之前执行的钩子（例如打开某些站点要求的辅助页面）
type PostLoginHook interface {
	AfterLogin(ctx context.Context, sess browser.Session) error
}

// Popper 商品讲解弹窗
type Popper interface {
	Popup(ctx context.Context, itemID int) error
}

// Commenter 发送直播间评论，返回置顶是否成功
type Commenter interface {
	Comment(ctx context.Context, text string, pinToTop bool) (bool, error)
}

// Listener 监听直播间消息
type Listener interface {
	StartListening(ctx context.Context, sink Sink, source Source) error
	StopListening()
}

// Pinner 置顶消息
type Pinner interface {
	Pin(ctx context.Context, text string) error
}

// Supporter 由数据驱动的适配器实现：类型上实现了能力接口，但是否真正可用取决于配置。
type Supporter interface {
	Supports(c Capability) bool
}

func supports(a Adapter, c Capability) bool {
	if s, ok := a.(Supporter); ok {
		return s.Supports(c)
	}
	return true
}

// AsPopper 运行时查询 Popper 能力
func AsPopper(a Adapter) (Popper, bool) {
	p, ok := a.(Popper)
	if !ok || !supports(a, CapabilityPopup) {
		return nil, false
	}
	return p, true
}

// AsCommenter 运行时查询 Commenter 能力
func AsCommenter(a Adapter) (Commenter, bool) {
	c, ok := a.(Commenter)
	if !ok || !supports(a, CapabilityComment) {
		return nil, false
	}
	return c, true
}

// AsListener 运行时查询 Listener 能力
func AsListener(a Adapter) (Listener, bool) {
	l, ok := a.(Listener)
	if !ok || !supports(a, CapabilityListen) {
		return nil, false
	}
	return l, true
}

// AsPinner 运行时查询 Pinner 能力
func AsPinner(a Adapter) (Pinner, bool) {
	p, ok := a.(Pinner)
	if !ok || !supports(a, CapabilityPin) {
		return nil, false
	}
	return p, true
}

// Capabilities 列出适配器当前可用的全部能力
func Capabilities(a Adapter) []Capability {
	var caps []Capability
	if _, ok := AsPopper(a); ok {
		caps = append(caps, CapabilityPopup)
	}
	if _, ok := AsCommenter(a); ok {
		caps = append(caps, CapabilityComment)
	}
	if _, ok := AsListener(a); ok {
		caps = append(caps, CapabilityListen)
	}
	if _, ok := AsPinner(a); ok {
		caps = append(caps, CapabilityPin)
	}
	return caps
}
