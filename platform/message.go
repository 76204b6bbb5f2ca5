package platform

import "time"

// Account 一个独立的商家账号
type Account struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Source 消息监听来源
type Source string

const (
	// SourceControlPanel 平台自身的中控台流量
	SourceControlPanel Source = "control_panel"
	// SourceDashboard 辅助的数据大屏页面
	SourceDashboard Source = "dashboard"
)

// MessageKind 直播间消息类型
type MessageKind string

const (
	KindComment   MessageKind = "comment"
	KindEnterRoom MessageKind = "enter_room"
	KindFollow    MessageKind = "follow"
	KindLike      MessageKind = "like"
	KindGift      MessageKind = "gift"
	KindOrder     MessageKind = "order"
	KindUnknown   MessageKind = "unknown"
)

// ParseMessageKind 未识别的类型归为 unknown
func ParseMessageKind(s string) MessageKind {
	switch k := MessageKind(s); k {
	case KindComment, KindEnterRoom, KindFollow, KindLike, KindGift, KindOrder:
		return k
	default:
		return KindUnknown
	}
}

// LiveMessage 标准化后的直播间消息，构造后不可修改
type LiveMessage struct {
	Kind       MessageKind       `json:"kind"`
	ID         string            `json:"id"`
	SenderName string            `json:"sender_name"`
	Content    string            `json:"content,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Source     Source            `json:"source"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Sink 进程内的消息订阅者
type Sink func(msg LiveMessage)
