// Package comment 把直播平台的网络响应转换为标准的 LiveMessage，并分发给订阅者。
package comment

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/xpzouying/livepilot/platform"
)

// ErrMalformedPayload 响应体不是合法的 JSON
var ErrMalformedPayload = errors.New("malformed payload")

// Decoder 把一个响应体解析为若干条消息
type Decoder interface {
	Decode(body []byte) ([]platform.LiveMessage, error)
}

// PathDecoder 通过 gjson 路径描述响应结构，不同站点只需要配置不同的路径。
//
//	items:     data.list
//	id:        msg_id
//	kind:      type
//	sender:    user.nickname
//	content:   content
//	timestamp: create_time
type PathDecoder struct {
	Source platform.Source `mapstructure:"-" json:"-"`
	// Items 消息数组的路径，空表示整个响应体
	Items     string `mapstructure:"items" json:"items"`
	ID        string `mapstructure:"id" json:"id"`
	Kind      string `mapstructure:"kind" json:"kind"`
	Sender    string `mapstructure:"sender" json:"sender"`
	Content   string `mapstructure:"content" json:"content"`
	Timestamp string `mapstructure:"timestamp" json:"timestamp"`
	// Extra 附加字段：输出字段名 -> 路径
	Extra map[string]string `mapstructure:"extra" json:"extra,omitempty"`
	// Kinds 站点自己的类型值 -> 标准类型，没有配置时按标准类型名解析
	Kinds map[string]platform.MessageKind `mapstructure:"kinds" json:"kinds,omitempty"`
	// DefaultKind Kind 路径为空时使用的类型
	DefaultKind platform.MessageKind `mapstructure:"default_kind" json:"default_kind,omitempty"`
}

func (d *PathDecoder) Decode(body []byte) ([]platform.LiveMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformedPayload
	}

	root := gjson.ParseBytes(body)
	if d.Items != "" {
		root = root.Get(d.Items)
	}

	var msgs []platform.LiveMessage
	switch {
	case root.IsArray():
		root.ForEach(func(_, entry gjson.Result) bool {
			if msg, ok := d.decodeEntry(entry); ok {
				msgs = append(msgs, msg)
			}
			return true
		})
	case root.IsObject():
		if msg, ok := d.decodeEntry(root); ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

func (d *PathDecoder) decodeEntry(entry gjson.Result) (platform.LiveMessage, bool) {
	if !entry.IsObject() {
		return platform.LiveMessage{}, false
	}

	msg := platform.LiveMessage{
		Kind:       d.kind(entry),
		ID:         get(entry, d.ID),
		SenderName: get(entry, d.Sender),
		Content:    get(entry, d.Content),
		Timestamp:  parseTimestamp(entry, d.Timestamp),
		Source:     d.Source,
	}
	if msg.ID == "" && msg.SenderName == "" && msg.Content == "" {
		return platform.LiveMessage{}, false
	}

	if len(d.Extra) > 0 {
		msg.Extra = make(map[string]string, len(d.Extra))
		for name, path := range d.Extra {
			if v := entry.Get(path); v.Exists() {
				msg.Extra[name] = v.String()
			}
		}
	}
	return msg, true
}

func (d *PathDecoder) kind(entry gjson.Result) platform.MessageKind {
	if d.Kind == "" {
		if d.DefaultKind != "" {
			return d.DefaultKind
		}
		return platform.KindComment
	}
	raw := entry.Get(d.Kind).String()
	if k, ok := d.Kinds[raw]; ok {
		return k
	}
	return platform.ParseMessageKind(raw)
}

func get(entry gjson.Result, path string) string {
	if path == "" {
		return ""
	}
	return entry.Get(path).String()
}

// parseTimestamp 支持秒/毫秒时间戳和 RFC3339，缺失或无法解析时取当前时间
func parseTimestamp(entry gjson.Result, path string) time.Time {
	if path == "" {
		return time.Now()
	}
	v := entry.Get(path)
	var n int64
	switch v.Type {
	case gjson.Number:
		n = v.Int()
	case gjson.String:
		if i, err := strconv.ParseInt(v.Str, 10, 64); err == nil {
			n = i
		} else if t, err := time.Parse(time.RFC3339, v.Str); err == nil {
			return t
		}
	}
	switch {
	case n <= 0:
		return time.Now()
	case n > 1e12:
		return time.UnixMilli(n)
	default:
		return time.Unix(n, 0)
	}
}
