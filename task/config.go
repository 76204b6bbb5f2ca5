package task

import (
	"math/rand"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/pkg/errors"
)

// ErrInvalidConfig 任务配置校验失败，调度之前同步返回
var ErrInvalidConfig = errors.New("invalid task config")

// MaxMessageWidth 单条消息的最大显示宽度（中文字符按 2 计算）
const MaxMessageWidth = 200

// Kind 任务类型
type Kind string

const (
	KindComment Kind = "comment" // 轮播评论
	KindPopup   Kind = "popup"   // 商品讲解弹窗
	KindPin     Kind = "pin"     // 置顶消息
)

// ParseKind 从任务名解析任务类型，任务名形如 "comment" 或 "comment:welcome"
func ParseKind(name string) (Kind, error) {
	prefix, _, _ := strings.Cut(name, ":")
	switch k := Kind(strings.TrimSpace(prefix)); k {
	case KindComment, KindPopup, KindPin:
		return k, nil
	default:
		return "", errors.Wrapf(ErrInvalidConfig, "unknown task kind in name %q", name)
	}
}

// Interval 两次执行之间的间隔，单位毫秒。Min == Max 表示固定间隔。
type Interval struct {
	Min int `json:"min" mapstructure:"min" jsonschema:"最小间隔（毫秒）"`
	Max int `json:"max" mapstructure:"max" jsonschema:"最大间隔（毫秒）"`
}

func (iv Interval) validate() error {
	if iv.Min <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "interval min must be positive, got %d", iv.Min)
	}
	if iv.Max < iv.Min {
		return errors.Wrapf(ErrInvalidConfig, "interval max %d is less than min %d", iv.Max, iv.Min)
	}
	return nil
}

// Next 在 [Min, Max] 内均匀取一个延迟
func (iv Interval) Next() time.Duration {
	ms := iv.Min
	if iv.Max > iv.Min {
		ms += rand.Intn(iv.Max - iv.Min + 1)
	}
	return time.Duration(ms) * time.Millisecond
}

// Config 任务配置，纯数据，可以直接序列化
type Config struct {
	// Messages 评论/置顶任务的消息列表
	Messages []string `json:"messages,omitempty" mapstructure:"messages" jsonschema:"消息列表（评论、置顶任务）"`
	// ItemIDs 弹窗任务的商品编号列表
	ItemIDs  []int    `json:"item_ids,omitempty" mapstructure:"item_ids" jsonschema:"商品编号列表（弹窗任务）"`
	Interval Interval `json:"interval" mapstructure:"interval" jsonschema:"执行间隔"`
	// Random 随机挑选消息/商品，否则按顺序轮换
	Random bool `json:"random" mapstructure:"random" jsonschema:"是否随机挑选"`
	// PinToTop 评论发送后置顶
	PinToTop bool `json:"pin_to_top,omitempty" mapstructure:"pin_to_top" jsonschema:"评论后是否置顶"`
	// Once 列表执行一遍后结束，停止原因为 completed
	Once bool `json:"once,omitempty" mapstructure:"once" jsonschema:"列表执行一遍后结束"`
}

// Validate 按任务类型校验配置
func (c Config) Validate(kind Kind) error {
	if err := c.Interval.validate(); err != nil {
		return err
	}

	switch kind {
	case KindComment, KindPin:
		if len(c.Messages) == 0 {
			return errors.Wrap(ErrInvalidConfig, "messages is empty")
		}
		for i, m := range c.Messages {
			if strings.TrimSpace(m) == "" {
				return errors.Wrapf(ErrInvalidConfig, "message %d is blank", i)
			}
			if w := runewidth.StringWidth(m); w > MaxMessageWidth {
				return errors.Wrapf(ErrInvalidConfig, "message %d is too wide (%d > %d)", i, w, MaxMessageWidth)
			}
		}
	case KindPopup:
		if len(c.ItemIDs) == 0 {
			return errors.Wrap(ErrInvalidConfig, "item_ids is empty")
		}
		for i, id := range c.ItemIDs {
			if id <= 0 {
				return errors.Wrapf(ErrInvalidConfig, "item id %d at %d must be positive", id, i)
			}
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown task kind %q", kind)
	}
	return nil
}

func (c Config) clone() Config {
	out := c
	out.Messages = append([]string(nil), c.Messages...)
	out.ItemIDs = append([]int(nil), c.ItemIDs...)
	return out
}

// Patch 部分更新，nil 字段保持不变
type Patch struct {
	Messages *[]string `json:"messages,omitempty" jsonschema:"新的消息列表"`
	ItemIDs  *[]int    `json:"item_ids,omitempty" jsonschema:"新的商品编号列表"`
	Interval *Interval `json:"interval,omitempty" jsonschema:"新的执行间隔"`
	Random   *bool     `json:"random,omitempty" jsonschema:"是否随机挑选"`
	PinToTop *bool     `json:"pin_to_top,omitempty" jsonschema:"评论后是否置顶"`
	Once     *bool     `json:"once,omitempty" jsonschema:"列表执行一遍后结束"`
}

// Apply 返回应用 patch 之后的新配置，不修改原配置
func (c Config) Apply(p Patch) Config {
	out := c.clone()
	if p.Messages != nil {
		out.Messages = append([]string(nil), (*p.Messages)...)
	}
	if p.ItemIDs != nil {
		out.ItemIDs = append([]int(nil), (*p.ItemIDs)...)
	}
	if p.Interval != nil {
		out.Interval = *p.Interval
	}
	if p.Random != nil {
		out.Random = *p.Random
	}
	if p.PinToTop != nil {
		out.PinToTop = *p.PinToTop
	}
	if p.Once != nil {
		out.Once = *p.Once
	}
	return out
}
