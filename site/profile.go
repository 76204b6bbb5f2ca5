// Package site 由配置驱动的平台适配器：选择器和 URL 都是数据，一个 Profile 对应一个站点。
package site

import (
	"regexp"
	"time"

	"github.com/pkg/errors"

	"github.com/xpzouying/livepilot/comment"
	"github.com/xpzouying/livepilot/locator"
	"github.com/xpzouying/livepilot/platform"
)

// ErrInvalidProfile 站点配置不完整
var ErrInvalidProfile = errors.New("invalid site profile")

// Profile 单个站点的全部选择器与 URL
type Profile struct {
	// Name 平台类型，connect 时用它选择适配器
	Name            string `mapstructure:"name" json:"name"`
	ControlURL      string `mapstructure:"control_url" json:"control_url"`
	LoginURLPattern string `mapstructure:"login_url_pattern" json:"login_url_pattern"`
	DashboardURL    string `mapstructure:"dashboard_url" json:"dashboard_url,omitempty"`

	Markers Markers `mapstructure:"markers" json:"markers"`
	// AccountName 显示账号名的元素
	AccountName string `mapstructure:"account_name" json:"account_name,omitempty"`
	// ElementTimeout 单个元素的等待上限
	ElementTimeout time.Duration `mapstructure:"element_timeout" json:"element_timeout,omitempty"`

	// 以下几段配置了才具备对应能力
	Goods   *GoodsProfile                      `mapstructure:"goods" json:"goods,omitempty"`
	Comment *CommentProfile                    `mapstructure:"comment" json:"comment,omitempty"`
	Pin     *PinProfile                        `mapstructure:"pin" json:"pin,omitempty"`
	Listen  map[platform.Source]*ListenProfile `mapstructure:"listen" json:"listen,omitempty"`
}

// Markers 判断页面状态的标记元素
type Markers struct {
	// Control 中控台已加载
	Control string `mapstructure:"control" json:"control"`
	// LoggedIn 登录完成，空表示复用 Control
	LoggedIn string `mapstructure:"logged_in" json:"logged_in,omitempty"`
}

// GoodsProfile 商品列表与讲解按钮
type GoodsProfile struct {
	List        locator.Selectors `mapstructure:"list" json:"list"`
	PopupButton string            `mapstructure:"popup_button" json:"popup_button"`
	// ActiveClass 讲解中的按钮带有的 class，配置后会校验点击结果
	ActiveClass string          `mapstructure:"active_class" json:"active_class,omitempty"`
	Locator     locator.Options `mapstructure:"locator" json:"locator"`
}

// CommentProfile 评论输入框
type CommentProfile struct {
	Input string `mapstructure:"input" json:"input"`
	// Submit 发送按钮，空表示回车发送
	Submit string `mapstructure:"submit" json:"submit,omitempty"`
	// PinButton 最新一条评论上的置顶按钮
	PinButton string `mapstructure:"pin_button" json:"pin_button,omitempty"`
	MaxWidth  int    `mapstructure:"max_width" json:"max_width,omitempty"`
}

// PinProfile 在消息列表中找到指定文本的消息并置顶
type PinProfile struct {
	Messages string `mapstructure:"messages" json:"messages"`
	Button   string `mapstructure:"button" json:"button"`
}

// ListenProfile 单个监听来源
type ListenProfile struct {
	URLPattern string              `mapstructure:"url_pattern" json:"url_pattern"`
	Decoder    comment.PathDecoder `mapstructure:"decoder" json:"decoder"`
	KeepAlive  KeepAliveProfile    `mapstructure:"keep_alive" json:"keep_alive"`
}

// KeepAliveProfile 保活：周期性关闭弹层、点击"有新消息"
type KeepAliveProfile struct {
	Period  time.Duration `mapstructure:"period" json:"period,omitempty"`
	Dismiss []string      `mapstructure:"dismiss" json:"dismiss,omitempty"`
	Click   []string      `mapstructure:"click" json:"click,omitempty"`
}

// compiled 校验后预编译的正则
type compiled struct {
	loginURL *regexp.Regexp
	listen   map[platform.Source]*regexp.Regexp
}

// Validate 校验配置并编译正则
func (p *Profile) Validate() error {
	_, err := p.compile()
	return err
}

func (p *Profile) compile() (*compiled, error) {
	invalid := func(format string, args ...any) error {
		return errors.Wrapf(ErrInvalidProfile, "%s: "+format, append([]any{p.Name}, args...)...)
	}

	if p.Name == "" {
		return nil, errors.Wrap(ErrInvalidProfile, "name is required")
	}
	if p.ControlURL == "" {
		return nil, invalid("control_url is required")
	}
	if p.Markers.Control == "" {
		return nil, invalid("markers.control is required")
	}
	if p.LoginURLPattern == "" {
		return nil, invalid("login_url_pattern is required")
	}

	c := &compiled{listen: make(map[platform.Source]*regexp.Regexp)}
	var err error
	if c.loginURL, err = regexp.Compile(p.LoginURLPattern); err != nil {
		return nil, invalid("login_url_pattern: %v", err)
	}

	if g := p.Goods; g != nil {
		if g.List.Container == "" || g.List.Item == "" || g.PopupButton == "" {
			return nil, invalid("goods needs list.container, list.item and popup_button")
		}
	}
	if cm := p.Comment; cm != nil && cm.Input == "" {
		return nil, invalid("comment.input is required")
	}
	if pin := p.Pin; pin != nil && (pin.Messages == "" || pin.Button == "") {
		return nil, invalid("pin needs messages and button")
	}

	for source, lp := range p.Listen {
		if lp == nil {
			return nil, invalid("listen.%s is empty", source)
		}
		if source != platform.SourceControlPanel && source != platform.SourceDashboard {
			return nil, invalid("unknown listen source %q", source)
		}
		if source == platform.SourceDashboard && p.DashboardURL == "" {
			return nil, invalid("listen.dashboard needs dashboard_url")
		}
		re, err := regexp.Compile(lp.URLPattern)
		if err != nil || lp.URLPattern == "" {
			return nil, invalid("listen.%s.url_pattern %q is invalid", source, lp.URLPattern)
		}
		if lp.Decoder.ID == "" && lp.Decoder.Content == "" {
			return nil, invalid("listen.%s.decoder needs id or content path", source)
		}
		if lp.KeepAlive.Period < 0 {
			return nil, invalid("listen.%s.keep_alive.period must not be negative", source)
		}
		c.listen[source] = re
	}
	return c, nil
}

// Supports 只有配置了的能力才可用
func (p *Profile) Supports(c platform.Capability) bool {
	switch c {
	case platform.CapabilityPopup:
		return p.Goods != nil
	case platform.CapabilityComment:
		return p.Comment != nil
	case platform.CapabilityPin:
		return p.Pin != nil
	case platform.CapabilityListen:
		return len(p.Listen) > 0
	default:
		return false
	}
}

func (p *Profile) elementTimeout() time.Duration {
	if p.ElementTimeout > 0 {
		return p.ElementTimeout
	}
	return 10 * time.Second
}

func (p *Profile) loggedInMarker() string {
	if p.Markers.LoggedIn != "" {
		return p.Markers.LoggedIn
	}
	return p.Markers.Control
}
