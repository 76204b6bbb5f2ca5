package site

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpzouying/livepilot/comment"
	"github.com/xpzouying/livepilot/locator"
	"github.com/xpzouying/livepilot/platform"
)

func baseProfile() Profile {
	return Profile{
		Name:            "demo",
		ControlURL:      "https://live.example.com/control",
		LoginURLPattern: `/login`,
		Markers:         Markers{Control: ".control-panel"},
	}
}

func fullProfile() Profile {
	p := baseProfile()
	p.DashboardURL = "https://live.example.com/dashboard"
	p.Goods = &GoodsProfile{
		List:        locator.Selectors{Container: ".goods-list", Item: ".goods-item", ItemID: ".goods-index"},
		PopupButton: ".btn-explain",
		ActiveClass: "active",
	}
	p.Comment = &CommentProfile{Input: "textarea.comment", MaxWidth: 10}
	p.Pin = &PinProfile{Messages: ".msg", Button: ".pin"}
	p.Listen = map[platform.Source]*ListenProfile{
		platform.SourceControlPanel: {
			URLPattern: `/api/comment/list`,
			Decoder:    comment.PathDecoder{Items: "data.list", ID: "id", Content: "content"},
		},
		platform.SourceDashboard: {
			URLPattern: `/api/screen/message`,
			Decoder:    comment.PathDecoder{ID: "msg_id"},
			KeepAlive:  KeepAliveProfile{Period: 5 * time.Second, Dismiss: []string{".modal-close"}},
		},
	}
	return p
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Profile)
		wantErr string
	}{
		{name: "完整配置", mutate: func(p *Profile) {}},
		{name: "缺少名字", mutate: func(p *Profile) { p.Name = "" }, wantErr: "name"},
		{name: "缺少中控台地址", mutate: func(p *Profile) { p.ControlURL = "" }, wantErr: "control_url"},
		{name: "缺少中控台标记", mutate: func(p *Profile) { p.Markers.Control = "" }, wantErr: "markers.control"},
		{name: "登录页正则非法", mutate: func(p *Profile) { p.LoginURLPattern = "(" }, wantErr: "login_url_pattern"},
		{name: "商品列表不完整", mutate: func(p *Profile) { p.Goods.PopupButton = "" }, wantErr: "goods"},
		{name: "评论缺少输入框", mutate: func(p *Profile) { p.Comment.Input = "" }, wantErr: "comment.input"},
		{name: "置顶不完整", mutate: func(p *Profile) { p.Pin.Button = "" }, wantErr: "pin"},
		{name: "大屏缺少地址", mutate: func(p *Profile) { p.DashboardURL = "" }, wantErr: "dashboard_url"},
		{name: "未知监听来源", mutate: func(p *Profile) {
			p.Listen["app"] = &ListenProfile{URLPattern: "x", Decoder: comment.PathDecoder{ID: "id"}}
		}, wantErr: "unknown listen source"},
		{name: "监听缺少解析路径", mutate: func(p *Profile) {
			p.Listen[platform.SourceControlPanel].Decoder = comment.PathDecoder{}
		}, wantErr: "decoder"},
		{name: "监听正则为空", mutate: func(p *Profile) {
			p.Listen[platform.SourceControlPanel].URLPattern = ""
		}, wantErr: "url_pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := fullProfile()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidProfile)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCapabilitiesFollowProfile(t *testing.T) {
	f, err := NewFactory(baseProfile())
	require.NoError(t, err)
	a := f()
	assert.Empty(t, platform.Capabilities(a))
	_, ok := platform.AsPopper(a)
	assert.False(t, ok)

	f, err = NewFactory(fullProfile())
	require.NoError(t, err)
	assert.ElementsMatch(t, []platform.Capability{
		platform.CapabilityPopup,
		platform.CapabilityComment,
		platform.CapabilityListen,
		platform.CapabilityPin,
	}, platform.Capabilities(f()))

	p := baseProfile()
	p.Comment = &CommentProfile{Input: "textarea"}
	f, err = NewFactory(p)
	require.NoError(t, err)
	assert.Equal(t, []platform.Capability{platform.CapabilityComment}, platform.Capabilities(f()))
}

func TestFactoryCreatesFreshAdapters(t *testing.T) {
	f, err := NewFactory(fullProfile())
	require.NoError(t, err)
	assert.NotSame(t, f(), f())
}

func TestRegisterAll(t *testing.T) {
	reg := platform.NewRegistry()
	other := fullProfile()
	other.Name = "other"
	require.NoError(t, RegisterAll(reg, []Profile{fullProfile(), other}))
	assert.Equal(t, []string{"demo", "other"}, reg.Kinds())

	bad := baseProfile()
	bad.ControlURL = ""
	assert.ErrorIs(t, RegisterAll(platform.NewRegistry(), []Profile{bad}), ErrInvalidProfile)
}

func TestAdapterRequiresSession(t *testing.T) {
	f, err := NewFactory(fullProfile())
	require.NoError(t, err)
	a := f().(*Adapter)
	ctx := context.Background()

	assert.ErrorIs(t, a.Popup(ctx, 1), platform.ErrNotConnected)
	assert.ErrorIs(t, a.Pin(ctx, "hi"), platform.ErrNotConnected)
	_, err = a.Comment(ctx, "hi", false)
	assert.ErrorIs(t, err, platform.ErrNotConnected)
	assert.ErrorIs(t, a.StartListening(ctx, func(platform.LiveMessage) {}, platform.SourceControlPanel), platform.ErrNotConnected)

	// 断开后可以重复调用
	a.Disconnect()
	a.StopListening()
}

func TestAdapterUnsupported(t *testing.T) {
	f, err := NewFactory(baseProfile())
	require.NoError(t, err)
	a := f().(*Adapter)
	ctx := context.Background()

	assert.ErrorIs(t, a.Popup(ctx, 1), platform.ErrUnsupported)
	assert.ErrorIs(t, a.Pin(ctx, "x"), platform.ErrUnsupported)
	_, err = a.Comment(ctx, "x", false)
	assert.ErrorIs(t, err, platform.ErrUnsupported)
	assert.ErrorIs(t, a.StartListening(ctx, nil, platform.SourceDashboard), platform.ErrUnsupported)
	assert.NoError(t, a.AfterLogin(ctx, nil), "没有配置大屏时不需要打开辅助页面")
}

func TestCommentWidth(t *testing.T) {
	f, err := NewFactory(fullProfile())
	require.NoError(t, err)
	a := f().(*Adapter)

	_, err = a.Comment(context.Background(), strings.Repeat("好", 6), false)
	assert.ErrorIs(t, err, platform.ErrMessageTooWide)
	assert.False(t, platform.IsRetryable(err))
}

func TestRandomDuration(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := randomDuration(300, 800)
		assert.GreaterOrEqual(t, d, 300*time.Millisecond)
		assert.LessOrEqual(t, d, 800*time.Millisecond)
	}
	assert.Equal(t, 500*time.Millisecond, randomDuration(500, 500))
}

func TestSleepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleep(context.Background(), time.Millisecond))
}
