package site

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/mattn/go-runewidth"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/browser"
	"github.com/xpzouying/livepilot/comment"
	"github.com/xpzouying/livepilot/locator"
	"github.com/xpzouying/livepilot/platform"
)

// Adapter 基于 Profile 的通用适配器。一个实例只服务一个会话。
type Adapter struct {
	profile *Profile
	re      *compiled

	mu        sync.Mutex
	sess      browser.Session
	dashboard *rod.Page
	listening *comment.Listening
}

var (
	_ platform.Adapter       = (*Adapter)(nil)
	_ platform.PostLoginHook = (*Adapter)(nil)
	_ platform.Popper        = (*Adapter)(nil)
	_ platform.Commenter     = (*Adapter)(nil)
	_ platform.Listener      = (*Adapter)(nil)
	_ platform.Pinner        = (*Adapter)(nil)
	_ platform.Supporter     = (*Adapter)(nil)
)

// NewFactory 校验配置，返回创建适配器的工厂
func NewFactory(p Profile) (platform.Factory, error) {
	re, err := p.compile()
	if err != nil {
		return nil, err
	}
	return func() platform.Adapter {
		return &Adapter{profile: &p, re: re}
	}, nil
}

// RegisterAll 把所有站点注册到平台注册表
func RegisterAll(reg *platform.Registry, profiles []Profile) error {
	for _, p := range profiles {
		f, err := NewFactory(p)
		if err != nil {
			return err
		}
		reg.Register(p.Name, f)
		logrus.WithFields(logrus.Fields{
			"platform":     p.Name,
			"capabilities": platform.Capabilities(f()),
		}).Info("已注册平台")
	}
	return nil
}

func (a *Adapter) Supports(c platform.Capability) bool {
	return a.profile.Supports(c)
}

func (a *Adapter) session() (browser.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess == nil {
		return nil, platform.ErrNotConnected
	}
	select {
	case <-a.sess.Closed():
		return nil, browser.ErrPageClosed
	default:
	}
	return a.sess, nil
}

// Connect 打开中控台，等待"跳转到登录页"和"中控台标记可见"其中之一
func (a *Adapter) Connect(ctx context.Context, sess browser.Session) (bool, error) {
	a.mu.Lock()
	a.sess = sess
	a.mu.Unlock()

	log := logrus.WithField("platform", a.profile.Name)
	page := sess.Page().Context(ctx)
	if err := page.Navigate(a.profile.ControlURL); err != nil {
		return false, errors.Wrapf(platform.ErrNavigation, "open %s: %v", a.profile.ControlURL, err)
	}

	arrival, err := browser.RaceArrival(ctx, sess.Page(), a.re.loginURL, a.profile.Markers.Control)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, errors.Wrapf(platform.ErrNavigation, "wait for control page: %v", err)
	}
	log.WithField("arrival", arrival).Info("页面已到达")
	return arrival == browser.ArrivalControl, nil
}

// Login 等待用户在浏览器中完成登录，没有超时
func (a *Adapter) Login(ctx context.Context, sess browser.Session) error {
	marker := a.profile.loggedInMarker()
	logrus.WithField("platform", a.profile.Name).Info("请在浏览器中完成登录...")

	el, err := sess.Page().Context(ctx).Element(marker)
	if err == nil {
		err = el.WaitVisible()
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(platform.ErrLoginFailed, "wait for %s: %v", marker, err)
	}
	logrus.WithField("platform", a.profile.Name).Info("登录成功")
	return nil
}

// AfterLogin 配置了数据大屏监听时提前打开大屏页面
func (a *Adapter) AfterLogin(ctx context.Context, sess browser.Session) error {
	if _, ok := a.profile.Listen[platform.SourceDashboard]; !ok {
		return nil
	}
	_, err := a.dashboardPage(ctx, sess)
	return err
}

func (a *Adapter) dashboardPage(ctx context.Context, sess browser.Session) (*rod.Page, error) {
	a.mu.Lock()
	page := a.dashboard
	a.mu.Unlock()
	if page != nil {
		return page, nil
	}

	page, err := sess.OpenPage(ctx, a.profile.DashboardURL)
	if err != nil {
		return nil, errors.Wrapf(platform.ErrNavigation, "open dashboard: %v", err)
	}
	a.mu.Lock()
	a.dashboard = page
	a.mu.Unlock()
	return page, nil
}

func (a *Adapter) AccountName(ctx context.Context, sess browser.Session) (string, error) {
	if a.profile.AccountName == "" {
		return "", nil
	}
	el, err := a.element(ctx, sess.Page(), a.profile.AccountName)
	if err != nil {
		return "", err
	}
	name, err := el.Text()
	if err != nil {
		return "", errors.Wrap(err, "read account name")
	}
	return strings.TrimSpace(name), nil
}

func (a *Adapter) Disconnect() {
	a.StopListening()

	a.mu.Lock()
	dashboard := a.dashboard
	a.dashboard = nil
	a.sess = nil
	a.mu.Unlock()

	if dashboard != nil {
		_ = dashboard.Close()
	}
}

// Popup 在商品列表中找到编号为 itemID 的商品并点击讲解
func (a *Adapter) Popup(ctx context.Context, itemID int) error {
	g := a.profile.Goods
	if g == nil {
		return errors.Wrap(platform.ErrUnsupported, "popup")
	}
	sess, err := a.session()
	if err != nil {
		return err
	}

	list := locator.NewRodList(sess.Page(), g.List)
	found, err := locator.Locate(ctx, list, itemID, g.Locator)
	if err != nil {
		return errors.Wrapf(err, "locate item %d", itemID)
	}

	item, ok := found.Item.(*locator.RodItem)
	if !ok {
		return errors.Errorf("unexpected item type %T", found.Item)
	}
	buttons, err := item.Element().Context(ctx).Elements(g.PopupButton)
	if err != nil {
		return err
	}
	if len(buttons) == 0 {
		return errors.Wrapf(platform.ErrElementNotFound, "popup button for item %d", itemID)
	}
	button := buttons.First()

	if g.ActiveClass != "" && hasClass(button, g.ActiveClass) {
		// 已经在讲解中，先取消再重新弹出
		if err := click(button); err != nil {
			return err
		}
		if err := sleep(ctx, randomDuration(500, 1000)); err != nil {
			return err
		}
	}

	if err := click(button); err != nil {
		return err
	}
	if err := sleep(ctx, randomDuration(300, 800)); err != nil {
		return err
	}
	if g.ActiveClass != "" && !hasClass(button, g.ActiveClass) {
		return errors.Wrapf(platform.ErrToggleMismatch, "item %d", itemID)
	}

	logrus.WithFields(logrus.Fields{"item": itemID, "scrolls": found.Scrolls}).Debug("已点击讲解")
	return nil
}

// Comment 发送评论，pinToTop 时尝试置顶刚发送的评论，返回是否置顶成功
func (a *Adapter) Comment(ctx context.Context, text string, pinToTop bool) (bool, error) {
	cp := a.profile.Comment
	if cp == nil {
		return false, errors.Wrap(platform.ErrUnsupported, "comment")
	}
	if cp.MaxWidth > 0 && runewidth.StringWidth(text) > cp.MaxWidth {
		return false, errors.Wrapf(platform.ErrMessageTooWide, "width %d > %d", runewidth.StringWidth(text), cp.MaxWidth)
	}
	sess, err := a.session()
	if err != nil {
		return false, err
	}
	page := sess.Page()

	in, err := a.element(ctx, page, cp.Input)
	if err != nil {
		return false, err
	}
	if err := in.Context(ctx).Input(text); err != nil {
		return false, errors.Wrap(err, "input comment")
	}
	if err := sleep(ctx, randomDuration(300, 800)); err != nil {
		return false, err
	}

	if cp.Submit != "" {
		submit, err := a.element(ctx, page, cp.Submit)
		if err != nil {
			return false, err
		}
		if err := click(submit); err != nil {
			return false, err
		}
	} else if err := in.Context(ctx).Type(input.Enter); err != nil {
		return false, errors.Wrap(err, "press enter")
	}

	if !pinToTop || cp.PinButton == "" {
		return false, nil
	}
	if err := sleep(ctx, randomDuration(800, 1500)); err != nil {
		return false, err
	}
	buttons, err := page.Context(ctx).Elements(cp.PinButton)
	if err != nil || len(buttons) == 0 {
		logrus.WithError(err).Warn("没有找到置顶按钮")
		return false, nil
	}
	if err := click(buttons.Last()); err != nil {
		logrus.WithError(err).Warn("置顶失败")
		return false, nil
	}
	return true, nil
}

// Pin 在消息列表中从新到旧找到包含 text 的消息并置顶
func (a *Adapter) Pin(ctx context.Context, text string) error {
	pp := a.profile.Pin
	if pp == nil {
		return errors.Wrap(platform.ErrUnsupported, "pin")
	}
	sess, err := a.session()
	if err != nil {
		return err
	}

	rows, err := sess.Page().Context(ctx).Elements(pp.Messages)
	if err != nil {
		return err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		content, err := row.Text()
		if err != nil || !strings.Contains(content, text) {
			continue
		}
		buttons, err := row.Elements(pp.Button)
		if err != nil || len(buttons) == 0 {
			continue
		}
		if err := row.ScrollIntoView(); err != nil {
			return err
		}
		return click(buttons.First())
	}
	return errors.Wrapf(platform.ErrElementNotFound, "message %q to pin", text)
}

// StartListening 开始监听指定来源，已有监听时先停止
func (a *Adapter) StartListening(ctx context.Context, sink platform.Sink, source platform.Source) error {
	lp, ok := a.profile.Listen[source]
	if !ok {
		return errors.Wrapf(platform.ErrUnsupported, "listen source %s", source)
	}
	sess, err := a.session()
	if err != nil {
		return err
	}

	page := sess.Page()
	if source == platform.SourceDashboard {
		if page, err = a.dashboardPage(ctx, sess); err != nil {
			return err
		}
	}

	a.StopListening()

	decoder := lp.Decoder
	decoder.Source = source
	opts := comment.Options{
		Source:          source,
		Pattern:         a.re.listen[source],
		Decoder:         &decoder,
		KeepAlivePeriod: lp.KeepAlive.Period,
	}
	if len(lp.KeepAlive.Dismiss)+len(lp.KeepAlive.Click) > 0 {
		opts.KeepAlive = func(ctx context.Context) error {
			return keepAlive(ctx, page, lp.KeepAlive)
		}
	}

	// 监听的生命周期不跟随发起请求的 ctx
	l, err := comment.Listen(context.WithoutCancel(ctx), page, opts, sink)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.listening = l
	a.mu.Unlock()
	return nil
}

func (a *Adapter) StopListening() {
	a.mu.Lock()
	l := a.listening
	a.listening = nil
	a.mu.Unlock()

	if l != nil {
		l.Stop()
		logrus.WithField("platform", a.profile.Name).Info("已停止监听")
	}
}

// keepAlive 关闭可见的弹层，点击"有新消息"之类的提示
func keepAlive(ctx context.Context, page *rod.Page, k KeepAliveProfile) error {
	var firstErr error
	for _, sel := range append(append([]string(nil), k.Dismiss...), k.Click...) {
		els, err := page.Context(ctx).Elements(sel)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, el := range els {
			if visible, err := el.Visible(); err != nil || !visible {
				continue
			}
			if err := click(el); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// element 等待元素出现，超时按 ErrElementNotFound 处理
func (a *Adapter) element(ctx context.Context, page *rod.Page, selector string) (*rod.Element, error) {
	tctx, cancel := context.WithTimeout(ctx, a.profile.elementTimeout())
	defer cancel()

	el, err := page.Context(tctx).Element(selector)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(platform.ErrElementNotFound, "%s: %v", selector, err)
	}
	return el.Context(ctx), nil
}

func click(el *rod.Element) error {
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return errors.Wrap(err, "click")
	}
	return nil
}

func hasClass(el *rod.Element, class string) bool {
	attr, err := el.Attribute("class")
	if err != nil || attr == nil {
		return false
	}
	for _, c := range strings.Fields(*attr) {
		if c == class {
			return true
		}
	}
	return false
}

// randomDuration 生成指定范围内的随机时长（毫秒），模拟人的操作节奏
func randomDuration(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	return time.Duration(minMs+rand.Intn(maxMs-minMs+1)) * time.Millisecond
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
