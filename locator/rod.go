package locator

import (
	"context"
	"regexp"
	"strconv"

	"github.com/go-rod/rod"
	"github.com/pkg/errors"
)

var itemIDRe = regexp.MustCompile(`\d+`)

// ParseItemID 从条目文本中解析商品编号，取第一个数字串（例如 "3号"、"#12 链接"）
func ParseItemID(text string) (int, error) {
	m := itemIDRe.FindString(text)
	if m == "" {
		return 0, errors.Errorf("no item id in %q", text)
	}
	return strconv.Atoi(m)
}

// Selectors 列表相关的选择器，由站点配置提供
type Selectors struct {
	// Container 滚动容器
	Container string `mapstructure:"container" json:"container"`
	// Item 单个条目
	Item string `mapstructure:"item" json:"item"`
	// ItemID 条目内显示编号的元素，空表示直接取条目文本
	ItemID string `mapstructure:"item_id" json:"item_id"`
}

// RodList 基于 rod 页面的虚拟列表
type RodList struct {
	page *rod.Page
	sel  Selectors
}

func NewRodList(page *rod.Page, sel Selectors) *RodList {
	return &RodList{page: page, sel: sel}
}

// RodItem 条目句柄
type RodItem struct {
	el    *rod.Element
	idSel string
}

// Element 底层元素，只在本次任务执行内有效
func (it *RodItem) Element() *rod.Element { return it.el }

func (it *RodItem) ID(ctx context.Context) (int, error) {
	el := it.el.Context(ctx)
	if it.idSel != "" {
		// Elements 不会等待，条目被回收时直接返回空
		els, err := el.Elements(it.idSel)
		if err != nil {
			return 0, err
		}
		if len(els) == 0 {
			return 0, errors.Errorf("item id element %q not rendered", it.idSel)
		}
		el = els.First()
	}
	text, err := el.Text()
	if err != nil {
		return 0, err
	}
	return ParseItemID(text)
}

func (l *RodList) Items(ctx context.Context) ([]Item, error) {
	els, err := l.page.Context(ctx).Elements(l.sel.Item)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(els))
	for _, el := range els {
		items = append(items, &RodItem{el: el, idSel: l.sel.ItemID})
	}
	return items, nil
}

func (l *RodList) ScrollIntoView(ctx context.Context, item Item) error {
	it, ok := item.(*RodItem)
	if !ok {
		return errors.Errorf("unexpected item type %T", item)
	}
	return it.el.Context(ctx).ScrollIntoView()
}

func (l *RodList) ScrollOffset(ctx context.Context) (float64, error) {
	els, err := l.page.Context(ctx).Elements(l.sel.Container)
	if err != nil {
		return 0, err
	}
	if len(els) == 0 {
		return 0, errors.Errorf("scroll container %q not found", l.sel.Container)
	}
	res, err := els.First().Eval(`() => this.scrollTop`)
	if err != nil {
		return 0, err
	}
	return res.Value.Num(), nil
}
