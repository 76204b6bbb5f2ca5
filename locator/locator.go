// Package locator 在虚拟滚动列表中查找指定编号的商品。
//
// 虚拟列表只渲染可视窗口内的若干条目，没有下标访问，长度未知且随时变化，
// 所以只能做有界的线性扫描：并发探测当前窗口 -> 推断排序方向 -> 滚动锚点 -> 等待重新渲染，
// 直到找到目标、滚动位置不再变化（列表到头）或者超过滚动次数上限。
package locator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/xpzouying/livepilot/metrics"
)

var (
	// ErrNotFound 滚动位置不再变化，列表里没有目标
	ErrNotFound = errors.New("item not found")
	// ErrSearchExhausted 超过最大滚动次数
	ErrSearchExhausted = errors.New("item search exhausted")

	errFound = errors.New("found")
)

// Item 当前渲染窗口中的一个条目。句柄只在一次任务执行内有效，列表重新渲染后需要重新获取。
type Item interface {
	ID(ctx context.Context) (int, error)
}

// ItemList 虚拟滚动列表
type ItemList interface {
	// Items 当前渲染的条目，按 DOM 顺序
	Items(ctx context.Context) ([]Item, error)
	ScrollIntoView(ctx context.Context, item Item) error
	// ScrollOffset 滚动容器当前的偏移量
	ScrollOffset(ctx context.Context) (float64, error)
}

// Options 查找参数
type Options struct {
	// SettleDelay 滚动后等待列表重新渲染的时间
	SettleDelay time.Duration `mapstructure:"settle_delay" json:"settle_delay"`
	// MaxScrolls 最多滚动次数
	MaxScrolls int `mapstructure:"max_scrolls" json:"max_scrolls"`
	// Tolerance 偏移量变化小于等于该值视为没有滚动
	Tolerance float64 `mapstructure:"tolerance" json:"tolerance"`
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		SettleDelay: 600 * time.Millisecond,
		MaxScrolls:  50,
		Tolerance:   2,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SettleDelay <= 0 {
		o.SettleDelay = d.SettleDelay
	}
	if o.MaxScrolls <= 0 {
		o.MaxScrolls = d.MaxScrolls
	}
	if o.Tolerance < 0 {
		o.Tolerance = d.Tolerance
	}
	return o
}

// Found 查找结果
type Found struct {
	ID   int
	Item Item
	// Scrolls 找到之前滚动了几次
	Scrolls int
}

// Locate 在列表中查找编号为 target 的条目
func Locate(ctx context.Context, list ItemList, target int, opts Options) (*Found, error) {
	opts = opts.withDefaults()
	log := logrus.WithField("target", target)

	prevOffset, err := list.ScrollOffset(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read scroll offset")
	}

	for scrolls := 0; ; scrolls++ {
		items, err := list.Items(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list rendered items")
		}
		if len(items) == 0 {
			return nil, errors.Wrap(ErrNotFound, "list is empty")
		}

		res, err := probe(ctx, items, target)
		if err != nil {
			return nil, err
		}
		if res.found != nil {
			metrics.LocatorScrolls.Observe(float64(scrolls))
			log.WithField("scrolls", scrolls).Debug("找到目标商品")
			return &Found{ID: target, Item: res.found, Scrolls: scrolls}, nil
		}

		if scrolls >= opts.MaxScrolls {
			metrics.LocatorScrolls.Observe(float64(scrolls))
			return nil, errors.Wrapf(ErrSearchExhausted, "after %d scrolls", scrolls)
		}

		anchor := chooseAnchor(items, res, target)
		if err := list.ScrollIntoView(ctx, anchor); err != nil {
			return nil, errors.Wrap(err, "scroll anchor into view")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.SettleDelay):
		}

		offset, err := list.ScrollOffset(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "read scroll offset")
		}
		if math.Abs(offset-prevOffset) <= opts.Tolerance {
			metrics.LocatorScrolls.Observe(float64(scrolls + 1))
			return nil, errors.Wrapf(ErrNotFound, "scroll saturated at offset %.0f", offset)
		}
		log.WithFields(logrus.Fields{"offset": offset, "scrolls": scrolls + 1}).Debug("继续滚动查找")
		prevOffset = offset
	}
}

type probeResult struct {
	found Item
	// ids[i] 为 items[i] 的编号，ok[i] 表示读取成功
	ids []int
	ok  []bool
}

// probe 并发读取窗口内所有条目的编号，命中即取消其余探测。
// 全部读取失败时返回错误，部分失败按未命中处理。
func probe(ctx context.Context, items []Item, target int) (*probeResult, error) {
	res := &probeResult{
		ids: make([]int, len(items)),
		ok:  make([]bool, len(items)),
	}

	var (
		mu       sync.Mutex
		failures int
		lastErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, it := range items {
		g.Go(func() error {
			id, err := it.ID(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				lastErr = err
				return nil
			}
			res.ids[i] = id
			res.ok[i] = true
			if id == target && res.found == nil {
				res.found = it
				return errFound
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errFound) {
		return nil, err
	}
	if res.found != nil {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failures == len(items) {
		return nil, errors.Wrap(lastErr, "probe rendered items")
	}
	return res, nil
}

// chooseAnchor 根据首尾编号推断排序方向，决定往哪边滚：
// 目标在当前窗口"之前"则把第一个条目滚进视野，否则滚最后一个。
func chooseAnchor(items []Item, res *probeResult, target int) Item {
	first, last := -1, -1
	for i := 0; i < len(items); i++ {
		if res.ok[i] {
			first = i
			break
		}
	}
	for i := len(items) - 1; i >= 0; i-- {
		if res.ok[i] {
			last = i
			break
		}
	}
	if first < 0 {
		return items[len(items)-1]
	}

	firstID, lastID := res.ids[first], res.ids[last]
	ascending := firstID <= lastID

	towardStart := (ascending && target < firstID) || (!ascending && target > firstID)
	if towardStart {
		return items[first]
	}
	return items[last]
}
