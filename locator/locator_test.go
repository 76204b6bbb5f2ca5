package locator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeList 模拟虚拟滚动：ids 全量数据，只暴露 [start, start+window) 的条目
type fakeList struct {
	mu      sync.Mutex
	ids     []int
	window  int
	start   int
	broken  map[int]bool
	scrolls int
}

type fakeItem struct {
	list *fakeList
	abs  int
}

func (it *fakeItem) ID(ctx context.Context) (int, error) {
	if it.list.broken[it.abs] {
		return 0, errors.New("detached node")
	}
	return it.list.ids[it.abs], nil
}

func (l *fakeList) Items(ctx context.Context) ([]Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	end := min(l.start+l.window, len(l.ids))
	items := make([]Item, 0, end-l.start)
	for i := l.start; i < end; i++ {
		items = append(items, &fakeItem{list: l, abs: i})
	}
	return items, nil
}

func (l *fakeList) ScrollIntoView(ctx context.Context, item Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scrolls++
	a := item.(*fakeItem).abs
	maxStart := max(len(l.ids)-l.window, 0)
	switch {
	case a == l.start:
		l.start = max(l.start-l.window+1, 0)
	default:
		l.start = min(a, maxStart)
	}
	return nil
}

func (l *fakeList) ScrollOffset(ctx context.Context) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return float64(l.start * 10), nil
}

func seq(from, to int) []int {
	var out []int
	if from <= to {
		for i := from; i <= to; i++ {
			out = append(out, i)
		}
		return out
	}
	for i := from; i >= to; i-- {
		out = append(out, i)
	}
	return out
}

func fastOptions() Options {
	return Options{SettleDelay: time.Microsecond, MaxScrolls: 200, Tolerance: 2}
}

func TestLocate(t *testing.T) {
	tests := []struct {
		name    string
		ids     []int
		start   int
		target  int
		wantErr error
	}{
		{name: "在首屏", ids: seq(1, 30), target: 3},
		{name: "升序向下滚", ids: seq(1, 100), target: 42},
		{name: "降序向下滚", ids: seq(100, 1), target: 3},
		{name: "升序向上滚", ids: seq(1, 100), start: 80, target: 3},
		{name: "降序向上滚", ids: seq(100, 1), start: 80, target: 97},
		{name: "不存在", ids: seq(1, 40), target: 41, wantErr: ErrNotFound},
		{name: "空列表", ids: nil, target: 1, wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &fakeList{ids: tt.ids, window: 6, start: tt.start}
			found, err := Locate(context.Background(), l, tt.target, fastOptions())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.target, found.ID)
			assert.Equal(t, tt.target, tt.ids[found.Item.(*fakeItem).abs])
			assert.Equal(t, l.scrolls, found.Scrolls)
		})
	}
}

func TestLocateExhausted(t *testing.T) {
	l := &fakeList{ids: seq(1, 100), window: 5}
	opts := fastOptions()
	opts.MaxScrolls = 2

	_, err := Locate(context.Background(), l, 99, opts)
	assert.ErrorIs(t, err, ErrSearchExhausted)
	assert.Equal(t, 2, l.scrolls)
}

func TestLocateAllProbesFail(t *testing.T) {
	l := &fakeList{ids: seq(1, 3), window: 3, broken: map[int]bool{0: true, 1: true, 2: true}}

	_, err := Locate(context.Background(), l, 2, fastOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detached node")
}

func TestLocatePartialProbeFailure(t *testing.T) {
	// 首个条目读取失败时用剩下的条目推断方向
	l := &fakeList{ids: seq(1, 50), window: 5, broken: map[int]bool{0: true}}

	found, err := Locate(context.Background(), l, 20, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, 20, found.ID)
}

func TestLocateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := &fakeList{ids: seq(1, 100), window: 5}

	opts := fastOptions()
	opts.SettleDelay = time.Hour
	_, err := Locate(ctx, l, 90, opts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChooseAnchor(t *testing.T) {
	l := &fakeList{ids: seq(10, 14), window: 5}
	items, _ := l.Items(context.Background())
	res := &probeResult{ids: seq(10, 14), ok: []bool{true, true, true, true, true}}

	assert.Same(t, items[0], chooseAnchor(items, res, 3))
	assert.Same(t, items[4], chooseAnchor(items, res, 30))

	res.ok = []bool{false, false, false, false, false}
	assert.Same(t, items[4], chooseAnchor(items, res, 3))
}

func TestParseItemID(t *testing.T) {
	tests := []struct {
		text    string
		want    int
		wantErr bool
	}{
		{text: "3", want: 3},
		{text: "12号", want: 12},
		{text: "#7 链接", want: 7},
		{text: " 45\n", want: 45},
		{text: "讲解中", wantErr: true},
		{text: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseItemID(tt.text)
		if tt.wantErr {
			assert.Error(t, err, tt.text)
			continue
		}
		require.NoError(t, err, tt.text)
		assert.Equal(t, tt.want, got)
	}
}

// 任意列表形状下查找都会结束，目标存在时一定能找到
func TestLocateTerminates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 120).Draw(t, "n")
		window := rapid.IntRange(2, 12).Draw(t, "window")
		desc := rapid.Bool().Draw(t, "desc")
		start := rapid.IntRange(0, max(n-window, 0)).Draw(t, "start")
		target := rapid.IntRange(0, n+5).Draw(t, "target")

		ids := seq(1, n)
		if desc {
			ids = seq(n, 1)
		}
		l := &fakeList{ids: ids, window: window, start: start}
		opts := fastOptions()
		opts.MaxScrolls = n + 1

		found, err := Locate(context.Background(), l, target, opts)
		exists := target >= 1 && target <= n
		if exists {
			if err != nil {
				t.Fatalf("target %d not found: %v", target, err)
			}
			if found.ID != target {
				t.Fatalf("found %d, want %d", found.ID, target)
			}
			return
		}
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
