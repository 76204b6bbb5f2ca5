package comment

import (
	"sync"

	"github.com/xpzouying/livepilot/platform"
)

// Ring 保留最近 N 条消息
type Ring struct {
	mu    sync.Mutex
	buf   []platform.LiveMessage
	next  int
	count int
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = 200
	}
	return &Ring{buf: make([]platform.LiveMessage, size)}
}

func (r *Ring) Add(msg platform.LiveMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = msg
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Recent 最近的 n 条，按时间先后排列；n <= 0 返回全部
func (r *Ring) Recent(n int) []platform.LiveMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]platform.LiveMessage, 0, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
