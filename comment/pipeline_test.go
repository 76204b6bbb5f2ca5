package comment

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpzouying/livepilot/platform"
)

func TestRing(t *testing.T) {
	r := NewRing(3)
	assert.Empty(t, r.Recent(0))

	for i := 1; i <= 5; i++ {
		r.Add(platform.LiveMessage{ID: fmt.Sprint(i)})
	}
	assert.Equal(t, 3, r.Len())

	ids := func(msgs []platform.LiveMessage) []string {
		var out []string
		for _, m := range msgs {
			out = append(out, m.ID)
		}
		return out
	}
	assert.Equal(t, []string{"3", "4", "5"}, ids(r.Recent(0)))
	assert.Equal(t, []string{"4", "5"}, ids(r.Recent(2)))
	assert.Equal(t, []string{"3", "4", "5"}, ids(r.Recent(10)))
}

type panicBroadcaster struct{}

func (panicBroadcaster) Broadcast(account string, msg platform.LiveMessage) { panic("ws down") }

type recordBroadcaster struct {
	mu   sync.Mutex
	msgs []platform.LiveMessage
}

func (b *recordBroadcaster) Broadcast(account string, msg platform.LiveMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func TestFanOutIndependence(t *testing.T) {
	var got []platform.LiveMessage
	f := &FanOut{
		Account:     "acc",
		Sink:        func(msg platform.LiveMessage) { got = append(got, msg) },
		Broadcaster: panicBroadcaster{},
	}
	f.Deliver(platform.LiveMessage{ID: "1"})
	f.Deliver(platform.LiveMessage{ID: "2"})
	assert.Len(t, got, 2, "广播失败不影响进程内订阅者")

	rec := &recordBroadcaster{}
	f = &FanOut{
		Sink:        func(msg platform.LiveMessage) { panic("subscriber bug") },
		Broadcaster: rec,
	}
	f.Deliver(platform.LiveMessage{ID: "1"})
	assert.Len(t, rec.msgs, 1)
}

func TestInterceptorHandle(t *testing.T) {
	var got []platform.LiveMessage
	in := NewInterceptor(nil, nil, controlPanelDecoder(), platform.SourceControlPanel, func(msg platform.LiveMessage) {
		got = append(got, msg)
	})

	assert.Equal(t, 3, in.handle("https://live.example.com/api/comments", []byte(controlPanelPayload)))
	// 轮询返回重叠的列表时去重
	assert.Equal(t, 0, in.handle("https://live.example.com/api/comments", []byte(controlPanelPayload)))
	assert.Equal(t, 0, in.handle("https://live.example.com/api/comments", []byte(`not json`)))
	assert.Len(t, got, 3)
}

func TestInterceptorSeenWindow(t *testing.T) {
	in := NewInterceptor(nil, nil, nil, platform.SourceDashboard, nil)
	for i := 0; i < seenLimit+10; i++ {
		assert.False(t, in.duplicate(fmt.Sprint(i)))
	}
	assert.Len(t, in.seen, seenLimit)
	assert.False(t, in.duplicate("0"), "超出窗口的 id 被淘汰")
	assert.True(t, in.duplicate(fmt.Sprint(seenLimit+9)))
	assert.False(t, in.duplicate(""))
	assert.False(t, in.duplicate(""))
}

func TestKeepAliveStopsWithListening(t *testing.T) {
	var steps atomic.Int32
	l := start(context.Background(), func(ctx context.Context) {
		KeepAlive(ctx, time.Millisecond, func(ctx context.Context) error {
			steps.Add(1)
			return fmt.Errorf("overlay not found")
		})
	})

	require.Eventually(t, func() bool { return steps.Load() >= 3 }, time.Second, time.Millisecond)
	l.Stop()
	l.Stop()

	n := steps.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, steps.Load())

	select {
	case <-l.Done():
	default:
		t.Fatal("listening not done after Stop")
	}
}

func TestListenRequiresDecoder(t *testing.T) {
	_, err := Listen(context.Background(), nil, Options{}, func(platform.LiveMessage) {})
	assert.Error(t, err)
}

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	return string(data)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(8)
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)

	all := dialHub(t, srv, "")
	onlyB := dialHub(t, srv, "?account=B")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 5*time.Second, time.Millisecond)

	hub.Broadcast("A", platform.LiveMessage{ID: "a1", Content: "hi"})
	hub.Broadcast("B", platform.LiveMessage{ID: "b1"})

	first := readEnvelope(t, all)
	assert.Contains(t, first, `"account":"A"`)
	assert.Contains(t, first, `"type":"live_message"`)
	assert.Contains(t, first, `"id":"a1"`)
	assert.Contains(t, readEnvelope(t, all), `"id":"b1"`)

	assert.Contains(t, readEnvelope(t, onlyB), `"id":"b1"`)
}

func TestHubSlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub(1)
	c := &client{send: make(chan []byte, 1)}
	require.True(t, hub.add(c))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Broadcast("A", platform.LiveMessage{ID: fmt.Sprint(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on slow client")
	}
	assert.Len(t, c.send, 1)

	hub.Close()
	_, ok := <-c.send
	assert.True(t, ok)
	_, ok = <-c.send
	assert.False(t, ok)
	assert.False(t, hub.add(&client{send: make(chan []byte, 1)}))
}
