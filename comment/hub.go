package comment

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/metrics"
	"github.com/xpzouying/livepilot/platform"
)

const writeTimeout = 5 * time.Second

// Envelope 推送给 WebSocket 客户端的数据
type Envelope struct {
	Type    string `json:"type"`
	Account string `json:"account,omitempty"`
	Data    any    `json:"data"`
}

type client struct {
	account string
	send    chan []byte
}

// Hub WebSocket 广播。每个客户端一个有界队列，队列满时只丢弃该客户端的消息。
// 客户端可以通过 ?account= 只订阅某个账号。
type Hub struct {
	queue int

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(queue int) *Hub {
	if queue <= 0 {
		queue = 64
	}
	return &Hub{queue: queue, clients: make(map[*client]struct{})}
}

// Broadcast 实现 Broadcaster
func (h *Hub) Broadcast(account string, msg platform.LiveMessage) {
	h.Publish(Envelope{Type: "live_message", Account: account, Data: msg})
}

// Publish 广播任意数据，不阻塞
func (h *Hub) Publish(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logrus.WithError(err).Error("序列化广播消息失败")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.account != "" && env.Account != "" && c.account != env.Account {
			continue
		}
		select {
		case c.send <- data:
		default:
			metrics.BroadcastDrops.Inc()
			logrus.WithField("account", env.Account).Warn("WebSocket 客户端过慢，丢弃消息")
		}
	}
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close 断开所有客户端
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP 升级为 WebSocket 并持续推送，直到客户端断开或 Hub 关闭
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		logrus.WithError(err).Warn("WebSocket 握手失败")
		return
	}
	defer conn.CloseNow()

	c := &client{account: r.URL.Query().Get("account"), send: make(chan []byte, h.queue)}
	if !h.add(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(c)

	// 不读取客户端消息，对端关闭时 ctx 取消
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logrus.WithError(err).Debug("WebSocket 写入失败，断开客户端")
				return
			}
		}
	}
}
