package ws

import (
	"sync"

	"github.com/tufan8877/whisper3-sub000/internal/metrics"
	"github.com/tufan8877/whisper3-sub000/internal/service"
)

// Hub 是进程内唯一的连接注册表：每个身份至多一个活跃投递目标。
// 它在服务启动时构造并注入，join/close 并发地增删条目，全部在一把锁下。
type Hub struct {
	mu       sync.Mutex
	clients  map[uint]*Client
	ipConns  map[string]int
	maxPerIP int
}

func NewHub(maxPerIP int) *Hub {
	if maxPerIP <= 0 {
		maxPerIP = 8
	}
	return &Hub{
		clients:  make(map[uint]*Client),
		ipConns:  make(map[string]int),
		maxPerIP: maxPerIP,
	}
}

// AcquireIP 在握手前占用一个来源地址配额，超过上限时拒绝。
func (h *Hub) AcquireIP(ip string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ipConns[ip] >= h.maxPerIP {
		return false
	}
	h.ipConns[ip]++
	return true
}

func (h *Hub) ReleaseIP(ip string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ipConns[ip] <= 1 {
		delete(h.ipConns, ip)
		return
	}
	h.ipConns[ip]--
}

// Register 登记 userID 的投递目标并返回被顶掉的旧连接（如有）。
// 后 join 者获胜：调用方负责用 CloseSessionReplaced 关掉返回的旧连接。
func (h *Hub) Register(userID uint, c *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.clients[userID]
	h.clients[userID] = c
	metrics.WsConnections.Inc()
	if prev != nil {
		metrics.WsConnections.Dec()
	}
	return prev
}

// Unregister 只在 c 仍是 userID 的当前条目时移除并返回 true；
// 已被新连接顶掉的旧连接在收尾时拿到 false，不得触碰在线状态。
func (h *Hub) Unregister(userID uint, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] != c {
		return false
	}
	delete(h.clients, userID)
	metrics.WsConnections.Dec()
	return true
}

// Joined 报告某身份当前是否有活跃投递目标。
func (h *Hub) Joined(userID uint) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[userID] != nil
}

// Push 向某身份的活跃连接投递一帧。没有活跃连接不算错误；
// 写缓冲已满的慢消费者直接丢帧，绝不阻塞摄入路径。
func (h *Hub) Push(userID uint, data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.clients[userID]
	if c == nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Deliver 把新消息推给发送方和接收方的活跃连接，两边互不影响。
func (h *Hub) Deliver(m service.MessageDTO) {
	ev := evNewMessage(m)
	h.Push(m.SenderID, ev)
	h.Push(m.ReceiverID, ev)
}

// BroadcastStatus 把上下线事件推给除本人外的所有已 join 连接。
func (h *Hub) BroadcastStatus(userID uint, online bool) {
	ev := evUserStatus(userID, online)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		if id == userID {
			continue
		}
		select {
		case c.send <- ev:
		default:
		}
	}
}
