package arena

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	sendQueueLen = 32
)

// wsPeer 为单个WebSocket连接排队写入，所有写操作由 writePump 串行执行。
type wsPeer struct {
	id   string
	conn *websocket.Conn

	mu      sync.Mutex
	queue   chan []byte
	closing bool

	done chan struct{}
}

func newPeer(id string, conn *websocket.Conn) *wsPeer {
	return &wsPeer{
		id:    id,
		conn:  conn,
		queue: make(chan []byte, sendQueueLen),
		done:  make(chan struct{}),
	}
}

// Send 非阻塞入队；队列已满或连接正在关闭时返回 false。
func (p *wsPeer) Send(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return false
	}
	select {
	case p.queue <- data:
		return true
	default:
		return false
	}
}

// Close 在已排队的消息发送完毕后关闭连接，可重复调用。
func (p *wsPeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return
	}
	p.closing = true
	close(p.queue)
}

// writePump 定期发送ping并写出队列中的消息
func (p *wsPeer) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		p.conn.Close()
		close(p.done)
	}()

	for {
		select {
		case data, ok := <-p.queue:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
