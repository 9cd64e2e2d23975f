package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 4096

	// sendQueueSize bounds the per-connection outbound queue; a peer that
	// cannot drain this many events gets disconnected.
	sendQueueSize = 256
)

// Client is one live, authenticated connection. A connection exists only in
// process memory and is destroyed on disconnect.
type Client struct {
	ID          string
	UserID      string
	Role        string
	ConnectedAt time.Time

	conn *websocket.Conn
	send chan Event

	sendMu sync.Mutex
	closed bool

	// joined is guarded by the hub's mutex.
	joined map[string]struct{}
}

func NewClient(conn *websocket.Conn, userID, role string) *Client {
	return &Client{
		ID:          primitive.NewObjectID().Hex(),
		UserID:      userID,
		Role:        role,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan Event, sendQueueSize),
		joined:      make(map[string]struct{}),
	}
}

// enqueue queues an event without blocking. Returns false when the queue is
// full, which the hub treats as a dead peer.
func (c *Client) enqueue(event Event) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) closeConn() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// writePump drains the outbound queue onto the socket and keeps the
// connection alive with pings. One writePump per connection; it exits when the
// queue is closed or the peer stops answering.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
