package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 64
)

// subscriptions tracks which case IDs a client wants events for.
type subscriptions struct {
	cases map[string]bool
	mu    sync.RWMutex
}

func newSubscriptions() *subscriptions {
	return &subscriptions{cases: make(map[string]bool)}
}

// Client is one dashboard WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan *WireEvent

	id     string
	userID string
	subs   *subscriptions
}

// NewClient constructs a Client bound to the given hub and connection.
func NewClient(id, userID string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan *WireEvent, sendBufferSize),
		id:     id,
		userID: userID,
		subs:   newSubscriptions(),
	}
}

func (c *Client) shouldReceive(caseID string) bool {
	c.subs.mu.RLock()
	defer c.subs.mu.RUnlock()
	return c.subs.cases[caseID]
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.sendResponse(errorResponse("error", "invalid command format"))
			continue
		}
		c.handleCommand(&cmd)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
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

func (c *Client) handleCommand(cmd *Command) {
	switch cmd.Action {
	case CmdSubscribe:
		if cmd.CaseID == "" {
			c.sendResponse(errorResponse(CmdSubscribe, "case_id required"))
			return
		}
		c.hub.Subscribe(c, cmd.CaseID)
		c.sendResponse(successResponse(CmdSubscribe, "subscribed to case: "+cmd.CaseID))
	case CmdUnsubscribe:
		if cmd.CaseID == "" {
			c.sendResponse(errorResponse(CmdUnsubscribe, "case_id required"))
			return
		}
		c.hub.Unsubscribe(c, cmd.CaseID)
		c.sendResponse(successResponse(CmdUnsubscribe, "unsubscribed from case: "+cmd.CaseID))
	default:
		c.sendResponse(errorResponse("error", "unknown command: "+cmd.Action))
	}
}

func (c *Client) sendResponse(resp *Response) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteJSON(resp)
}
