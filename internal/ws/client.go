package ws

import (
	"encoding/json"
	"errors"
	"sync"

	"tabletop-sync/internal/store"

	"github.com/gorilla/websocket"
)

var ErrClientClosed = errors.New("client_closed")

// Client is one websocket connection. It implements protocol.Peer.
type Client struct {
	id            string
	sessionID     string
	participantID string
	role          string
	conn          *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, sessionID, participantID, role string, queue int) *Client {
	return &Client{
		id:            store.NewID(),
		sessionID:     sessionID,
		participantID: participantID,
		role:          role,
		conn:          conn,
		send:          make(chan []byte, queue),
	}
}

func (c *Client) ID() string            { return c.id }
func (c *Client) ParticipantID() string { return c.participantID }
func (c *Client) SessionID() string     { return c.sessionID }
func (c *Client) Role() string          { return c.role }

// Send queues msg for the write loop. A client whose queue is full is
// disconnected instead of blocking the sender.
func (c *Client) Send(msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- raw:
		return nil
	default:
		c.closeLocked()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		return ErrClientClosed
	}
}

func (c *Client) close() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
