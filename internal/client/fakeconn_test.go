package client_test

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"tabletop-sync/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeConn feeds scripted server frames and captures client writes.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case raw := <-c.in:
		return websocket.TextMessage, raw, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.out <- raw
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(t *testing.T, msg any) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	c.in <- raw
}

// next waits for the next client write and decodes it into v.
func (c *fakeConn) next(t *testing.T, wantType string, v any) {
	t.Helper()
	select {
	case raw := <-c.out:
		typ, err := protocol.PeekType(raw)
		require.NoError(t, err)
		require.Equal(t, wantType, typ, "frame: %s", raw)
		if v != nil {
			require.NoError(t, json.Unmarshal(raw, v))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", wantType)
	}
}
