package wsrouter

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrNoConn = errors.New("no underlying websocket connection")

const defaultWriteTimeout = 10 * time.Second

// Conn is a websocket connection safe for concurrent writers. Reads happen
// only inside WSRouter.ServeConn.
type Conn struct {
	ws           *websocket.Conn
	mu           sync.Mutex
	writeTimeout time.Duration
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:           ws,
		writeTimeout: defaultWriteTimeout,
	}
}

func (c *Conn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws == nil {
		return ErrNoConn
	}

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}

	return c.ws.WriteJSON(v)
}

// CloseWithCode sends a close frame with the given code and closes the
// underlying connection.
func (c *Conn) CloseWithCode(code int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws == nil {
		return ErrNoConn
	}

	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	return c.ws.Close()
}

func (c *Conn) Close() error {
	if c.ws == nil {
		return nil
	}

	return c.ws.Close()
}

func (c *Conn) RemoteAddr() string {
	if c.ws == nil {
		return ""
	}

	return c.ws.RemoteAddr().String()
}
