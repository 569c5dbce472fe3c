package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cloudlink/internal/logging"
	"cloudlink/internal/stomp"
)

const (
	writeTimeout = 5 * time.Second
	closeGrace   = time.Second
)

// conn wraps one websocket. A single reader goroutine feeds frames and the
// terminal read error to the session loop; writes are serialized because
// gorilla allows one concurrent writer.
type conn struct {
	ws     *websocket.Conn
	logger *logging.Logger

	frames chan []byte
	errs   chan error
	closed chan struct{}

	writeMu    sync.Mutex
	readFailed atomic.Bool
	once       sync.Once
}

func newConn(ws *websocket.Conn, logger *logging.Logger) *conn {
	c := &conn{
		ws:     ws,
		logger: logger,
		frames: make(chan []byte, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readFailed.Store(true)
			c.errs <- err
			return
		}
		select {
		case c.frames <- data:
		case <-c.closed:
			return
		}
	}
}

func (c *conn) send(command stomp.Command, headers []stomp.Header, body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, stomp.Encode(command, headers, body))
}

// closeAction returns the idempotent disconnect bound to subscriptionID. An
// empty id skips UNSUBSCRIBE.
func (c *conn) closeAction(subscriptionID string) func() {
	return func() {
		c.once.Do(func() {
			close(c.closed)
			if subscriptionID != "" && !c.readFailed.Load() {
				if err := c.send(stomp.Unsubscribe, []stomp.Header{{Key: "id", Value: subscriptionID}}, nil); err != nil {
					c.logger.Debug("unsubscribe failed", logging.Field("error", err))
				}
			}
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGrace))
			_ = c.ws.Close()
		})
	}
}
