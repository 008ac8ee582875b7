package signal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/consult/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("signaling connection closed")
)

const writeWait = 5 * time.Second

// Settings tune a signaling socket.
type Settings struct {
	ReadLimit  int64
	PingPeriod time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.ReadLimit <= 0 {
		s.ReadLimit = 64 << 10
	}
	if s.PingPeriod <= 0 {
		s.PingPeriod = 20 * time.Second
	}
	return s
}

// wsConn is one websocket with a buffered outbound queue drained by writePump.
type wsConn struct {
	conn    *websocket.Conn
	send    chan core.Frame
	closing chan struct{}
	done    chan struct{}
	logger  zerolog.Logger

	closingOnce sync.Once
	doneOnce    sync.Once
}

func newWSConn(ws *websocket.Conn, logger zerolog.Logger) *wsConn {
	return &wsConn{
		conn:    ws,
		send:    make(chan core.Frame, 32),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

func (c *wsConn) accepting() bool {
	select {
	case <-c.closing:
		return false
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *wsConn) TrySend(f core.Frame) error {
	if !c.accepting() {
		return ErrClosed
	}
	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrBackpressure
	}
}

// Send queues f, waiting for room until ctx is done.
func (c *wsConn) Send(ctx context.Context, f core.Frame) error {
	if !c.accepting() {
		return ErrClosed
	}
	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) Close() {
	c.doneOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// shutdown stops accepting frames; writePump flushes the queue, says goodbye
// and closes the socket.
func (c *wsConn) shutdown() {
	c.closingOnce.Do(func() { close(c.closing) })
}

func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) writePump(ping time.Duration) {
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				return
			}
		case <-c.closing:
			c.flush()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Warn().Err(err).Msg("writePump ping failed")
				return
			}
		}
	}
}

func (c *wsConn) flush() {
	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// readPump hands every text frame to handle until the socket fails.
func (c *wsConn) readPump(s Settings, handle func(core.Frame)) {
	defer func() {
		c.logger.Info().Msg("readPump closing")
		c.Close()
	}()

	pongWait := 2 * s.PingPeriod
	c.conn.SetReadLimit(s.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error().Err(err).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		handle(data)
	}
}
