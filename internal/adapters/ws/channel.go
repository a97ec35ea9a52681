package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const (
	DefaultConnectTimeout    = 20 * time.Second
	DefaultKeepaliveInterval = 10 * time.Second
	DefaultQueueSize         = 1000

	writeWait = 5 * time.Second
)

// Conn is an indirection over *websocket.Conn to ease testing.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	WriteControl(mt int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Options struct {
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	QueueSize         int
	Subprotocols      []string
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	return o
}

type Handlers struct {
	// OnMessage gets every inbound UTF-8 text frame.
	OnMessage func(data []byte)
	// Keepalive builds the frame sent after an idle window. Returning false
	// skips the tick.
	Keepalive func() ([]byte, bool)
	// OnClosed reports a terminal connection error. Called at most once and
	// never for a Close initiated locally.
	OnClosed func(err error)
}

// Channel is a full-duplex message channel. The write half is owned by the
// send loop; everyone else enqueues.
type Channel struct {
	conn     Conn
	handlers Handlers
	idle     time.Duration
	logger   zerolog.Logger

	queue     chan []byte
	closeCh   chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once

	sendDone chan struct{}
	recvDone chan struct{}
	sender   conc.WaitGroup

	terminal sync.Once
}

// Open dials endpoint and starts both loops.
func Open(ctx context.Context, endpoint string, header http.Header, opts Options, h Handlers) (*Channel, error) {
	opts = opts.withDefaults()
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.ConnectTimeout,
		Subprotocols:     opts.Subprotocols,
		Proxy:            http.ProxyFromEnvironment,
	}
	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, classifyDialError(dialCtx, err)
	}
	return Start(conn, opts, h), nil
}

func classifyDialError(ctx context.Context, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return &core.TransportError{Op: "connect", Err: errors.Join(core.ErrConnectTimeout, err)}
	}
	return &core.TransportError{Op: "connect", Err: errors.Join(core.ErrHandshake, err)}
}

// Start runs the send and receive loops over an already established conn.
func Start(conn Conn, opts Options, h Handlers) *Channel {
	opts = opts.withDefaults()
	c := &Channel{
		conn:     conn,
		handlers: h,
		idle:     opts.KeepaliveInterval,
		logger:   log.With().Str("module", "ws").Logger(),
		queue:    make(chan []byte, opts.QueueSize),
		closeCh:  make(chan struct{}),
		sendDone: make(chan struct{}),
		recvDone: make(chan struct{}),
	}
	c.sender.Go(c.sendLoop)
	go c.recvLoop()
	return c
}

// Send enqueues one frame. A full queue blocks the caller until there is
// room, the channel dies, or ctx is done.
func (c *Channel) Send(ctx context.Context, data []byte) error {
	if c.closing.Load() {
		return core.ErrClosed
	}
	select {
	case c.queue <- data:
		return nil
	case <-c.closeCh:
		return core.ErrClosed
	case <-c.sendDone:
		return core.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains and joins the send loop, then aborts the receive loop by
// closing the socket. Idempotent. The queue itself is never closed, so
// senders blocked on it are released through closeCh instead.
func (c *Channel) Close() {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.closing.Store(true)
		close(c.closeCh)
	})
	if !first {
		return
	}

	c.sender.Wait()
	_ = c.conn.Close()
	c.logger.Debug().Msg("channel closed")
}

// Done is closed when the receive loop has exited.
func (c *Channel) Done() <-chan struct{} { return c.recvDone }

func (c *Channel) fail(err error) {
	if c.closing.Load() {
		return
	}
	c.terminal.Do(func() {
		c.logger.Error().Err(err).Msg("connection failed")
		if c.handlers.OnClosed != nil {
			c.handlers.OnClosed(err)
		}
	})
}

func (c *Channel) sendLoop() {
	defer close(c.sendDone)

	timer := time.NewTimer(c.idle)
	defer timer.Stop()

	for {
		var frame []byte
		select {
		case data := <-c.queue:
			frame = data
		case <-c.closeCh:
			c.drain()
			return
		case <-timer.C:
			if c.handlers.Keepalive != nil {
				if ka, ok := c.handlers.Keepalive(); ok {
					frame = ka
				}
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.idle)

		if frame == nil {
			continue
		}
		if err := c.write(frame); err != nil {
			_ = c.conn.Close()
			c.fail(&core.TransportError{Op: "write", Err: errors.Join(core.ErrDisconnected, err)})
			return
		}
	}
}

// drain flushes what is already queued, then says goodbye.
func (c *Channel) drain() {
	for {
		select {
		case frame := <-c.queue:
			if err := c.write(frame); err != nil {
				c.logger.Debug().Err(err).Msg("drain stopped")
				return
			}
		default:
			c.logger.Debug().Msg("send queue drained, done sending")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Channel) write(frame []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	c.logger.Trace().Bytes("frame", frame).Msg("sending")
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Channel) recvLoop() {
	defer close(c.recvDone)
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closing.Load() {
				c.logger.Debug().Msg("stopped receiving")
				return
			}
			c.fail(&core.TransportError{Op: "read", Err: errors.Join(core.ErrDisconnected, err)})
			return
		}
		if mt != websocket.TextMessage {
			c.logger.Debug().Int("type", mt).Msg("ignoring non-text frame")
			continue
		}
		if !utf8.Valid(data) {
			c.logger.Warn().Int("len", len(data)).Msg("ignoring frame with invalid utf-8")
			continue
		}
		c.logger.Trace().Bytes("frame", data).Msg("received")
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(data)
		}
	}
}
