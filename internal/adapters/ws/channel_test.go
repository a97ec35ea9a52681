package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoServer struct {
	*httptest.Server
	mu       sync.Mutex
	received []string
	conns    chan *websocket.Conn
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	s := &echoServer{conns: make(chan *websocket.Conn, 1)}
	up := websocket.Upgrader{Subprotocols: []string{"janus-protocol"}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, string(data))
			s.mu.Unlock()
			_ = conn.WriteMessage(mt, data)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *echoServer) url() string { return "ws" + strings.TrimPrefix(s.URL, "http") }

func (s *echoServer) frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func TestChannel_SendAndReceive(t *testing.T) {
	srv := newEchoServer(t)
	got := make(chan string, 4)

	ch, err := Open(context.Background(), srv.url(), nil,
		Options{Subprotocols: []string{"janus-protocol"}},
		Handlers{OnMessage: func(b []byte) { got <- string(b) }})
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Send(context.Background(), []byte(`{"janus":"create"}`)))
	select {
	case msg := <-got:
		assert.Equal(t, `{"janus":"create"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}
}

func TestChannel_KeepaliveAfterIdle(t *testing.T) {
	srv := newEchoServer(t)
	var calls atomic.Int32

	ch, err := Open(context.Background(), srv.url(), nil,
		Options{KeepaliveInterval: 50 * time.Millisecond},
		Handlers{Keepalive: func() ([]byte, bool) {
			calls.Add(1)
			return []byte(`{"janus":"keepalive"}`), true
		}})
	require.NoError(t, err)
	defer ch.Close()

	require.Eventually(t, func() bool {
		for _, f := range srv.frames() {
			if f == `{"janus":"keepalive"}` {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestChannel_KeepaliveSkippedWithoutSession(t *testing.T) {
	srv := newEchoServer(t)
	var calls atomic.Int32

	ch, err := Open(context.Background(), srv.url(), nil,
		Options{KeepaliveInterval: 20 * time.Millisecond},
		Handlers{Keepalive: func() ([]byte, bool) {
			calls.Add(1)
			return nil, false
		}})
	require.NoError(t, err)
	defer ch.Close()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, srv.frames())
}

func TestChannel_TrafficResetsIdleWindow(t *testing.T) {
	srv := newEchoServer(t)
	var calls atomic.Int32

	ch, err := Open(context.Background(), srv.url(), nil,
		Options{KeepaliveInterval: 300 * time.Millisecond},
		Handlers{Keepalive: func() ([]byte, bool) {
			calls.Add(1)
			return []byte(`ka`), true
		}})
	require.NoError(t, err)
	defer ch.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, ch.Send(context.Background(), []byte(`x`)))
		time.Sleep(100 * time.Millisecond)
	}
	assert.Zero(t, calls.Load())
}

func TestChannel_NonTextFramesSkipped(t *testing.T) {
	srv := newEchoServer(t)
	got := make(chan string, 4)

	ch, err := Open(context.Background(), srv.url(), nil, Options{},
		Handlers{OnMessage: func(b []byte) { got <- string(b) }})
	require.NoError(t, err)
	defer ch.Close()

	conn := <-srv.conns
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))

	select {
	case msg := <-got:
		assert.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("text frame not delivered")
	}
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	srv := newEchoServer(t)
	var closed atomic.Int32

	ch, err := Open(context.Background(), srv.url(), nil, Options{},
		Handlers{OnClosed: func(error) { closed.Add(1) }})
	require.NoError(t, err)

	ch.Close()
	ch.Close()

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop still running")
	}
	assert.Zero(t, closed.Load())
	assert.ErrorIs(t, ch.Send(context.Background(), []byte("late")), core.ErrClosed)
}

func TestChannel_RemoteCloseReportedOnce(t *testing.T) {
	srv := newEchoServer(t)
	errs := make(chan error, 4)

	ch, err := Open(context.Background(), srv.url(), nil, Options{},
		Handlers{OnClosed: func(err error) { errs <- err }})
	require.NoError(t, err)
	defer ch.Close()

	conn := <-srv.conns
	require.NoError(t, conn.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, core.ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("no terminal error")
	}
	select {
	case err := <-errs:
		t.Fatalf("second terminal error: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOpen_HandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := Open(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil, Options{}, Handlers{})
	require.Error(t, err)
	var te *core.TransportError
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, core.ErrHandshake)
}

func TestOpen_Timeout(t *testing.T) {
	hold := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-hold
	}))
	defer srv.Close()
	defer close(hold)

	_, err := Open(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil,
		Options{ConnectTimeout: 100 * time.Millisecond}, Handlers{})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConnectTimeout)
}

// stallConn blocks the first write until release delivers its outcome.
type stallConn struct {
	writing   chan struct{}
	release   chan error
	closed    chan struct{}
	closeOnce sync.Once
	started   sync.Once
}

func newStallConn() *stallConn {
	return &stallConn{
		writing: make(chan struct{}),
		release: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (s *stallConn) ReadMessage() (int, []byte, error) {
	<-s.closed
	return 0, nil, errors.New("use of closed connection")
}

func (s *stallConn) WriteMessage(int, []byte) error {
	s.started.Do(func() { close(s.writing) })
	select {
	case err := <-s.release:
		return err
	case <-s.closed:
		return errors.New("use of closed connection")
	}
}

func (s *stallConn) WriteControl(int, []byte, time.Time) error { return nil }
func (s *stallConn) SetWriteDeadline(time.Time) error          { return nil }

func (s *stallConn) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func TestChannel_CloseWithFullQueueAndFailingWrite(t *testing.T) {
	conn := newStallConn()
	ch := Start(conn, Options{QueueSize: 1, KeepaliveInterval: time.Hour}, Handlers{})

	require.NoError(t, ch.Send(context.Background(), []byte("a")))
	select {
	case <-conn.writing:
	case <-time.After(2 * time.Second):
		t.Fatal("first frame never written")
	}
	require.NoError(t, ch.Send(context.Background(), []byte("b")))

	blocked := make(chan error, 1)
	go func() { blocked <- ch.Send(context.Background(), []byte("c")) }()

	closed := make(chan struct{})
	go func() {
		ch.Close()
		close(closed)
	}()

	time.Sleep(50 * time.Millisecond)
	conn.release <- errors.New("broken pipe")

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, core.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Send did not return")
	}
}

func TestChannel_CloseFlushesQueued(t *testing.T) {
	srv := newEchoServer(t)
	ch, err := Open(context.Background(), srv.url(), nil, Options{}, Handlers{})
	require.NoError(t, err)

	for _, f := range []string{"1", "2", "3"} {
		require.NoError(t, ch.Send(context.Background(), []byte(f)))
	}
	ch.Close()

	require.Eventually(t, func() bool { return len(srv.frames()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"1", "2", "3"}, srv.frames())
}
