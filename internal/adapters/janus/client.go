package janus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dkeye/rtcsignal/internal/adapters/ws"
	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultEndpoint = "ws://127.0.0.1:8188"
	subprotocol     = "janus-protocol"
	leaveTimeout    = 5 * time.Second
)

type Settings struct {
	Endpoint          string
	RoomID            string
	FeedID            string
	DisplayName       string
	SecretKey         string
	StringIDs         bool
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	QueueSize         int
}

func (s Settings) apiSecret() *string {
	if s.SecretKey == "" {
		return nil
	}
	v := s.SecretKey
	return &v
}

func (s Settings) display() *string {
	if s.DisplayName == "" {
		return nil
	}
	v := s.DisplayName
	return &v
}

// Status is a point-in-time view for the status API.
type Status struct {
	State     string `json:"state"`
	SessionID uint64 `json:"session_id,omitempty"`
	HandleID  uint64 `json:"handle_id,omitempty"`
	Room      string `json:"room,omitempty"`
	Feed      string `json:"feed,omitempty"`
}

type pendingCandidate struct {
	candidate string
	mline     uint16
}

// Client is a Janus VideoRoom publisher signaller.
type Client struct {
	logger zerolog.Logger

	mu       sync.Mutex
	settings Settings
	observer core.SignallerObserver

	ch          *ws.Channel
	gen         uint64
	state       State
	sessionID   uint64
	handleID    uint64
	hasSession  bool
	hasHandle   bool
	joined      bool
	transaction string
	ids         *RoomIdentity
	pending     []pendingCandidate
	left        bool
	failed      bool
}

var _ core.Signaller = (*Client)(nil)
var _ core.URIProvider = (*Client)(nil)

func NewClient(s Settings) *Client {
	if s.Endpoint == "" {
		s.Endpoint = DefaultEndpoint
	}
	if s.FeedID == "" {
		s.FeedID = RandomFeedID()
	}
	return &Client{
		logger:   log.With().Str("module", "janus").Logger(),
		settings: s,
		observer: nopObserver{},
	}
}

func (c *Client) SetObserver(o core.SignallerObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o == nil {
		o = nopObserver{}
	}
	c.observer = o
}

// SetSettings replaces the settings used by the next request. In-flight
// requests keep the snapshot they were built with.
func (c *Client) SetSettings(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.FeedID == "" {
		s.FeedID = c.settings.FeedID
	}
	c.settings = s
}

func (c *Client) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

func (c *Client) URI() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Endpoint
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state.String(), SessionID: c.sessionID, HandleID: c.handleID}
	if c.ids != nil {
		st.Room = c.ids.Room.String()
		st.Feed = c.ids.Feed.String()
	}
	return st
}

// Start dials the gateway and sends the create request. The session and
// room handshake continues asynchronously.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateClosed {
		c.mu.Unlock()
		return core.ErrAlreadyStarted
	}
	settings := c.settings
	if settings.RoomID == "" {
		c.mu.Unlock()
		return core.ErrRoomIDRequired
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.logger.Info().Str("endpoint", settings.Endpoint).Msg("connecting")
	ch, err := ws.Open(ctx, settings.Endpoint, nil,
		ws.Options{
			ConnectTimeout:    settings.ConnectTimeout,
			KeepaliveInterval: settings.KeepaliveInterval,
			QueueSize:         settings.QueueSize,
			Subprotocols:      []string{subprotocol},
		},
		ws.Handlers{
			OnMessage: func(b []byte) { c.handleFrame(gen, b) },
			Keepalive: func() ([]byte, bool) { return c.keepalive(gen) },
			OnClosed:  func(err error) { c.fail(gen, err) },
		})
	if err != nil {
		c.logger.Error().Err(err).Msg("connect failed")
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		ch.Close()
		return core.ErrClosed
	}
	c.ch = ch
	c.state = StateConnected
	c.left = false
	c.failed = false
	c.transaction = NewTransaction()
	frame, err := encodeCreateSession(c.requestLocked())
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return ch.Send(ctx, frame)
}

// Stop leaves the room if joined, drains the outbound queue and drops the
// session. Calling it again is a no-op.
func (c *Client) Stop() {
	c.mu.Lock()
	ch := c.ch
	c.ch = nil
	c.gen++
	leave := c.leaveFrameLocked()
	wasJoined := c.joined
	sid := c.sessionID
	observer := c.observer
	c.resetLocked()
	if c.state != StateIdle {
		c.state = StateClosed
	}
	c.mu.Unlock()

	if ch != nil {
		c.logger.Info().Msg("stopping")
		if leave != nil {
			ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
			if err := ch.Send(ctx, leave); err != nil {
				c.logger.Warn().Err(err).Msg("leave not sent")
			}
			cancel()
		}
		ch.Close()
	}
	if wasJoined {
		observer.OnSessionEnded(strconv.FormatUint(sid, 10))
	}
}

func (c *Client) SendSDP(ctx context.Context, _ string, desc webrtc.SessionDescription) error {
	c.mu.Lock()
	if c.ch == nil || !c.hasHandle {
		c.mu.Unlock()
		return core.ErrNoSession
	}
	var request string
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if !CanPublish(c.state) {
			c.mu.Unlock()
			return core.ErrNotJoined
		}
		request = "publish"
		c.state = StatePublishing
	case webrtc.SDPTypeAnswer:
		request = "start"
	default:
		c.mu.Unlock()
		return fmt.Errorf("janus: cannot send sdp of type %s", desc.Type)
	}
	c.transaction = NewTransaction()
	frame, err := encodeJsep(c.requestLocked(), request, desc.Type.String(), desc.SDP)
	ch := c.ch
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.logger.Info().Str("request", request).Msg("sending local description")
	return ch.Send(ctx, frame)
}

// AddICE trickles one local candidate. Candidates produced before the plugin
// handle exists are buffered and flushed right after attach.
func (c *Client) AddICE(ctx context.Context, _ string, candidate string, mline uint16) error {
	c.mu.Lock()
	if c.ch == nil {
		c.mu.Unlock()
		return core.ErrNoSession
	}
	if !c.hasHandle {
		c.pending = append(c.pending, pendingCandidate{candidate: candidate, mline: mline})
		c.mu.Unlock()
		c.logger.Debug().Uint16("mline", mline).Msg("buffering candidate until attached")
		return nil
	}
	frame, err := encodeTrickle(c.requestLocked(), candidate, mline)
	ch := c.ch
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return ch.Send(ctx, frame)
}

// EndSession leaves the room. The connection stays up until Stop.
func (c *Client) EndSession(ctx context.Context, _ string) error {
	c.mu.Lock()
	ch := c.ch
	leave := c.leaveFrameLocked()
	c.mu.Unlock()
	if ch == nil || leave == nil {
		return nil
	}
	return ch.Send(ctx, leave)
}

func (c *Client) handleFrame(gen uint64, frame []byte) {
	reply, err := DecodeReply(frame)
	if err != nil {
		c.logger.Warn().Err(err).Str("frame", string(frame)).Msg("unknown message from server")
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	prev := c.state
	d := Decide(c.state, reply)
	c.state = d.Next
	observer := c.observer
	ch := c.ch

	var frames [][]byte
	var emit func()

	switch d.Action {
	case ActionAttach:
		c.sessionID, c.hasSession = d.ID, true
		c.transaction = NewTransaction()
		c.logger.Debug().Uint64("session", d.ID).Msg("session created")
		frames = c.appendEncoded(frames, encodeAttach)
	case ActionJoin:
		c.handleID, c.hasHandle = d.ID, true
		if c.ids == nil {
			ids := ResolveRoomIdentity(c.settings.RoomID, c.settings.FeedID, c.settings.StringIDs)
			c.ids = &ids
		}
		c.transaction = NewTransaction()
		ids, display := *c.ids, c.settings.display()
		c.logger.Debug().Uint64("handle", d.ID).Str("room", ids.Room.String()).Msg("plugin attached")
		frames = c.appendEncoded(frames, func(r requestContext) ([]byte, error) {
			return encodeRoomRequest(r, "join", ids, display)
		})
		for _, p := range c.pending {
			frames = c.appendEncoded(frames, func(r requestContext) ([]byte, error) {
				return encodeTrickle(r, p.candidate, p.mline)
			})
		}
		c.pending = nil
	case ActionSessionRequested:
		c.joined = true
		sid, room := strconv.FormatUint(c.sessionID, 10), c.ids.Room.String()
		c.logger.Info().Str("room", room).Msg("joined room")
		emit = func() {
			observer.OnSessionStarted(sid, room)
			observer.OnSessionRequested(sid, room)
		}
	case ActionRemoteAnswer, ActionRemoteOffer:
		typ := webrtc.SDPTypeAnswer
		if d.Action == ActionRemoteOffer {
			typ = webrtc.SDPTypeOffer
		}
		desc := webrtc.SessionDescription{Type: typ, SDP: d.SDP}
		peer := c.peerLocked()
		emit = func() { observer.OnSessionDescription(peer, desc) }
	case ActionRemoteCandidate:
		peer, cand, mline := c.peerLocked(), d.SDP, d.MLine
		emit = func() { observer.OnHandleICE(peer, mline, cand) }
	case ActionFail:
		emit = c.failLocked(d.Err)
		ch = nil
	}
	c.mu.Unlock()

	if prev != d.Next {
		c.logger.Debug().Stringer("from", prev).Stringer("to", d.Next).Msg("state changed")
	}
	for _, f := range frames {
		if ch == nil {
			break
		}
		if err := ch.Send(context.Background(), f); err != nil {
			c.logger.Warn().Err(err).Msg("send failed")
			break
		}
	}
	if emit != nil {
		emit()
	}
}

func (c *Client) keepalive(gen uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.hasSession {
		return nil, false
	}
	frame, err := encodeKeepAlive(c.requestLocked())
	if err != nil {
		return nil, false
	}
	return frame, true
}

// fail handles a terminal transport error from the channel.
func (c *Client) fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	emit := c.failLocked(err)
	c.mu.Unlock()
	if emit != nil {
		emit()
	}
}

// failLocked makes the session dead and returns the single error
// notification to run after unlocking, or nil if one was already reported.
func (c *Client) failLocked(err error) func() {
	if c.failed {
		return nil
	}
	c.failed = true
	c.logger.Error().Err(err).Msg("session failed")

	ch := c.ch
	c.ch = nil
	c.gen++
	wasJoined := c.joined
	sid := strconv.FormatUint(c.sessionID, 10)
	observer := c.observer
	c.resetLocked()
	if ch != nil {
		go ch.Close()
	}
	return func() {
		observer.OnError(err.Error())
		if wasJoined {
			observer.OnSessionEnded(sid)
		}
	}
}

func (c *Client) leaveFrameLocked() []byte {
	if c.left || !c.hasHandle || c.ids == nil {
		return nil
	}
	c.left = true
	c.transaction = NewTransaction()
	frame, err := encodeRoomRequest(c.requestLocked(), "leave", *c.ids, c.settings.display())
	if err != nil {
		return nil
	}
	return frame
}

func (c *Client) resetLocked() {
	c.sessionID, c.handleID = 0, 0
	c.hasSession, c.hasHandle, c.joined = false, false, false
	c.transaction = ""
	c.ids = nil
	c.pending = nil
}

func (c *Client) requestLocked() requestContext {
	return requestContext{
		transaction: c.transaction,
		sessionID:   c.sessionID,
		handleID:    c.handleID,
		apiSecret:   c.settings.apiSecret(),
	}
}

func (c *Client) appendEncoded(frames [][]byte, enc func(requestContext) ([]byte, error)) [][]byte {
	f, err := enc(c.requestLocked())
	if err != nil {
		c.logger.Error().Err(err).Msg("encode request")
		return frames
	}
	return append(frames, f)
}

func (c *Client) peerLocked() string {
	if c.ids != nil {
		return c.ids.Room.String()
	}
	return ""
}

type nopObserver struct{}

func (nopObserver) OnError(string)                                         {}
func (nopObserver) OnSessionStarted(string, string)                        {}
func (nopObserver) OnSessionEnded(string)                                  {}
func (nopObserver) OnSessionRequested(string, string)                      {}
func (nopObserver) OnSessionDescription(string, webrtc.SessionDescription) {}
func (nopObserver) OnHandleICE(string, uint16, string)                     {}
func (nopObserver) RequestMeta() map[string]string                         { return nil }
