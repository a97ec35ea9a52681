package negotiation

import (
	"context"
	"sync"

	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type fakeSignaller struct {
	mu       sync.Mutex
	observer core.SignallerObserver
	uri      string
	started  int
	stopped  int
	sent     []webrtc.SessionDescription
	ice      []string
	startErr error
}

func (s *fakeSignaller) SetObserver(o core.SignallerObserver) { s.observer = o }

func (s *fakeSignaller) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return s.startErr
}

func (s *fakeSignaller) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
}

func (s *fakeSignaller) SendSDP(_ context.Context, _ string, d webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, d)
	return nil
}

func (s *fakeSignaller) AddICE(_ context.Context, _ string, c string, _ uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ice = append(s.ice, c)
	return nil
}

func (s *fakeSignaller) EndSession(context.Context, string) error { return nil }

type uriSignaller struct{ *fakeSignaller }

func (s uriSignaller) URI() string { return s.uri }

type fakeMedia struct {
	mu           sync.Mutex
	transceivers []domain.MediaKind
	remote       []webrtc.SessionDescription
	local        []webrtc.SessionDescription
	remoteICE    []webrtc.ICECandidateInit
	plis         []uint32
	dataChannels []string
	closed       bool

	onICE   func(uint16, string)
	onTrack func(int, core.RemoteTrack)
	onDC    func(core.DataChannel)
}

func (m *fakeMedia) AddTransceiver(kind domain.MediaKind, _ []domain.CodecParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transceivers = append(m.transceivers, kind)
	return nil
}

func (m *fakeMedia) SetRemoteDescription(d webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remote = append(m.remote, d)
	return nil
}

func (m *fakeMedia) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (m *fakeMedia) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (m *fakeMedia) SetLocalDescription(d webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = append(m.local, d)
	return nil
}

func (m *fakeMedia) AddICECandidate(c webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteICE = append(m.remoteICE, c)
	return nil
}

func (m *fakeMedia) AddLocalTrack(*webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	return nil, nil
}

func (m *fakeMedia) RequestKeyFrame(ssrc uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plis = append(m.plis, ssrc)
	return nil
}

func (m *fakeMedia) OnICECandidate(fn func(uint16, string))  { m.onICE = fn }
func (m *fakeMedia) OnTrack(fn func(int, core.RemoteTrack))  { m.onTrack = fn }
func (m *fakeMedia) OnDataChannel(fn func(core.DataChannel)) { m.onDC = fn }

func (m *fakeMedia) CreateDataChannel(label string) (core.DataChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataChannels = append(m.dataChannels, label)
	return &fakeDataChannel{label: label}, nil
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type fakeDataChannel struct {
	mu    sync.Mutex
	label string
	sent  []string
	onMsg func(string)
}

func (d *fakeDataChannel) Label() string { return d.label }

func (d *fakeDataChannel) SendText(s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, s)
	return nil
}

func (d *fakeDataChannel) OnMessage(fn func(string)) { d.onMsg = fn }

type fakeChannel struct {
	name     string
	streamID string
	caps     []string

	mu      sync.Mutex
	started []string
	bound   core.RemoteTrack
	eos     int
}

func (c *fakeChannel) Name() string     { return c.name }
func (c *fakeChannel) StreamID() string { return c.streamID }

func (c *fakeChannel) QueryCaps(offered []string) []string {
	if c.caps != nil {
		return c.caps
	}
	return offered
}

func (c *fakeChannel) StreamStart(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, id)
}

func (c *fakeChannel) Bind(t core.RemoteTrack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bound = t
}

func (c *fakeChannel) EndOfStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eos++
}

type fakeHost struct {
	mu        sync.Mutex
	caps      []string
	channels  []*fakeChannel
	removed   []string
	decoders  []string
	finalized int
	messages  []string
}

func (h *fakeHost) CreateOutputChannel(name, streamID string, _ domain.MediaKind) (core.OutputChannel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := &fakeChannel{name: name, streamID: streamID, caps: h.caps}
	h.channels = append(h.channels, ch)
	return ch, nil
}

func (h *fakeHost) RemoveOutputChannel(ch core.OutputChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, ch.Name())
}

func (h *fakeHost) AttachDecoder(ch core.OutputChannel) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.decoders = append(h.decoders, ch.Name())
	return nil
}

func (h *fakeHost) FinalizeStreams() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finalized++
}

func (h *fakeHost) DeliverDataChannelMessage(label, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, label+":"+text)
}

type localSourceHost struct {
	*fakeHost
	added int
}

func (h *localSourceHost) AddLocalTracks(core.MediaEngine) error {
	h.added++
	return nil
}

type fakeTrack struct {
	id   string
	ssrc webrtc.SSRC
}

func (t fakeTrack) ID() string        { return t.id }
func (t fakeTrack) SSRC() webrtc.SSRC { return t.ssrc }

func (t fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, context.Canceled
}
