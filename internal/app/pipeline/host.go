package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoDecoder is returned by AttachDecoder; this host only relays encoded RTP.
	ErrNoDecoder = errors.New("no decoder available")

	ErrUnknownChannel = errors.New("unknown channel")
	ErrNotBound       = errors.New("channel has no track yet")
)

const sinkOut = "udp"

// Source is a local RTP feed published in the offering flow.
type Source struct {
	Addr  string // UDP listen address
	Codec domain.Codec
}

type Options struct {
	// Sinks maps a kind to the UDP address its channels relay to.
	Sinks map[domain.MediaKind]string
	// Formats lists, per kind, the encoded formats downstream accepts in
	// preference order. Empty means anything encoded.
	Formats map[domain.MediaKind][]string
	Sources []Source
	// OnMessage receives inbound data channel text.
	OnMessage func(label, text string)
}

// Host is a PipelineHost that relays each negotiated stream to a UDP sink.
type Host struct {
	ctx    context.Context
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	channels map[string]*Channel
	sinks    map[string]io.Closer

	local       core.MediaEngine
	localCancel context.CancelFunc
}

var (
	_ core.PipelineHost = (*Host)(nil)
	_ core.LocalSource  = (*Host)(nil)
)

func NewHost(ctx context.Context, opts Options) *Host {
	return &Host{
		ctx:      ctx,
		opts:     opts,
		logger:   log.With().Str("module", "pipeline").Logger(),
		channels: make(map[string]*Channel),
		sinks:    make(map[string]io.Closer),
	}
}

func (h *Host) CreateOutputChannel(name, streamID string, kind domain.MediaKind) (core.OutputChannel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[name]; ok {
		return nil, fmt.Errorf("output channel %s already exists", name)
	}
	ch := newChannel(h.ctx, name, streamID, kind, h.opts.Formats[kind], h.logger)

	if addr := h.opts.Sinks[kind]; addr != "" {
		sink, err := NewUDPSink(addr)
		if err != nil {
			return nil, fmt.Errorf("udp sink %s: %w", addr, err)
		}
		ch.AddOut(sinkOut, sink)
		h.sinks[name] = sink
	}
	h.channels[name] = ch
	h.logger.Info().Str("channel", name).Str("stream_id", streamID).Str("kind", string(kind)).Msg("output channel created")
	return ch, nil
}

func (h *Host) RemoveOutputChannel(oc core.OutputChannel) {
	h.mu.Lock()
	ch, ok := h.channels[oc.Name()]
	sink := h.sinks[oc.Name()]
	delete(h.channels, oc.Name())
	delete(h.sinks, oc.Name())
	h.mu.Unlock()
	if !ok {
		return
	}
	ch.EndOfStream()
	if sink != nil {
		_ = sink.Close()
	}
	h.logger.Info().Str("channel", oc.Name()).Msg("output channel removed")
}

func (h *Host) AttachDecoder(oc core.OutputChannel) error {
	return fmt.Errorf("%s: %w", oc.Name(), ErrNoDecoder)
}

func (h *Host) FinalizeStreams() {
	h.mu.Lock()
	n := len(h.channels)
	h.mu.Unlock()
	h.logger.Info().Int("channels", n).Msg("no more streams")
}

func (h *Host) DeliverDataChannelMessage(label, text string) {
	h.logger.Debug().Str("label", label).Str("text", text).Msg("data channel message")
	if h.opts.OnMessage != nil {
		h.opts.OnMessage(label, text)
	}
}

// AddLocalTracks publishes one static RTP track per configured source, fed
// from its UDP listen address. Sources are wired once per media engine.
func (h *Host) AddLocalTracks(media core.MediaEngine) error {
	h.mu.Lock()
	if h.local == media {
		h.mu.Unlock()
		return nil
	}
	if h.localCancel != nil {
		h.localCancel()
	}
	ctx, cancel := context.WithCancel(h.ctx)
	h.local, h.localCancel = media, cancel
	h.mu.Unlock()

	for _, src := range h.opts.Sources {
		if err := h.addSource(ctx, media, src); err != nil {
			cancel()
			return err
		}
	}
	return nil
}

func (h *Host) addSource(ctx context.Context, media core.MediaEngine, src Source) error {
	kind := string(src.Codec.Kind)
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  src.Codec.MimeType,
		ClockRate: src.Codec.ClockRate,
		Channels:  src.Codec.Channels,
	}, kind, "rtcsignal")
	if err != nil {
		return err
	}
	sender, err := media.AddLocalTrack(track)
	if err != nil {
		return fmt.Errorf("add %s track: %w", kind, err)
	}

	addr, err := net.ResolveUDPAddr("udp", src.Addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", src.Addr, err)
	}

	logger := h.logger.With().Str("source", src.Addr).Str("codec", src.Codec.Name).Logger()
	logger.Info().Msg("publishing local source")

	// RTCP has to be read for interceptors to run.
	if sender != nil {
		go func() {
			buf := make([]byte, defaultMTU)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	go PumpRTP(ctx, conn, track, &logger)
	return nil
}

// Channels returns a snapshot sorted by name.
func (h *Host) Channels() []ChannelInfo {
	h.mu.Lock()
	out := make([]ChannelInfo, 0, len(h.channels))
	for _, ch := range h.channels {
		out = append(out, ch.Info())
	}
	h.mu.Unlock()
	slices.SortFunc(out, func(a, b ChannelInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (h *Host) Channel(name string) (*Channel, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[name]
	return ch, ok
}

// MuteChannel pauses or resumes relaying name to its sink.
func (h *Host) MuteChannel(name string, muted bool) error {
	ch, ok := h.Channel(name)
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownChannel, name)
	}
	if !ch.Mute(sinkOut, muted) {
		return fmt.Errorf("%s: %w", name, ErrNotBound)
	}
	h.logger.Info().Str("channel", name).Bool("muted", muted).Msg("sink muted")
	return nil
}

// Close ends every channel and stops local sources.
func (h *Host) Close() {
	h.mu.Lock()
	chans := make([]*Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		chans = append(chans, ch)
	}
	if h.localCancel != nil {
		h.localCancel()
		h.local, h.localCancel = nil, nil
	}
	h.mu.Unlock()
	for _, ch := range chans {
		h.RemoveOutputChannel(ch)
	}
}
