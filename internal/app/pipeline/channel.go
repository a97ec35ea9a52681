package pipeline

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/rs/zerolog"
)

// Channel is an output channel that relays the bound track's RTP to its outs.
type Channel struct {
	name     string
	streamID string
	kind     domain.MediaKind
	formats  []string
	ctx      context.Context
	logger   zerolog.Logger

	mu      sync.Mutex
	started string
	relay   *Relay
	pending map[string]RTPWriter
	ended   bool
}

var _ core.OutputChannel = (*Channel)(nil)

func newChannel(ctx context.Context, name, streamID string, kind domain.MediaKind, formats []string, logger zerolog.Logger) *Channel {
	return &Channel{
		name:     name,
		streamID: streamID,
		kind:     kind,
		formats:  formats,
		ctx:      ctx,
		logger:   logger.With().Str("channel", name).Str("stream_id", streamID).Logger(),
		pending:  make(map[string]RTPWriter),
	}
}

func (c *Channel) Name() string           { return c.name }
func (c *Channel) StreamID() string       { return c.streamID }
func (c *Channel) Kind() domain.MediaKind { return c.kind }

// QueryCaps answers with the offered formats this channel's consumer takes,
// in the consumer's order. Without configured formats everything encoded
// is accepted as offered.
func (c *Channel) QueryCaps(offered []string) []string {
	if len(c.formats) == 0 {
		return slices.DeleteFunc(slices.Clone(offered), func(f string) bool { return f == core.RawFormat })
	}
	var out []string
	for _, f := range c.formats {
		if slices.ContainsFunc(offered, func(o string) bool { return equalFormat(o, f) }) {
			out = append(out, f)
		}
	}
	return out
}

func (c *Channel) StreamStart(streamID string) {
	c.mu.Lock()
	c.started = streamID
	c.mu.Unlock()
	c.logger.Debug().Msg("stream start")
}

// Bind starts relaying track to every out added so far.
func (c *Channel) Bind(track core.RemoteTrack) {
	c.mu.Lock()
	if c.relay != nil {
		c.relay.Stop()
	}
	r := NewRelay(track)
	for name, w := range c.pending {
		r.AddOut(name, NewOut(w))
	}
	c.relay = r
	c.ended = false
	c.mu.Unlock()

	c.logger.Info().Str("track_id", track.ID()).Uint32("ssrc", uint32(track.SSRC())).Msg("starting relay loop")
	r.Start(c.ctx, &c.logger)
}

// AddOut attaches a destination. It survives rebinding.
func (c *Channel) AddOut(name string, w RTPWriter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[name] = w
	if c.relay != nil {
		c.relay.AddOut(name, NewOut(w))
	}
}

// Mute pauses forwarding to one out without removing it.
func (c *Channel) Mute(name string, muted bool) bool {
	c.mu.Lock()
	r := c.relay
	c.mu.Unlock()
	if r == nil {
		return false
	}
	o, ok := r.Out(name)
	if !ok {
		return false
	}
	if muted {
		o.MarkMuted()
	} else {
		o.MarkOk()
	}
	return true
}

func (c *Channel) EndOfStream() {
	c.mu.Lock()
	r := c.relay
	c.ended = true
	c.mu.Unlock()
	if r != nil {
		r.Stop()
	}
	c.logger.Info().Msg("end of stream")
}

type ChannelInfo struct {
	Name     string           `json:"name"`
	StreamID string           `json:"stream_id"`
	Kind     domain.MediaKind `json:"kind"`
	Bound    bool             `json:"bound"`
	Ended    bool             `json:"ended"`
	Muted    bool             `json:"muted"`
	Packets  uint64           `json:"packets"`
}

func (c *Channel) Info() ChannelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := ChannelInfo{Name: c.name, StreamID: c.streamID, Kind: c.kind, Bound: c.relay != nil, Ended: c.ended}
	if c.relay != nil {
		info.Packets = c.relay.Packets()
		if o, ok := c.relay.Out(sinkOut); ok {
			info.Muted = o.State() == OutStateMuted
		}
	}
	return info
}

func equalFormat(a, b string) bool { return strings.EqualFold(a, b) }
