package negotiation

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
)

func (e *Engine) bindMediaHandlers(media core.MediaEngine) {
	media.OnICECandidate(e.onLocalCandidate)
	media.OnTrack(e.OnTrack)
	media.OnDataChannel(e.onDataChannel)
}

// OnTrack is called when a remote track appears for a negotiated media line.
func (e *Engine) OnTrack(mline int, track core.RemoteTrack) {
	s, ok := e.streams.ByMLine(mline)
	if !ok {
		e.logger.Debug().Int("mline", mline).Str("track_id", track.ID()).Msg("unused track")
		return
	}
	s.Channel.StreamStart(s.ID)
	if s.NeedsDecoding {
		if err := e.host.AttachDecoder(s.Channel); err != nil {
			e.logger.Error().Err(err).Str("stream_id", s.ID).Msg("attach decoder")
		} else {
			e.logger.Debug().Str("stream_id", s.ID).Msg("decoding")
		}
	}
	e.streams.MarkBound(mline, uint32(track.SSRC()))
	s.Channel.Bind(track)
}

func (e *Engine) onLocalCandidate(mline uint16, candidate string) {
	ctx, _, sid := e.snapshot()
	if sid == "" {
		e.report(&core.NegotiationError{Op: "propose ice candidate", Err: core.ErrNoSession})
		return
	}
	if err := e.signaller.AddICE(ctx, sid, candidate, mline); err != nil {
		e.logger.Warn().Err(err).Uint16("mline", mline).Msg("add ice")
	}
}

func (e *Engine) onDataChannel(dc core.DataChannel) {
	e.logger.Info().Str("label", dc.Label()).Msg("received data channel")
	e.setDataChannel(dc)
}

func (e *Engine) setDataChannel(dc core.DataChannel) {
	label := dc.Label()
	dc.OnMessage(func(text string) { e.host.DeliverDataChannelMessage(label, text) })
	e.mu.Lock()
	e.dataChannel = dc
	e.mu.Unlock()
}

// SendNavigationEvent forwards an input event to the peer. It reports false
// when navigation is disabled or no data channel exists; such events are
// dropped, not queued.
func (e *Engine) SendNavigationEvent(event map[string]any) (bool, error) {
	if !e.cfg.EnableDataChannelNavigation {
		return false, nil
	}
	e.mu.Lock()
	dc := e.dataChannel
	e.mu.Unlock()
	if dc == nil {
		return false, nil
	}
	b, err := json.Marshal(domain.NavigationEvent{Event: event})
	if err != nil {
		return false, fmt.Errorf("could not serialize navigation event: %w", err)
	}
	e.logger.Trace().Msg("sending navigation event to peer")
	if err := dc.SendText(string(b)); err != nil {
		return false, err
	}
	return true, nil
}

// RequestKeyFrame asks the sender of streamID for a keyframe.
func (e *Engine) RequestKeyFrame(streamID string) error {
	mline, ok := e.streams.MLineOf(streamID)
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownStream, streamID)
	}
	s, ok := e.streams.ByMLine(mline)
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownStream, streamID)
	}
	if !s.Bound {
		return fmt.Errorf("stream %s has no track yet", streamID)
	}
	_, media, _ := e.snapshot()
	if media == nil {
		return errNotStarted
	}
	return media.RequestKeyFrame(s.SSRC)
}
