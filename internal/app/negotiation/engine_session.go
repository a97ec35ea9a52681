package negotiation

import (
	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/pion/webrtc/v4"
)

func (e *Engine) OnSessionStarted(sessionID, peerID string) {
	e.logger.Info().Str("session", sessionID).Str("peer", peerID).Msg("session started")
	e.mu.Lock()
	e.sessionID = sessionID
	e.mu.Unlock()
}

// OnSessionEnded ends every exposed stream. Transceivers are reclaimed on
// the next Stop.
func (e *Engine) OnSessionEnded(sessionID string) {
	e.logger.Info().Str("session", sessionID).Msg("session ended")
	e.mu.Lock()
	e.sessionID = ""
	e.mu.Unlock()
	for _, s := range e.streams.All() {
		s.Channel.EndOfStream()
	}
}

func (e *Engine) OnSessionDescription(peerID string, desc webrtc.SessionDescription) {
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		_ = e.HandleOffer(desc)
	case webrtc.SDPTypeAnswer:
		_ = e.HandleAnswer(desc)
	default:
		e.logger.Warn().Str("peer", peerID).Str("type", desc.Type.String()).Msg("ignoring session description")
	}
}

// HandleAnswer applies the remote answer to a local offer.
func (e *Engine) HandleAnswer(answer webrtc.SessionDescription) error {
	e.negotiating.Lock()
	defer e.negotiating.Unlock()

	_, media, _ := e.snapshot()
	if media == nil {
		err := &core.NegotiationError{Op: "handle answer", Err: errNotStarted}
		e.report(err)
		return err
	}
	if err := media.SetRemoteDescription(answer); err != nil {
		err = &core.NegotiationError{Op: "set remote answer", Err: err}
		e.report(err)
		return err
	}
	e.logger.Info().Msg("remote answer applied")
	return nil
}

func (e *Engine) OnHandleICE(peerID string, mline uint16, candidate string) {
	_, media, _ := e.snapshot()
	if media == nil {
		return
	}
	e.logger.Trace().Str("peer", peerID).Str("candidate", candidate).Msg("got ice")
	idx := mline
	if err := media.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate, SDPMLineIndex: &idx}); err != nil {
		e.logger.Warn().Err(err).Uint16("mline", mline).Msg("add remote candidate")
	}
}

// OnSessionRequested produces a local offer for the publisher flow.
func (e *Engine) OnSessionRequested(sessionID, peerID string) {
	e.negotiating.Lock()
	defer e.negotiating.Unlock()

	e.mu.Lock()
	if e.sessionID == "" {
		e.sessionID = sessionID
	}
	e.mu.Unlock()

	if err := e.createOffer(); err != nil {
		e.report(err)
	}
}

func (e *Engine) createOffer() error {
	ctx, media, sid := e.snapshot()
	if media == nil {
		return &core.NegotiationError{Op: "create offer", Err: errNotStarted}
	}
	if src, ok := e.host.(core.LocalSource); ok {
		if err := src.AddLocalTracks(media); err != nil {
			return &core.NegotiationError{Op: "add local tracks", Err: err}
		}
	}
	if e.cfg.EnableDataChannelNavigation {
		e.mu.Lock()
		hasDC := e.dataChannel != nil
		e.mu.Unlock()
		if !hasDC {
			dc, err := media.CreateDataChannel(e.cfg.DataChannelLabel)
			if err != nil {
				return &core.NegotiationError{Op: "create data channel", Err: err}
			}
			e.setDataChannel(dc)
		}
	}

	offer, err := media.CreateOffer()
	if err != nil {
		return &core.NegotiationError{Op: "create offer", Err: err}
	}
	if err := media.SetLocalDescription(offer); err != nil {
		return &core.NegotiationError{Op: "set local description", Err: err}
	}
	if sid == "" {
		return &core.NegotiationError{Op: "send offer", Err: core.ErrNoSession}
	}
	if err := e.signaller.SendSDP(ctx, sid, offer); err != nil {
		return &core.NegotiationError{Op: "send offer", Err: err}
	}
	return nil
}
