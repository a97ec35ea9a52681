package negotiation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dkeye/rtcsignal/internal/app/streams"
	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// HandleOffer filters the offer's media lines against the allow-lists,
// exposes one output channel per surviving line and answers.
func (e *Engine) HandleOffer(offer webrtc.SessionDescription) error {
	e.negotiating.Lock()
	defer e.negotiating.Unlock()

	if err := e.handleOffer(offer); err != nil {
		e.report(err)
		return err
	}
	return nil
}

func (e *Engine) handleOffer(offer webrtc.SessionDescription) error {
	ctx, media, _ := e.snapshot()
	if media == nil {
		return &core.NegotiationError{Op: "handle offer", Err: errNotStarted}
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(offer.SDP)); err != nil {
		return &core.NegotiationError{Op: "parse offer", Err: errors.Join(core.ErrMalformedSDP, err)}
	}

	for i, md := range parsed.MediaDescriptions {
		if err := e.exposeMediaLine(i, md, media); err != nil {
			return err
		}
	}

	if err := media.SetRemoteDescription(offer); err != nil {
		return &core.NegotiationError{Op: "set remote description", Err: err}
	}
	e.host.FinalizeStreams()

	answer, err := media.CreateAnswer()
	if err != nil {
		return &core.NegotiationError{Op: "create answer", Err: err}
	}
	if err := media.SetLocalDescription(answer); err != nil {
		return &core.NegotiationError{Op: "set local description", Err: err}
	}

	_, _, sid := e.snapshot()
	if sid == "" {
		return &core.NegotiationError{Op: "send answer", Err: core.ErrNoSession}
	}
	e.logger.Debug().Str("session", sid).Int("streams", e.streams.Len()).Msg("sending answer")
	if err := e.signaller.SendSDP(ctx, sid, answer); err != nil {
		return &core.NegotiationError{Op: "send answer", Err: err}
	}
	return nil
}

// exposeMediaLine creates the stream, output channel and transceiver for one
// media line. Lines without a usable codec are skipped.
func (e *Engine) exposeMediaLine(mline int, md *sdp.MediaDescription, media core.MediaEngine) error {
	kind, ok := domain.ParseMediaKind(md.MediaName.Media)
	if !ok {
		e.logger.Info().Int("mline", mline).Str("media", md.MediaName.Media).Msg("not an audio or video media")
		return nil
	}
	if _, exists := e.streams.ByMLine(mline); exists {
		// renegotiation keeps the channel and transceiver of a known line
		return nil
	}

	params := FilterCodecs(md, e.allowList(kind))
	if len(params) == 0 {
		e.logger.Info().Int("mline", mline).Str("kind", string(kind)).
			Msg("not using media as it doesn't match our codec restrictions")
		return nil
	}

	e.mu.Lock()
	streamID := e.identity.StreamID(mline)
	name := e.nextChannelNameLocked(kind)
	e.mu.Unlock()

	ch, err := e.host.CreateOutputChannel(name, streamID, kind)
	if err != nil {
		e.logger.Warn().Err(err).Str("stream_id", streamID).Msg("could not create output channel")
		return nil
	}
	needsDecoding := probeDecoding(ch, params)

	e.streams.Add(&streams.Stream{
		ID:            streamID,
		Kind:          kind,
		MLine:         mline,
		NeedsDecoding: needsDecoding,
		Channel:       ch,
	})
	e.logger.Info().
		Str("stream_id", streamID).
		Str("channel", name).
		Bool("needs_decoding", needsDecoding).
		Int("codecs", len(params)).
		Msg("adding transceiver")

	if err := media.AddTransceiver(kind, params); err != nil {
		return &core.NegotiationError{Op: fmt.Sprintf("add transceiver for %s", streamID), Err: err}
	}
	return nil
}

func (e *Engine) nextChannelNameLocked(kind domain.MediaKind) string {
	if kind == domain.MediaKindVideo {
		n := e.nVideo
		e.nVideo++
		return "video_" + strconv.Itoa(n)
	}
	n := e.nAudio
	e.nAudio++
	return "audio_" + strconv.Itoa(n)
}

func (e *Engine) allowList(kind domain.MediaKind) []domain.Codec {
	if kind == domain.MediaKindVideo {
		return e.cfg.VideoCodecs
	}
	return e.cfg.AudioCodecs
}

// probeDecoding asks downstream whether it prefers raw media over the
// encoded formats.
func probeDecoding(ch core.OutputChannel, params []domain.CodecParams) bool {
	offered := make([]string, 0, len(params)+1)
	for _, p := range params {
		offered = append(offered, p.Codec.Name)
	}
	offered = append(offered, core.RawFormat)
	accepted := ch.QueryCaps(offered)
	return len(accepted) > 0 && accepted[0] == core.RawFormat
}

// FilterCodecs intersects the payload types announced on md with allow.
// Static payload types without an rtpmap resolve to their well-known codec.
func FilterCodecs(md *sdp.MediaDescription, allow []domain.Codec) []domain.CodecParams {
	line := &sdp.SessionDescription{MediaDescriptions: []*sdp.MediaDescription{md}}
	var out []domain.CodecParams
	for _, f := range md.MediaName.Formats {
		pt64, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			continue
		}
		sc, err := line.GetCodecForPayloadType(uint8(pt64))
		if err != nil {
			continue
		}
		codec, ok := allowed(allow, sc.Name)
		if !ok {
			continue
		}
		clock := sc.ClockRate
		if clock == 0 {
			clock = codec.ClockRate
		}
		var channels uint16
		if n, err := strconv.ParseUint(sc.EncodingParameters, 10, 16); err == nil {
			channels = uint16(n)
		}
		out = append(out, domain.CodecParams{
			Codec:        codec,
			PayloadType:  sc.PayloadType,
			ClockRate:    clock,
			Channels:     channels,
			Fmtp:         sc.Fmtp,
			RTCPFeedback: sc.RTCPFeedback,
		})
	}
	return out
}

func allowed(allow []domain.Codec, name string) (domain.Codec, bool) {
	for _, c := range allow {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return domain.Codec{}, false
}
