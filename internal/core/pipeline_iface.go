package core

import (
	"github.com/dkeye/rtcsignal/internal/domain"
)

// RawFormat is the capability name a downstream consumer answers with when
// it wants decoded media.
const RawFormat = "raw"

// PipelineHost owns the media pipeline that consumes negotiated streams.
type PipelineHost interface {
	CreateOutputChannel(name, streamID string, kind domain.MediaKind) (OutputChannel, error)
	RemoveOutputChannel(ch OutputChannel)
	AttachDecoder(ch OutputChannel) error
	// FinalizeStreams signals no more channels will be added this round.
	FinalizeStreams()
	DeliverDataChannelMessage(label, text string)
}

// OutputChannel is one externally exposed stream.
type OutputChannel interface {
	Name() string
	StreamID() string
	// QueryCaps returns the subset of offered formats downstream accepts,
	// in its order of preference.
	QueryCaps(offered []string) []string
	// StreamStart announces the stable stream id before the first buffer.
	StreamStart(streamID string)
	// Bind starts forwarding from the remote track.
	Bind(track RemoteTrack)
	EndOfStream()
}

// LocalSource is implemented by hosts that publish local media.
type LocalSource interface {
	AddLocalTracks(MediaEngine) error
}
