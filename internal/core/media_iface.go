package core

import (
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// MediaEngine is the connection-oriented media engine, treated as a black box.
type MediaEngine interface {
	// AddTransceiver adds a receive-only transceiver restricted to codecs.
	AddTransceiver(kind domain.MediaKind, codecs []domain.CodecParams) error
	SetRemoteDescription(webrtc.SessionDescription) error
	CreateAnswer() (webrtc.SessionDescription, error)
	CreateOffer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddLocalTrack attaches a local static RTP track for the publisher flow.
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	// RequestKeyFrame sends a PLI for the given media SSRC.
	RequestKeyFrame(ssrc uint32) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(mlineIndex uint16, candidate string))
	// OnTrack sets a callback invoked when a remote track (pad) is added.
	OnTrack(func(mlineIndex int, track RemoteTrack))
	OnDataChannel(func(DataChannel))
	// CreateDataChannel opens a locally initiated data channel. Only
	// meaningful before the local offer is created.
	CreateDataChannel(label string) (DataChannel, error)
	Close() error
}

// RemoteTrack is the read side of one negotiated media line.
type RemoteTrack interface {
	ID() string
	SSRC() webrtc.SSRC
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type DataChannel interface {
	Label() string
	SendText(string) error
	OnMessage(func(text string))
}
