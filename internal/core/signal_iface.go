package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Signaller relays offers, answers and ICE candidates between the
// negotiation engine and a remote counterpart over some wire protocol.
// Asynchronous outcomes are reported through the SignallerObserver.
type Signaller interface {
	// SetObserver must be called before Start.
	SetObserver(SignallerObserver)
	// Start connects and begins the protocol handshake. A connection failure
	// is returned here and is not retried.
	Start(ctx context.Context) error
	// Stop is idempotent and the only cancellation path.
	Stop()
	SendSDP(ctx context.Context, sessionID string, desc webrtc.SessionDescription) error
	AddICE(ctx context.Context, sessionID, candidate string, mlineIndex uint16) error
	EndSession(ctx context.Context, sessionID string) error
}

// SignallerObserver receives the fixed set of signaller events.
type SignallerObserver interface {
	OnError(msg string)
	OnSessionStarted(sessionID, peerID string)
	OnSessionEnded(sessionID string)
	// OnSessionRequested asks the engine to produce a local offer.
	OnSessionRequested(sessionID, peerID string)
	OnSessionDescription(peerID string, desc webrtc.SessionDescription)
	OnHandleICE(peerID string, mlineIndex uint16, candidate string)
	RequestMeta() map[string]string
}

// URIProvider is implemented by signallers that have a stable connection URI.
type URIProvider interface {
	URI() string
}
