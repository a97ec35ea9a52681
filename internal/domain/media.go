// Package domain contains entity without logic, just meta-data
package domain

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

func ParseMediaKind(s string) (MediaKind, bool) {
	switch MediaKind(s) {
	case MediaKindAudio, MediaKindVideo:
		return MediaKind(s), true
	}
	return "", false
}

// StreamInfo is a read-only view of a negotiated stream for APIs.
type StreamInfo struct {
	StreamID      string    `json:"stream_id"`
	Channel       string    `json:"channel"`
	Kind          MediaKind `json:"kind"`
	MLineIndex    int       `json:"mline_index"`
	NeedsDecoding bool      `json:"needs_decoding"`
	Bound         bool      `json:"bound"`
}

// NavigationEvent is what goes over the data channel. Mid stays null
// until per-stream routing exists on the remote side.
type NavigationEvent struct {
	Mid   *string        `json:"mid"`
	Event map[string]any `json:"event"`
}
