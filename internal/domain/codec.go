package domain

import "strings"

// Codec is an immutable registry entry consulted during offer filtering.
type Codec struct {
	Name       string
	Kind       MediaKind
	MimeType   string
	ClockRate  uint32
	Channels   uint16
	HasDecoder bool
}

// CodecParams is one payload type announced by a remote media line that
// survived filtering.
type CodecParams struct {
	Codec        Codec
	PayloadType  uint8
	ClockRate    uint32
	Channels     uint16
	Fmtp         string
	RTCPFeedback []string
}

var codecs = []Codec{
	{Name: "VP8", Kind: MediaKindVideo, MimeType: "video/VP8", ClockRate: 90000, HasDecoder: true},
	{Name: "VP9", Kind: MediaKindVideo, MimeType: "video/VP9", ClockRate: 90000, HasDecoder: true},
	{Name: "H264", Kind: MediaKindVideo, MimeType: "video/H264", ClockRate: 90000, HasDecoder: true},
	{Name: "H265", Kind: MediaKindVideo, MimeType: "video/H265", ClockRate: 90000},
	{Name: "AV1", Kind: MediaKindVideo, MimeType: "video/AV1", ClockRate: 90000, HasDecoder: true},
	{Name: "OPUS", Kind: MediaKindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2, HasDecoder: true},
	{Name: "PCMU", Kind: MediaKindAudio, MimeType: "audio/PCMU", ClockRate: 8000, HasDecoder: true},
	{Name: "PCMA", Kind: MediaKindAudio, MimeType: "audio/PCMA", ClockRate: 8000, HasDecoder: true},
	{Name: "G722", Kind: MediaKindAudio, MimeType: "audio/G722", ClockRate: 8000},
}

// FindCodec looks a codec up by its SDP encoding name, case-insensitively.
func FindCodec(name string) (Codec, bool) {
	for _, c := range codecs {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Codec{}, false
}

func CodecsOfKind(kind MediaKind) []Codec {
	out := make([]Codec, 0, len(codecs))
	for _, c := range codecs {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// DecodableCodecs is the default allow-list for a kind.
func DecodableCodecs(kind MediaKind) []Codec {
	out := make([]Codec, 0, len(codecs))
	for _, c := range CodecsOfKind(kind) {
		if c.HasDecoder {
			out = append(out, c)
		}
	}
	return out
}

// CodecsByName resolves configured names of the given kind. Unknown names
// and names of the other kind are returned separately so callers can log them.
func CodecsByName(kind MediaKind, names []string) ([]Codec, []string) {
	var (
		out     []Codec
		unknown []string
	)
	for _, n := range names {
		c, ok := FindCodec(n)
		if !ok || c.Kind != kind {
			unknown = append(unknown, n)
			continue
		}
		out = append(out, c)
	}
	return out, unknown
}
