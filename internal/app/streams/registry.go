package streams

import (
	"slices"
	"sync"

	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

// Stream is one negotiated media line exposed as an output channel.
type Stream struct {
	ID            string
	Kind          domain.MediaKind
	MLine         int
	NeedsDecoding bool
	Channel       core.OutputChannel
	SSRC          uint32
	Bound         bool
}

// Registry maps stream ids to media lines and back.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Stream
	byMLine map[int]*Stream
}

func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[string]*Stream),
		byMLine: make(map[int]*Stream),
	}
}

// Add registers s, replacing any stream on the same media line.
func (r *Registry) Add(s *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byMLine[s.MLine]; ok {
		delete(r.byID, old.ID)
	}
	r.byID[s.ID] = s
	r.byMLine[s.MLine] = s
	log.Info().Str("module", "app.streams").Str("stream_id", s.ID).Int("mline", s.MLine).Str("kind", string(s.Kind)).Msg("added stream")
}

func (r *Registry) ByMLine(mline int) (Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byMLine[mline]
	if !ok {
		return Stream{}, false
	}
	return *s, true
}

// MLineOf resolves an exposed stream back to its media line.
func (r *Registry) MLineOf(id string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return 0, false
	}
	return s.MLine, true
}

// MarkBound records that the media line's track arrived with the given SSRC.
func (r *Registry) MarkBound(mline int, ssrc uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byMLine[mline]
	if !ok {
		return false
	}
	s.Bound = true
	s.SSRC = ssrc
	return true
}

// All returns a snapshot ordered by media line.
func (r *Registry) All() []Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stream, 0, len(r.byMLine))
	for _, s := range r.byMLine {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b Stream) int { return a.MLine - b.MLine })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Reset drops every stream and returns what was registered.
func (r *Registry) Reset() []Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stream, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, *s)
	}
	r.byID = make(map[string]*Stream)
	r.byMLine = make(map[int]*Stream)
	log.Info().Str("module", "app.streams").Int("count", len(out)).Msg("reset streams")
	return out
}

// Info converts to the API view.
func (s Stream) Info() domain.StreamInfo {
	name := ""
	if s.Channel != nil {
		name = s.Channel.Name()
	}
	return domain.StreamInfo{
		StreamID:      s.ID,
		Channel:       name,
		Kind:          s.Kind,
		MLineIndex:    s.MLine,
		NeedsDecoding: s.NeedsDecoding,
		Bound:         s.Bound,
	}
}
