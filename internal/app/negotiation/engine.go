package negotiation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/dkeye/rtcsignal/internal/app/streams"
	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	VideoCodecs []domain.Codec
	AudioCodecs []domain.Codec
	// EnableDataChannelNavigation forwards navigation events to the peer.
	EnableDataChannelNavigation bool
	// DataChannelLabel is used when this side opens the channel.
	DataChannelLabel string
	Meta             map[string]string
}

// MediaFactory builds a fresh media engine for each Start.
type MediaFactory func() (core.MediaEngine, error)

// Status is a point-in-time view for the status API.
type Status struct {
	Running   bool                `json:"running"`
	SessionID string              `json:"session_id,omitempty"`
	Streams   []domain.StreamInfo `json:"streams"`
	LastError string              `json:"last_error,omitempty"`
}

// Engine turns remote offers into output channels and a local answer, and
// keeps ICE and data channel traffic flowing. It observes the signaller.
type Engine struct {
	cfg       Config
	signaller core.Signaller
	host      core.PipelineHost
	newMedia  MediaFactory
	logger    zerolog.Logger
	errs      chan error

	// negotiating serializes offer/answer rounds.
	negotiating sync.Mutex

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	media       core.MediaEngine
	sessionID   string
	identity    streams.Identity
	streams     *streams.Registry
	dataChannel core.DataChannel
	nVideo      int
	nAudio      int
	lastErr     string
}

var _ core.SignallerObserver = (*Engine)(nil)

func NewEngine(cfg Config, signaller core.Signaller, host core.PipelineHost, newMedia MediaFactory) *Engine {
	if cfg.DataChannelLabel == "" {
		cfg.DataChannelLabel = "input"
	}
	return &Engine{
		cfg:       cfg,
		signaller: signaller,
		host:      host,
		newMedia:  newMedia,
		logger:    log.With().Str("module", "negotiation").Logger(),
		errs:      make(chan error, 16),
		streams:   streams.NewRegistry(),
	}
}

// Errors delivers every error reported by the engine or its signaller.
func (e *Engine) Errors() <-chan error { return e.errs }

// Start builds the media engine and starts the signaller.
func (e *Engine) Start(ctx context.Context) error {
	media, err := e.newMedia()
	if err != nil {
		return &core.NegotiationError{Op: "create media engine", Err: err}
	}

	uri := ""
	if p, ok := e.signaller.(core.URIProvider); ok {
		uri = p.URI()
	}

	e.mu.Lock()
	if e.media != nil {
		e.mu.Unlock()
		_ = media.Close()
		return core.ErrAlreadyStarted
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.media = media
	e.identity = streams.NewIdentity(uri)
	e.lastErr = ""
	e.mu.Unlock()

	e.bindMediaHandlers(media)
	e.signaller.SetObserver(e)

	if err := e.signaller.Start(ctx); err != nil {
		e.logger.Error().Err(err).Msg("signaller start failed")
		e.teardown()
		return err
	}
	e.logger.Info().Msg("started signaller")
	return nil
}

// Stop stops the signaller, closes the media engine and removes every
// output channel. Idempotent.
func (e *Engine) Stop() {
	e.signaller.Stop()
	e.teardown()
}

func (e *Engine) teardown() {
	e.mu.Lock()
	media := e.media
	cancel := e.cancel
	e.media = nil
	e.cancel = nil
	e.sessionID = ""
	e.dataChannel = nil
	e.nVideo, e.nAudio = 0, 0
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if media != nil {
		if err := media.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("media close")
		}
	}
	for _, s := range e.streams.Reset() {
		if s.Channel != nil {
			e.host.RemoveOutputChannel(s.Channel)
		}
	}
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{Running: e.media != nil, SessionID: e.sessionID, LastError: e.lastErr}
	e.mu.Unlock()
	for _, s := range e.streams.All() {
		st.Streams = append(st.Streams, s.Info())
	}
	return st
}

func (e *Engine) Streams() []domain.StreamInfo {
	all := e.streams.All()
	out := make([]domain.StreamInfo, 0, len(all))
	for _, s := range all {
		out = append(out, s.Info())
	}
	return out
}

// report surfaces err to Errors without blocking.
func (e *Engine) report(err error) {
	e.logger.Error().Err(err).Msg("negotiation error")
	e.mu.Lock()
	e.lastErr = err.Error()
	e.mu.Unlock()
	select {
	case e.errs <- err:
	default:
		e.logger.Warn().Err(err).Msg("error channel full, dropping")
	}
}

// snapshot copies what a network operation needs so no lock is held across it.
func (e *Engine) snapshot() (context.Context, core.MediaEngine, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, e.media, e.sessionID
}

func (e *Engine) RequestMeta() map[string]string {
	if len(e.cfg.Meta) == 0 {
		return nil
	}
	return maps.Clone(e.cfg.Meta)
}

func (e *Engine) OnError(msg string) {
	e.report(fmt.Errorf("signalling error: %s", msg))
}

var (
	errNotStarted = errors.New("engine not started")

	ErrUnknownStream = errors.New("unknown stream")
)
