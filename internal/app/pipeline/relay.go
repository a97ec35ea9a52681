package pipeline

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// RTPWriter is anything a relay can forward packets to.
type RTPWriter interface {
	WriteRTP(*rtp.Packet) error
}

type OutState int32

const (
	OutStateOk OutState = iota
	OutStateMuted
	OutStateDelete
)

// Out is one relay destination.
type Out struct {
	W     RTPWriter
	state atomic.Int32 // Zero by default (OutStateOk)
}

func NewOut(w RTPWriter) *Out { return &Out{W: w} }

func (o *Out) State() OutState { return OutState(o.state.Load()) }
func (o *Out) MarkOk()         { o.state.Store(int32(OutStateOk)) }
func (o *Out) MarkMuted()      { o.state.Store(int32(OutStateMuted)) }
func (o *Out) MarkDelete()     { o.state.Store(int32(OutStateDelete)) }

// Relay reads RTP from one remote track and fans it out.
type Relay struct {
	src core.RemoteTrack

	mu   sync.RWMutex
	outs map[string]*Out

	packets atomic.Uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewRelay(src core.RemoteTrack) *Relay {
	return &Relay{
		src:  src,
		outs: make(map[string]*Out),
		done: make(chan struct{}),
	}
}

func (r *Relay) Start(ctx context.Context, logger *zerolog.Logger) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx, logger)
}

// Stop cancels the loop. The loop exits at the next packet or read error.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.markAllDelete()
}

func (r *Relay) Done() <-chan struct{} { return r.done }

func (r *Relay) Packets() uint64 { return r.packets.Load() }

// loop reads RTP packets from the source track and forwards them to all outs.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all outs for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay read RTP stopped")
			r.markAllDelete()
			return
		}
		r.packets.Add(1)
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outs)
	r.mu.RUnlock()

	var dirty []string
	for name, o := range snapshot {
		switch o.State() {
		case OutStateDelete:
			dirty = append(dirty, name)
		case OutStateMuted:
		case OutStateOk:
			if err := o.W.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("out", name).Msg("relay write RTP error, marking out as delete")
				o.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.mu.Lock()
		for _, name := range dirty {
			delete(r.outs, name)
		}
		r.mu.Unlock()
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.outs {
		o.MarkDelete()
	}
}

func (r *Relay) AddOut(name string, o *Out) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outs[name] = o
}

func (r *Relay) Out(name string) (*Out, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.outs[name]
	return o, ok
}
