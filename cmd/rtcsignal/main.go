package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/rtcsignal/internal/adapters/http"
	"github.com/dkeye/rtcsignal/internal/adapters/janus"
	"github.com/dkeye/rtcsignal/internal/adapters/rtc"
	"github.com/dkeye/rtcsignal/internal/app/negotiation"
	"github.com/dkeye/rtcsignal/internal/app/pipeline"
	"github.com/dkeye/rtcsignal/internal/config"
	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("exited with error")
		os.Exit(1)
	}
	log.Info().Msg("exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	videoCodecs := codecList(domain.MediaKindVideo, cfg.WebRTC.VideoCodecs)
	audioCodecs := codecList(domain.MediaKindAudio, cfg.WebRTC.AudioCodecs)

	client := janus.NewClient(janus.Settings{
		Endpoint:          cfg.Janus.Endpoint,
		RoomID:            cfg.Janus.RoomID,
		FeedID:            cfg.Janus.FeedID,
		DisplayName:       cfg.Janus.DisplayName,
		SecretKey:         cfg.Janus.SecretKey,
		StringIDs:         cfg.Janus.StringIDs,
		ConnectTimeout:    cfg.Janus.ConnectTimeout,
		KeepaliveInterval: cfg.Janus.KeepaliveInterval,
		QueueSize:         cfg.Janus.QueueSize,
	})

	sources, err := localSources(cfg.Source)
	if err != nil {
		return err
	}
	host := pipeline.NewHost(ctx, pipeline.Options{
		Sinks: map[domain.MediaKind]string{
			domain.MediaKindVideo: cfg.Sink.VideoAddr,
			domain.MediaKindAudio: cfg.Sink.AudioAddr,
		},
		Formats: map[domain.MediaKind][]string{
			domain.MediaKindVideo: cfg.Sink.VideoFormats,
			domain.MediaKindAudio: cfg.Sink.AudioFormats,
		},
		Sources: sources,
		OnMessage: func(label, text string) {
			log.Info().Str("module", "pipeline").Str("label", label).Str("text", text).Msg("message from peer")
		},
	})
	defer host.Close()

	pionLevel := zerolog.WarnLevel
	if cfg.Level() == zerolog.TraceLevel {
		pionLevel = zerolog.TraceLevel
	}
	rtcCfg := rtc.Config{
		STUNServer:       cfg.WebRTC.STUNServer,
		TURNServers:      cfg.WebRTC.TURNServers,
		VideoCodecs:      videoCodecs,
		AudioCodecs:      audioCodecs,
		DoRetransmission: cfg.WebRTC.DoRetransmission,
		LogLevel:         pionLevel,
	}

	engine := negotiation.NewEngine(negotiation.Config{
		VideoCodecs:                 videoCodecs,
		AudioCodecs:                 audioCodecs,
		EnableDataChannelNavigation: cfg.WebRTC.EnableDataChannelNavigation,
		DataChannelLabel:            cfg.WebRTC.DataChannelLabel,
		Meta:                        cfg.WebRTC.Meta,
	}, client, host, func() (core.MediaEngine, error) {
		return rtc.NewConnection(rtcCfg)
	})

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer engine.Stop()

	r := router.SetupRouter(router.Deps{
		Mode:      cfg.Mode,
		Engine:    engine,
		Signaller: client,
		Channels:  host,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("status API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-engine.Errors():
				log.Error().Err(err).Msg("negotiation error")
				if client.State() == janus.StateClosed {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// codecList resolves configured names, defaulting to every decodable codec.
func codecList(kind domain.MediaKind, names []string) []domain.Codec {
	if len(names) == 0 {
		return domain.DecodableCodecs(kind)
	}
	out, unknown := domain.CodecsByName(kind, names)
	for _, n := range unknown {
		log.Warn().Str("kind", string(kind)).Str("codec", n).Msg("ignoring unknown codec")
	}
	return out
}

func localSources(sc config.SourceConfig) ([]pipeline.Source, error) {
	var out []pipeline.Source
	for _, s := range []struct {
		kind       domain.MediaKind
		addr, name string
	}{
		{domain.MediaKindVideo, sc.VideoAddr, sc.VideoCodec},
		{domain.MediaKindAudio, sc.AudioAddr, sc.AudioCodec},
	} {
		if s.addr == "" {
			continue
		}
		c, ok := domain.FindCodec(s.name)
		if !ok || c.Kind != s.kind {
			return nil, fmt.Errorf("source %s: unsupported %s codec %q", s.addr, s.kind, s.name)
		}
		out = append(out, pipeline.Source{Addr: s.addr, Codec: c})
	}
	return out, nil
}
