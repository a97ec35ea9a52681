package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string       `mapstructure:"mode"`
	Port     int          `mapstructure:"port"`
	LogLevel string       `mapstructure:"log_level"`
	Janus    JanusConfig  `mapstructure:"janus"`
	WebRTC   WebRTCConfig `mapstructure:"webrtc"`
	Sink     SinkConfig   `mapstructure:"sink"`
	Source   SourceConfig `mapstructure:"source"`
}

type JanusConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	RoomID            string        `mapstructure:"room_id"`
	FeedID            string        `mapstructure:"feed_id"`
	DisplayName       string        `mapstructure:"display_name"`
	SecretKey         string        `mapstructure:"secret_key"`
	StringIDs         bool          `mapstructure:"string_ids"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	QueueSize         int           `mapstructure:"queue_size"`
}

type WebRTCConfig struct {
	STUNServer                  string            `mapstructure:"stun_server"`
	TURNServers                 []string          `mapstructure:"turn_servers"`
	VideoCodecs                 []string          `mapstructure:"video_codecs"`
	AudioCodecs                 []string          `mapstructure:"audio_codecs"`
	DoRetransmission            bool              `mapstructure:"do_retransmission"`
	EnableDataChannelNavigation bool              `mapstructure:"enable_data_channel_navigation"`
	DataChannelLabel            string            `mapstructure:"data_channel_label"`
	Meta                        map[string]string `mapstructure:"meta"`
}

// SinkConfig is where negotiated streams are relayed as RTP over UDP.
type SinkConfig struct {
	VideoAddr    string   `mapstructure:"video_addr"`
	AudioAddr    string   `mapstructure:"audio_addr"`
	VideoFormats []string `mapstructure:"video_formats"`
	AudioFormats []string `mapstructure:"audio_formats"`
}

// SourceConfig lists local RTP feeds published when the room asks for an offer.
type SourceConfig struct {
	VideoAddr  string `mapstructure:"video_addr"`
	VideoCodec string `mapstructure:"video_codec"`
	AudioAddr  string `mapstructure:"audio_addr"`
	AudioCodec string `mapstructure:"audio_codec"`
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName if it exists; defaults and RTCSIGNAL_* environment
// variables apply either way.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("RTCSIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	logger := log.With().Str("module", "config").Logger()
	if err := v.ReadInConfig(); err != nil {
		logger.Warn().Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		logger.Info().Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	logger.Info().
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("janus", cfg.Janus.Endpoint).
		Str("room", cfg.Janus.RoomID).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")

	v.SetDefault("janus.endpoint", "ws://127.0.0.1:8188")
	v.SetDefault("janus.room_id", "")
	v.SetDefault("janus.feed_id", "")
	v.SetDefault("janus.display_name", "")
	v.SetDefault("janus.secret_key", "")
	v.SetDefault("janus.string_ids", false)
	v.SetDefault("janus.connect_timeout", "20s")
	v.SetDefault("janus.keepalive_interval", "10s")
	v.SetDefault("janus.queue_size", 1000)

	v.SetDefault("webrtc.stun_server", "stun://stun.l.google.com:19302")
	v.SetDefault("webrtc.turn_servers", []string{})
	v.SetDefault("webrtc.video_codecs", []string{})
	v.SetDefault("webrtc.audio_codecs", []string{})
	v.SetDefault("webrtc.do_retransmission", true)
	v.SetDefault("webrtc.enable_data_channel_navigation", false)
	v.SetDefault("webrtc.data_channel_label", "input")

	v.SetDefault("sink.video_addr", "")
	v.SetDefault("sink.audio_addr", "")
	v.SetDefault("sink.video_formats", []string{})
	v.SetDefault("sink.audio_formats", []string{})

	v.SetDefault("source.video_addr", "")
	v.SetDefault("source.video_codec", "VP8")
	v.SetDefault("source.audio_addr", "")
	v.SetDefault("source.audio_codec", "OPUS")
}
