package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/rtcsignal/internal/adapters/janus"
	"github.com/dkeye/rtcsignal/internal/app/negotiation"
	"github.com/dkeye/rtcsignal/internal/app/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Negotiator is the part of the negotiation engine the API drives.
type Negotiator interface {
	Status() negotiation.Status
	SendNavigationEvent(event map[string]any) (bool, error)
	RequestKeyFrame(streamID string) error
}

type SignallerStatus interface {
	Status() janus.Status
}

type ChannelControl interface {
	Channels() []pipeline.ChannelInfo
	MuteChannel(name string, muted bool) error
}

type Deps struct {
	Mode      string
	Engine    Negotiator
	Signaller SignallerStatus
	// Channels is optional.
	Channels ChannelControl
	// KeyFrameLimiter throttles keyframe requests per stream. Defaults to
	// 2 per second.
	KeyFrameLimiter *RateLimiter
}

type statusResponse struct {
	Signaller janus.Status           `json:"signaller"`
	Engine    negotiation.Status     `json:"engine"`
	Channels  []pipeline.ChannelInfo `json:"channels,omitempty"`
}

// RequestIDMiddleware tags each request so operator logs can be correlated.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func SetupRouter(d Deps) *gin.Engine {
	if d.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.KeyFrameLimiter == nil {
		d.KeyFrameLimiter = NewRateLimiter(2, time.Second)
	}

	r := gin.New()
	if d.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		resp := statusResponse{
			Signaller: d.Signaller.Status(),
			Engine:    d.Engine.Status(),
		}
		if d.Channels != nil {
			resp.Channels = d.Channels.Channels()
		}
		c.JSON(http.StatusOK, resp)
	})

	api.POST("/navigation", func(c *gin.Context) {
		var event map[string]any
		if err := c.ShouldBindJSON(&event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sent, err := d.Engine.SendNavigationEvent(event)
		if err != nil {
			log.Error().Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).Err(err).Msg("navigation event")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sent": sent})
	})

	api.POST("/streams/:id/keyframe", func(c *gin.Context) {
		id := c.Param("id")
		if !d.KeyFrameLimiter.Allow(id) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many keyframe requests"})
			return
		}
		err := d.Engine.RequestKeyFrame(id)
		switch {
		case err == nil:
			c.Status(http.StatusNoContent)
		case errors.Is(err, negotiation.ErrUnknownStream):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		}
	})

	if d.Channels != nil {
		api.POST("/channels/:name/mute", func(c *gin.Context) {
			var req struct {
				Muted *bool `json:"muted" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			err := d.Channels.MuteChannel(c.Param("name"), *req.Muted)
			switch {
			case err == nil:
				c.JSON(http.StatusOK, gin.H{"muted": *req.Muted})
			case errors.Is(err, pipeline.ErrUnknownChannel):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			}
		})
	}

	log.Info().Str("module", "adapters.http").Str("mode", d.Mode).Msg("router setup")
	return r
}
