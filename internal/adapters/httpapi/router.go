// Package httpapi exposes the local control surface consumed by the
// presentation layer: session, capture, encoder, and bridge endpoints.
package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/voltalabs/voltacast/internal/bridge"
	"github.com/voltalabs/voltacast/internal/config"
	"github.com/voltalabs/voltacast/internal/encoder"
	"github.com/voltalabs/voltacast/internal/session"
)

// Deps are the long-lived controllers the handlers call into.
type Deps struct {
	Session *session.Manager
	Encoder *encoder.Controller
	Bridge  *bridge.Controller
}

func SetupRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "adapters.httpapi").Msg("router setup")

	h := &handlers{deps: deps}
	api := r.Group("/api")

	api.GET("/status", h.status)

	api.POST("/session/connect", h.sessionConnect)
	api.POST("/session/disconnect", h.sessionDisconnect)
	api.POST("/session/mute", h.sessionMute)
	api.POST("/session/deafen", h.sessionDeafen)
	api.POST("/session/volume", h.sessionVolume)
	api.POST("/session/denoise", h.sessionDenoise)

	api.GET("/capture/sources", h.captureSources)

	api.GET("/encoder/capabilities", h.encoderCapabilities)
	api.GET("/encoder/capabilities/gstreamer", h.encoderGstCapabilities)
	api.POST("/encoder/start", h.encoderStart)
	api.POST("/encoder/stop", h.encoderStop)
	api.GET("/encoder/status", h.encoderStatus)

	api.POST("/bridge/connect", h.bridgeConnect)
	api.POST("/bridge/disconnect", h.bridgeDisconnect)
	api.POST("/bridge/configure", h.bridgeConfigure)
	api.POST("/bridge/start", h.bridgeStart)
	api.POST("/bridge/stop", h.bridgeStop)
	api.GET("/bridge/status", h.bridgeStatus)
	api.GET("/bridge/scenes", h.bridgeScenes)
	api.POST("/bridge/scene", h.bridgeSetScene)
	api.GET("/bridge/video", h.bridgeVideoSettings)

	return r
}
