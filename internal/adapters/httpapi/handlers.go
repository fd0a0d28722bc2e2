package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/voltalabs/voltacast/internal/bridge"
	"github.com/voltalabs/voltacast/internal/encoder"
	"github.com/voltalabs/voltacast/internal/session"
)

type handlers struct {
	deps Deps
}

func fail(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"error": err.Error()})
}

// errStatus maps controller errors onto HTTP codes. Unknown errors are
// internal failures.
func errStatus(err error) int {
	var authErr *session.AuthError
	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.Is(err, encoder.ErrAlreadyStreaming):
		return http.StatusConflict
	case errors.Is(err, encoder.ErrNoSources):
		return http.StatusNotFound
	case errors.Is(err, bridge.ErrNotConnected),
		errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrProcessorBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session": h.deps.Session.Status(),
		"encoder": h.deps.Encoder.Status(),
		"bridge":  h.deps.Bridge.Status(),
	})
}

func (h *handlers) sessionConnect(c *gin.Context) {
	var req struct {
		Room        string `json:"room" binding:"required"`
		DisplayName string `json:"displayName" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	sess, err := h.deps.Session.Connect(c.Request.Context(), req.Room, req.DisplayName)
	if err != nil {
		log.Error().Str("module", "adapters.httpapi").Err(err).Str("room", req.Room).Msg("connect failed")
		fail(c, errStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *handlers) sessionDisconnect(c *gin.Context) {
	h.deps.Session.Disconnect()
	c.Status(http.StatusNoContent)
}

func (h *handlers) sessionMute(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"muted": h.deps.Session.ToggleMute()})
}

func (h *handlers) sessionDeafen(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"deafened": h.deps.Session.ToggleDeafen()})
}

func (h *handlers) sessionVolume(c *gin.Context) {
	var req struct {
		Identity string  `json:"identity" binding:"required"`
		Volume   float64 `json:"volume"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	h.deps.Session.SetParticipantVolume(req.Identity, req.Volume)
	c.Status(http.StatusNoContent)
}

func (h *handlers) sessionDenoise(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := h.deps.Session.SetNoiseSuppression(c.Request.Context(), req.Enabled); err != nil {
		fail(c, errStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": h.deps.Session.NoiseSuppressionEnabled()})
}

func (h *handlers) captureSources(c *gin.Context) {
	sources, err := encoder.ListSources(c.Request.Context())
	if err != nil {
		fail(c, errStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources})
}

func (h *handlers) encoderCapabilities(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Encoder.CheckCapabilities(c.Request.Context()))
}

func (h *handlers) encoderGstCapabilities(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Encoder.CheckGstCapabilities(c.Request.Context()))
}

func (h *handlers) encoderStart(c *gin.Context) {
	var job encoder.Job
	if err := c.ShouldBindJSON(&job); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := h.deps.Encoder.Start(job); err != nil {
		log.Error().Str("module", "adapters.httpapi").Err(err).Str("source", job.SourceID).Msg("encoder start failed")
		fail(c, errStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Encoder.Status())
}

func (h *handlers) encoderStop(c *gin.Context) {
	h.deps.Encoder.Stop()
	c.JSON(http.StatusOK, h.deps.Encoder.Status())
}

func (h *handlers) encoderStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Encoder.Status())
}

func (h *handlers) bridgeConnect(c *gin.Context) {
	var req struct {
		Host     string `json:"host" binding:"required"`
		Port     int    `json:"port" binding:"required"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := h.deps.Bridge.Connect(c.Request.Context(), req.Host, req.Port, req.Password); err != nil {
		fail(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Bridge.Status())
}

func (h *handlers) bridgeDisconnect(c *gin.Context) {
	h.deps.Bridge.Disconnect()
	c.Status(http.StatusNoContent)
}

func (h *handlers) bridgeConfigure(c *gin.Context) {
	var cfg bridge.StreamSettings
	if err := c.ShouldBindJSON(&cfg); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := h.deps.Bridge.ConfigureStream(c.Request.Context(), cfg); err != nil {
		fail(c, errStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Bridge.Status())
}

func (h *handlers) bridgeStart(c *gin.Context) {
	if err := h.deps.Bridge.StartStreaming(c.Request.Context()); err != nil {
		fail(c, errStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Bridge.Status())
}

func (h *handlers) bridgeStop(c *gin.Context) {
	if err := h.deps.Bridge.StopStreaming(c.Request.Context()); err != nil {
		fail(c, errStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Bridge.Status())
}

func (h *handlers) bridgeStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Bridge.Status())
}

func (h *handlers) bridgeScenes(c *gin.Context) {
	scenes, err := h.deps.Bridge.ListScenes(c.Request.Context())
	if err != nil {
		fail(c, errStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenes": scenes})
}

func (h *handlers) bridgeSetScene(c *gin.Context) {
	var req struct {
		Scene string `json:"scene" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := h.deps.Bridge.SetScene(c.Request.Context(), req.Scene); err != nil {
		fail(c, errStatus(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) bridgeVideoSettings(c *gin.Context) {
	vs, err := h.deps.Bridge.GetVideoSettings(c.Request.Context())
	if err != nil {
		fail(c, errStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, vs)
}
