package scanbridge

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aymurapp/scanbridge/internal/optical"
	"github.com/aymurapp/scanbridge/internal/scan"
)

var startTime = time.Now()

// WebRTCSessionRequest carries a base64 SDP offer from a shell.
type WebRTCSessionRequest struct {
	Sd string `json:"sd"`
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET("/health", handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", handleWebSocket)
	r.POST("/webrtc/session", handleWebRTCSession)

	api := r.Group("/api")
	api.GET("/scanner", handleScannerStatus)
	api.POST("/scanner/start", handleScannerStart)
	api.POST("/scanner/stop", handleScannerStop)
	api.GET("/scanner/devices", handleScannerDevices)

	api.GET("/config", handleGetConfig)
	api.PUT("/config", handleUpdateConfig)

	api.GET("/fields", handleListFields)
	api.GET("/fields/:id", handleFieldValue)
	api.PUT("/fields/:id/value", handleFieldSetValue)
	api.POST("/fields/:id/focus", fieldAction(func(a *scan.FieldAdapter) { a.Focus() }))
	api.POST("/fields/:id/blur", fieldAction(func(a *scan.FieldAdapter) { a.Blur() }))
	api.POST("/fields/:id/clear", fieldAction(func(a *scan.FieldAdapter) { a.Clear() }))
	api.POST("/fields/:id/select", fieldAction(func(a *scan.FieldAdapter) { a.Select() }))

	return r
}

// requestLogger logs each request at debug, errors at warn.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := webLogger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = webLogger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

func handleHealth(c *gin.Context) {
	payload := gin.H{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": int64(time.Since(startTime).Seconds()),
	}
	if snapshot, ok := configSnapshot(); ok {
		payload["station_id"] = snapshot.StationID
	}
	c.JSON(http.StatusOK, payload)
}

// handleWebRTCSession answers an SDP offer with an SDP answer. Any
// previous camera session is torn down first: one shell streams at a time.
func handleWebRTCSession(c *gin.Context) {
	var req WebRTCSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Sd == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sd is required"})
		return
	}

	fps := optical.DefaultFramesPerSecond
	if snapshot, ok := configSnapshot(); ok {
		fps = snapshot.FramesPerSecond
	}

	session, err := newCameraSession(cameraProvider, fps, &webrtcLogger)
	if err != nil {
		webrtcLogger.Warn().Err(err).Msg("failed to create camera session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	sd, err := session.ExchangeOffer(req.Sd)
	if err != nil {
		webrtcLogger.Warn().Err(err).Msg("offer exchange failed")
		_ = session.Close()
		c.JSON(http.StatusBadRequest, gin.H{"error": "offer exchange failed"})
		return
	}

	cameraSessionLock.Lock()
	previous := currentCameraSession
	currentCameraSession = session
	cameraSessionLock.Unlock()
	if previous != nil {
		webrtcLogger.Info().Msg("closing previous camera session")
		_ = previous.Close()
	}

	c.JSON(http.StatusOK, gin.H{"sd": sd})
}

func handleScannerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":    opticalSession.State(),
		"scanning": opticalSession.IsScanning(),
		"metrics":  collectCaptureMetrics(),
	})
}

func handleScannerStart(c *gin.Context) {
	err := opticalSession.Start(c.Request.Context())
	switch {
	case err == nil:
		metricSessionStarts.Inc()
		c.JSON(http.StatusOK, gin.H{"state": opticalSession.State()})
	case errors.Is(err, optical.ErrSessionActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "state": opticalSession.State()})
	case errors.Is(err, optical.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "state": opticalSession.State()})
	case errors.Is(err, optical.ErrEnvironmentUnsupported), errors.Is(err, optical.ErrCapabilityDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "state": opticalSession.State()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "state": opticalSession.State()})
	}
}

func handleScannerStop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := opticalSession.Stop(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "state": opticalSession.State()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": opticalSession.State()})
}

func handleScannerDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": opticalSession.ListDevices(c.Request.Context())})
}

func handleGetConfig(c *gin.Context) {
	snapshot, ok := configSnapshot()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "config not loaded"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// handleUpdateConfig swaps in new tuning, pushes it to every capture
// component and persists it.
func handleUpdateConfig(c *gin.Context) {
	snapshot, ok := configSnapshot()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "config not loaded"})
		return
	}

	next := snapshot
	if err := c.ShouldBindJSON(&next); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := applyConfigUpdate(next); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := SaveConfig(); err != nil {
		webLogger.Warn().Err(err).Msg("config applied but not persisted")
	}
	c.JSON(http.StatusOK, next)
}

func handleListFields(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fields": fields.IDs()})
}

func handleFieldValue(c *gin.Context) {
	adapter, ok := fields.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown field id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":      c.Param("id"),
		"value":   adapter.Value(),
		"focused": adapter.Focused(),
	})
}

func handleFieldSetValue(c *gin.Context) {
	adapter, ok := fields.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown field id"})
		return
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	adapter.SetValue(body.Value)
	c.Status(http.StatusNoContent)
}

// fieldAction wraps the imperative single-field operations.
func fieldAction(fn func(*scan.FieldAdapter)) gin.HandlerFunc {
	return func(c *gin.Context) {
		adapter, ok := fields.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown field id"})
			return
		}
		fn(adapter)
		c.Status(http.StatusNoContent)
	}
}

// RunWebServer serves the daemon API until the process exits.
func RunWebServer() {
	r := setupRouter()

	addr := defaultConfig.ListenAddr
	if snapshot, ok := configSnapshot(); ok {
		addr = snapshot.ListenAddr
	}

	logger.Info().Str("addr", addr).Msg("web server listening")
	server := &http.Server{Addr: addr, Handler: r}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("web server failed")
		os.Exit(1)
	}
}
