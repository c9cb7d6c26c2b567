package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"factory-safety-go/config"
	"factory-safety-go/internal/detect"
	"factory-safety-go/internal/identity"
	"factory-safety-go/internal/sse"
	"factory-safety-go/internal/tracking"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// maxFrameBytes bounds uploaded frame size (8 MiB is generous for JPEG frames).
const maxFrameBytes = 8 << 20

// APIHandler serves the dashboard API.
type APIHandler struct {
	db        *gorm.DB
	cfg       *config.Config
	manager   *tracking.Manager
	detector  *detect.Client
	directory *identity.Directory
	hub       *sse.Hub
}

// NewAPIHandler creates the API handler with its dependencies. The detector
// may be nil when frame analysis is delegated to the cameras.
func NewAPIHandler(db *gorm.DB, cfg *config.Config, manager *tracking.Manager, detector *detect.Client, directory *identity.Directory, hub *sse.Hub) *APIHandler {
	return &APIHandler{
		db:        db,
		cfg:       cfg,
		manager:   manager,
		detector:  detector,
		directory: directory,
		hub:       hub,
	}
}

// RegisterRoutes registers all API routes.
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Frame processing
	router.POST("/frames/:source", h.ProcessFrame)
	router.POST("/frames/:source/observations", h.ProcessObservations)

	// Tracking state
	router.GET("/sessions", h.ListSessions)
	router.GET("/visits", h.ListVisits)

	// Directory
	router.GET("/identities", h.ListIdentities)
	router.POST("/identities", h.CreateIdentity)
	router.GET("/identities/:id", h.GetIdentity)
	router.PUT("/identities/:id", h.UpdateIdentity)
	router.DELETE("/identities/:id", h.DeleteIdentity)

	// System
	router.GET("/status", h.GetStatus)
	router.GET("/events", h.StreamEvents)
}

// cycleResponse is the per-frame endpoint payload: only the sessions touched
// by the current cycle, in detection order.
type cycleResponse struct {
	Source    string             `json:"source"`
	Timestamp time.Time          `json:"timestamp"`
	Sessions  []tracking.Summary `json:"sessions"`
}

// ProcessFrame accepts one camera frame, runs detection and one tracking
// cycle, and returns the touched sessions.
func (h *APIHandler) ProcessFrame(c *gin.Context) {
	sourceID := c.Param("source")

	if h.detector == nil || !h.cfg.Detector.Enabled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "detector integration is not enabled"})
		return
	}

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded or invalid form data"})
		return
	}
	defer file.Close()

	frame, err := io.ReadAll(io.LimitReader(file, maxFrameBytes+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to read frame data: %v", err)})
		return
	}
	if len(frame) > maxFrameBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "frame exceeds maximum size"})
		return
	}

	ctx := c.Request.Context()
	detections, err := h.detector.Detect(ctx, frame, sourceID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Detection failed: %v", err)})
		return
	}

	summaries, err := h.manager.ProcessCycle(ctx, sourceID, detections, frame)
	if err != nil {
		log.WithError(err).Errorf("Tracking cycle failed for source %s", sourceID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Tracking cycle failed: %v", err)})
		return
	}

	if h.hub != nil && h.cfg.Notifications.CycleResults {
		h.hub.BroadcastCycle(sourceID, summaries)
	}

	c.JSON(http.StatusOK, cycleResponse{
		Source:    sourceID,
		Timestamp: time.Now(),
		Sessions:  summaries,
	})
}

// observationsRequest carries pre-computed detections from cameras that run
// inference locally.
type observationsRequest struct {
	Detections []tracking.Detection `json:"detections" binding:"required"`
}

// ProcessObservations runs one tracking cycle over detections computed
// upstream. No frame pixels are available, so snapshot capture is skipped.
func (h *APIHandler) ProcessObservations(c *gin.Context) {
	sourceID := c.Param("source")

	var req observationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid observations payload: %v", err)})
		return
	}

	summaries, err := h.manager.ProcessCycle(c.Request.Context(), sourceID, req.Detections, nil)
	if err != nil {
		log.WithError(err).Errorf("Tracking cycle failed for source %s", sourceID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Tracking cycle failed: %v", err)})
		return
	}

	if h.hub != nil && h.cfg.Notifications.CycleResults {
		h.hub.BroadcastCycle(sourceID, summaries)
	}

	c.JSON(http.StatusOK, cycleResponse{
		Source:    sourceID,
		Timestamp: time.Now(),
		Sessions:  summaries,
	})
}
