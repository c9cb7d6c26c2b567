package handlers

import (
	"io"
	"net/http"
	"runtime"
	"time"

	"factory-safety-go/internal/sse"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	log "github.com/sirupsen/logrus"
)

var startTime = time.Now()

// GetStatus returns system health: engine counters, runtime stats and
// detector reachability.
func (h *APIHandler) GetStatus(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	cpuUsage := 0.0
	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		cpuUsage = percentages[0]
	} else if err != nil {
		log.WithError(err).Debug("Failed to read CPU usage")
	}

	status := gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
		"uptime":    time.Since(startTime).String(),
		"tracking":  h.manager.Stats(),
		"system": gin.H{
			"num_cpu":      runtime.NumCPU(),
			"go_routines":  runtime.NumGoroutine(),
			"cpu_usage":    cpuUsage,
			"memory_alloc": mem.Alloc,
			"memory_sys":   mem.Sys,
		},
		"detector": gin.H{
			"enabled": h.cfg.Detector.Enabled,
		},
	}

	if h.cfg.Detector.Enabled && h.detector != nil {
		reachable, err := h.detector.Ping(c.Request.Context())
		status["detector"].(gin.H)["reachable"] = reachable
		if err != nil {
			status["detector"].(gin.H)["error"] = err.Error()
		}
	}

	c.JSON(http.StatusOK, status)
}

// StreamEvents serves the SSE stream of cycle results and finalized visits.
func (h *APIHandler) StreamEvents(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event stream is not available"})
		return
	}

	client := make(sse.Client, 8)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case message, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent("message", string(message))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
