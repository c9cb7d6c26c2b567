package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"factory-safety-go/internal/core/models"

	"github.com/gin-gonic/gin"
)

// ListSessions returns the currently active sessions, optionally filtered by
// source.
func (h *APIHandler) ListSessions(c *gin.Context) {
	sourceID := c.Query("source")
	sessions := h.manager.Registry().Snapshot(sourceID)
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// ListVisits returns finalized visit records, newest first, paginated.
func (h *APIHandler) ListVisits(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := h.db.Model(&models.VisitRecord{}).Order("last_seen DESC")
	if source := c.Query("source"); source != "" {
		query = query.Where("source_id = ?", source)
	}
	if known := c.Query("known"); known != "" {
		query = query.Where("is_known = ?", known == "true")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to count visits: %v", err)})
		return
	}

	var visits []models.VisitRecord
	if err := query.Offset(offset).Limit(pageSize).Find(&visits).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to fetch visits: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"visits": visits,
		"pagination": gin.H{
			"page":     page,
			"pageSize": pageSize,
			"total":    total,
		},
	})
}
