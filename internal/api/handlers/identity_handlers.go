package handlers

import (
	"fmt"
	"net/http"

	"factory-safety-go/internal/core/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// identityRequest is the create/update payload for a directory record.
type identityRequest struct {
	Name       string `json:"name"`
	Department string `json:"department"`
	Active     *bool  `json:"active"`
}

// ListIdentities returns all directory records.
func (h *APIHandler) ListIdentities(c *gin.Context) {
	var employees []models.Employee
	if err := h.db.Find(&employees).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to fetch identities: %v", err)})
		return
	}
	c.JSON(http.StatusOK, employees)
}

// CreateIdentity adds a directory record. The identity key is minted here
// and is immutable for the record's lifetime.
func (h *APIHandler) CreateIdentity(c *gin.Context) {
	var req identityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid identity data: %v", err)})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identity name is required"})
		return
	}

	var existing models.Employee
	if err := h.db.Where("name = ?", req.Name).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Identity with this name already exists"})
		return
	}

	employee := models.Employee{
		Name:        req.Name,
		IdentityKey: uuid.NewString(),
		Department:  req.Department,
		Active:      true,
	}
	if req.Active != nil {
		employee.Active = *req.Active
	}

	if err := h.db.Create(&employee).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to create identity: %v", err)})
		return
	}

	h.directory.Invalidate()
	c.JSON(http.StatusCreated, employee)
}

// GetIdentity returns a single directory record.
func (h *APIHandler) GetIdentity(c *gin.Context) {
	id := c.Param("id")

	var employee models.Employee
	if err := h.db.First(&employee, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Identity not found"})
		return
	}
	c.JSON(http.StatusOK, employee)
}

// UpdateIdentity updates a directory record's name, department or active
// flag. The identity key never changes.
func (h *APIHandler) UpdateIdentity(c *gin.Context) {
	id := c.Param("id")

	var employee models.Employee
	if err := h.db.First(&employee, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Identity not found"})
		return
	}

	var req identityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid identity data: %v", err)})
		return
	}

	if req.Name != "" && req.Name != employee.Name {
		var existing models.Employee
		if err := h.db.Where("name = ? AND id != ?", req.Name, id).First(&existing).Error; err == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Identity with this name already exists"})
			return
		}
		employee.Name = req.Name
	}
	if req.Department != "" {
		employee.Department = req.Department
	}
	if req.Active != nil {
		employee.Active = *req.Active
	}

	if err := h.db.Save(&employee).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to update identity: %v", err)})
		return
	}

	h.directory.Invalidate()
	c.JSON(http.StatusOK, employee)
}

// DeleteIdentity removes a directory record. Active sessions already
// resolved to this identity keep their key; only future resolutions change.
func (h *APIHandler) DeleteIdentity(c *gin.Context) {
	id := c.Param("id")

	var employee models.Employee
	if err := h.db.First(&employee, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Identity not found"})
		return
	}

	if err := h.db.Delete(&employee).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to delete identity: %v", err)})
		return
	}

	h.directory.Invalidate()
	c.JSON(http.StatusOK, gin.H{"message": "Identity deleted successfully"})
}
