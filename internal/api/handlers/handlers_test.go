package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"factory-safety-go/config"
	"factory-safety-go/internal/audit"
	"factory-safety-go/internal/core/models"
	"factory-safety-go/internal/identity"
	"factory-safety-go/internal/tracking"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router  *gin.Engine
	db      *gorm.DB
	manager *tracking.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Employee{}, &models.VisitRecord{}))

	cfg := &config.Config{
		Tracking: config.TrackingConfig{
			ProximityThreshold: 75,
			SessionTimeout:     30 * time.Second,
		},
	}
	directory := identity.NewDirectory(db)
	manager := tracking.NewManager(tracking.Config{
		ProximityThreshold: cfg.Tracking.ProximityThreshold,
		SessionTimeout:     cfg.Tracking.SessionTimeout,
	}, directory, audit.NewSink(audit.NewStore(db)), nil, nil)

	handler := NewAPIHandler(db, cfg, manager, nil, directory, nil)

	router := gin.New()
	handler.RegisterRoutes(router.Group("/api"))

	return &testServer{router: router, db: db, manager: manager}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestProcessObservations(t *testing.T) {
	s := newTestServer(t)

	body := gin.H{"detections": []gin.H{
		{"bbox": gin.H{"x": 100, "y": 100, "width": 40, "height": 80}, "name": "unknown", "confidence": 0.7},
	}}
	w := s.do(t, http.MethodPost, "/api/frames/cam1/observations", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Source   string             `json:"source"`
		Sessions []tracking.Summary `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "cam1", resp.Source)
	require.Len(t, resp.Sessions, 1)
	assert.False(t, resp.Sessions[0].IsKnown)
	assert.Equal(t, 1, s.manager.Registry().Count())
}

func TestProcessObservationsRejectsMissingDetections(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/frames/cam1/observations", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessFrameRequiresDetector(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/frames/cam1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSessions(t *testing.T) {
	s := newTestServer(t)

	body := gin.H{"detections": []gin.H{
		{"bbox": gin.H{"x": 10, "y": 10, "width": 40, "height": 80}, "name": "unknown", "confidence": 0.7},
		{"bbox": gin.H{"x": 400, "y": 10, "width": 40, "height": 80}, "name": "unknown", "confidence": 0.7},
	}}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/frames/cam1/observations", body).Code)

	w := s.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count    int                `json:"count"`
		Sessions []tracking.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	// Filter by a source with no sessions.
	w = s.do(t, http.MethodGet, "/api/sessions?source=cam2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Count)
}

func TestListVisitsPaginationAndFilters(t *testing.T) {
	s := newTestServer(t)

	base := time.Date(2026, 8, 26, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := models.VisitRecord{
			TrackID:  int64(i + 1),
			SourceID: "dock",
			IsKnown:  i%2 == 0,
			LastSeen: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.db.Create(&rec).Error)
	}

	var resp struct {
		Visits     []models.VisitRecord `json:"visits"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}

	w := s.do(t, http.MethodGet, "/api/visits?page=1&pageSize=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(5), resp.Pagination.Total)
	require.Len(t, resp.Visits, 2)
	// Newest first.
	assert.Equal(t, int64(5), resp.Visits[0].TrackID)

	w = s.do(t, http.MethodGet, "/api/visits?known=false", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Pagination.Total)

	w = s.do(t, http.MethodGet, "/api/visits?source=assembly", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Pagination.Total)
}

func TestListVisitsReportsStorageErrors(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.db.Migrator().DropTable(&models.VisitRecord{}))

	w := s.do(t, http.MethodGet, "/api/visits", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestIdentityCRUD(t *testing.T) {
	s := newTestServer(t)

	// Create
	w := s.do(t, http.MethodPost, "/api/identities", gin.H{"name": "alice", "department": "assembly"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.Employee
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "alice", created.Name)
	assert.NotEmpty(t, created.IdentityKey)
	assert.True(t, created.Active)

	// Duplicate name conflicts
	w = s.do(t, http.MethodPost, "/api/identities", gin.H{"name": "alice"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Get
	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/identities/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Update keeps the identity key
	w = s.do(t, http.MethodPut, fmt.Sprintf("/api/identities/%d", created.ID),
		gin.H{"department": "logistics", "active": false})
	require.Equal(t, http.StatusOK, w.Code)
	var updated models.Employee
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, created.IdentityKey, updated.IdentityKey)
	assert.Equal(t, "logistics", updated.Department)
	assert.False(t, updated.Active)

	// List
	w = s.do(t, http.MethodGet, "/api/identities", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Employee
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	// Delete
	w = s.do(t, http.MethodDelete, fmt.Sprintf("/api/identities/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/identities/%d", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateIdentityHonorsInactiveFlag(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/identities", gin.H{"name": "carol", "active": false})
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.Employee
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.False(t, created.Active)

	// The stored row is inactive too, not just the response.
	var stored models.Employee
	require.NoError(t, s.db.First(&stored, created.ID).Error)
	assert.False(t, stored.Active)
}

func TestCreateIdentityRequiresName(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/identities", gin.H{"department": "assembly"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIdentityResolutionFlowsIntoSessions(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/identities", gin.H{"name": "bob"})
	require.Equal(t, http.StatusCreated, w.Code)
	var emp models.Employee
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &emp))

	body := gin.H{"detections": []gin.H{
		{"bbox": gin.H{"x": 100, "y": 100, "width": 40, "height": 80},
			"name": "bob", "confidence": 0.9, "matched": true},
	}}
	w = s.do(t, http.MethodPost, "/api/frames/cam1/observations", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sessions []tracking.Summary `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.True(t, resp.Sessions[0].IsKnown)
	assert.Equal(t, emp.IdentityKey, resp.Sessions[0].IdentityKey)
}
