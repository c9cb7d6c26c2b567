package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Employee is a directory record for a known person. IdentityKey is the
// opaque, stable reference handed out to the tracking engine; Name is what
// the upstream recognizer reports.
type Employee struct {
	gorm.Model
	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	IdentityKey string `gorm:"uniqueIndex;not null" json:"identity_key"`
	Department  string `gorm:"index" json:"department"`
	Active      bool   `gorm:"index" json:"active"`
}

// VisitRecord is the immutable audit record of one finalized session. The
// unique index on TrackID backstops the engine's at-most-one-audit
// guarantee at the storage layer.
type VisitRecord struct {
	gorm.Model
	TrackID     int64          `gorm:"uniqueIndex;not null" json:"track_id"`
	SourceID    string         `gorm:"index" json:"source_id"`
	DisplayName string         `json:"display_name"`
	IdentityKey string         `gorm:"index" json:"identity_key,omitempty"`
	IsKnown     bool           `gorm:"index" json:"is_known"`
	FirstSeen   time.Time      `gorm:"index" json:"first_seen"`
	LastSeen    time.Time      `json:"last_seen"`
	DurationMs  int64          `json:"duration_ms"`
	Confidence  float64        `json:"confidence"`
	LastBBox    datatypes.JSON `gorm:"type:json" json:"last_bbox"`
	SnapshotRef string         `json:"snapshot_ref,omitempty"`
}

// CameraEvent is a raw inbound event from a camera system (MQTT intake),
// kept with its original payload for troubleshooting.
type CameraEvent struct {
	gorm.Model
	EventID string         `gorm:"uniqueIndex" json:"event_id"`
	Camera  string         `gorm:"index" json:"camera"`
	Label   string         `gorm:"index" json:"label"`
	Payload datatypes.JSON `gorm:"type:json" json:"payload"`
}
