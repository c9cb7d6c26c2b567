package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"factory-safety-go/internal/core/models"
	"factory-safety-go/internal/tracking"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists finalized visits. It is the durable half of the audit
// pipeline: the engine treats a Store failure as fail-closed and retries
// finalization on the next sweep.
type Store struct {
	db *gorm.DB
}

// NewStore creates a visit store backed by the given database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Write implements tracking.AuditSink. The insert is idempotent on track ID
// so a retry after a partially observed failure never duplicates a record.
func (s *Store) Write(ctx context.Context, visit tracking.Visit) error {
	bbox, err := json.Marshal(visit.LastBBox)
	if err != nil {
		return fmt.Errorf("failed to marshal bounding box: %w", err)
	}

	record := models.VisitRecord{
		TrackID:     visit.TrackID,
		SourceID:    visit.SourceID,
		DisplayName: visit.DisplayName,
		IdentityKey: visit.IdentityKey,
		IsKnown:     visit.IsKnown,
		FirstSeen:   visit.FirstSeen,
		LastSeen:    visit.LastSeen,
		DurationMs:  visit.Duration.Milliseconds(),
		Confidence:  visit.Confidence,
		LastBBox:    datatypes.JSON(bbox),
		SnapshotRef: visit.SnapshotRef,
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "track_id"}},
			DoNothing: true,
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to write visit record for track %d: %w", visit.TrackID, err)
	}
	return nil
}
