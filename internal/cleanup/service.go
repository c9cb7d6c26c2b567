package cleanup

import (
	"os"
	"path/filepath"
	"time"

	"factory-safety-go/internal/core/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Service removes visit records, camera events and snapshot files older than
// the retention window.
type Service struct {
	db            *gorm.DB
	retentionDays int
	snapshotDir   string
	checkInterval time.Duration
	stopChan      chan struct{}
}

// NewService creates a cleanup service. Returns nil when retention is
// disabled (retention_days <= 0).
func NewService(db *gorm.DB, retentionDays int, snapshotDir string, checkInterval time.Duration) *Service {
	if retentionDays <= 0 {
		log.Info("Automatic cleanup disabled (retention_days <= 0)")
		return nil
	}
	if db == nil {
		log.Error("Cannot initialize cleanup service: database connection is nil")
		return nil
	}
	log.Infof("Initializing cleanup service: retention=%dd, interval=%s", retentionDays, checkInterval)
	return &Service{
		db:            db,
		retentionDays: retentionDays,
		snapshotDir:   snapshotDir,
		checkInterval: checkInterval,
		stopChan:      make(chan struct{}),
	}
}

// Start runs the cleanup loop in a goroutine: once immediately, then on the
// configured interval.
func (s *Service) Start() {
	if s == nil {
		return
	}
	go func() {
		s.RunCycle()
		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunCycle()
			case <-s.stopChan:
				log.Info("Stopping cleanup service")
				return
			}
		}
	}()
}

// Stop signals the cleanup loop to exit.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	close(s.stopChan)
}

// RunCycle performs one retention pass.
func (s *Service) RunCycle() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	log.Infof("Running cleanup for records older than %s", cutoff.Format(time.RFC3339))

	// Collect snapshot refs of the visits about to be removed so the files
	// go with the records.
	var refs []string
	if err := s.db.Model(&models.VisitRecord{}).
		Where("created_at < ? AND snapshot_ref <> ''", cutoff).
		Pluck("snapshot_ref", &refs).Error; err != nil {
		log.WithError(err).Error("Failed to collect snapshot refs for cleanup")
	}

	res := s.db.Unscoped().Where("created_at < ?", cutoff).Delete(&models.VisitRecord{})
	if res.Error != nil {
		log.WithError(res.Error).Error("Failed to delete old visit records")
	} else if res.RowsAffected > 0 {
		log.Infof("Deleted %d old visit records", res.RowsAffected)
	}

	res = s.db.Unscoped().Where("created_at < ?", cutoff).Delete(&models.CameraEvent{})
	if res.Error != nil {
		log.WithError(res.Error).Error("Failed to delete old camera events")
	} else if res.RowsAffected > 0 {
		log.Infof("Deleted %d old camera events", res.RowsAffected)
	}

	removed := 0
	for _, ref := range refs {
		path := filepath.Join(s.snapshotDir, filepath.FromSlash(ref))
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				log.WithError(err).Warnf("Failed to remove snapshot %s", path)
			}
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Infof("Removed %d old snapshot files", removed)
	}
}
