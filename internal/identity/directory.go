package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"factory-safety-go/internal/core/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Directory resolves recognized display names to stable identity keys from
// the employee store. Lookups are cached: the recognizer reports the same
// handful of names frame after frame, and the directory changes rarely.
type Directory struct {
	db *gorm.DB

	mu    sync.RWMutex
	cache map[string]string // display name -> identity key
}

// NewDirectory creates a directory backed by the given database.
func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{
		db:    db,
		cache: make(map[string]string),
	}
}

// Resolve implements tracking.IdentityResolver. A missing record is not an
// error: found=false lets the engine keep the session unknown and retry on
// later detections.
func (d *Directory) Resolve(ctx context.Context, displayName string) (string, bool, error) {
	if displayName == "" {
		return "", false, nil
	}

	d.mu.RLock()
	key, ok := d.cache[displayName]
	d.mu.RUnlock()
	if ok {
		return key, true, nil
	}

	var emp models.Employee
	err := d.db.WithContext(ctx).
		Where("name = ? AND active = ?", displayName, true).
		First(&emp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("directory lookup for %q failed: %w", displayName, err)
	}

	d.mu.Lock()
	d.cache[displayName] = emp.IdentityKey
	d.mu.Unlock()

	log.Debugf("Resolved %q to identity key %s", displayName, emp.IdentityKey)
	return emp.IdentityKey, true, nil
}

// Invalidate drops the cache. Called after directory mutations so renames
// and deactivations take effect without a restart.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	d.cache = make(map[string]string)
	d.mu.Unlock()
}
