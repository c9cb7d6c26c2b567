package tracking

import (
	"fmt"
	"math"
	"time"
)

// BoundingBox is an axis-aligned box in the detector's pixel coordinate
// space, with the origin at the top-left corner of the frame.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the geometric center of the box.
func (b BoundingBox) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Valid reports whether the box describes a usable region.
func (b BoundingBox) Valid() bool {
	for _, v := range []float64{b.X, b.Y, b.Width, b.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Width > 0 && b.Height > 0
}

// CenterDistance returns the Euclidean distance between the centers of two boxes.
func CenterDistance(a, b BoundingBox) float64 {
	ax, ay := a.Center()
	bx, by := b.Center()
	dx := ax - bx
	dy := ay - by
	return math.Sqrt(dx*dx + dy*dy)
}

// Detection is one recognized object in one frame. Detections are ephemeral;
// the upstream recognizer produces a fresh, independent set per frame.
type Detection struct {
	BBox       BoundingBox `json:"bbox"`
	Name       string      `json:"name"` // candidate display name, may be a synthetic "unknown" label
	Confidence float64     `json:"confidence"`
	Matched    bool        `json:"matched"` // whether the recognizer found a directory candidate
}

// Validate rejects detections the engine cannot process. Invalid detections
// are dropped from the cycle; the rest of the frame still processes.
func (d Detection) Validate() error {
	if !d.BBox.Valid() {
		return fmt.Errorf("invalid bounding box %+v", d.BBox)
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", d.Confidence)
	}
	return nil
}

// Session tracks one continuous real-world presence on a single camera, from
// first detection until the expiry sweep finalizes it into a visit record.
//
// TrackID, SourceID and FirstSeen are immutable once assigned. IdentityKey is
// set at most once the session upgrades to known and is never cleared while
// the session is active.
type Session struct {
	TrackID     int64       `json:"track_id"`
	SourceID    string      `json:"source_id"`
	DisplayName string      `json:"display_name"`
	IdentityKey string      `json:"identity_key,omitempty"`
	IsKnown     bool        `json:"is_known"`
	Confidence  float64     `json:"confidence"`
	LastBBox    BoundingBox `json:"last_bbox"`
	FirstSeen   time.Time   `json:"first_seen"`
	LastSeen    time.Time   `json:"last_seen"`
	SnapshotRef string      `json:"snapshot_ref,omitempty"`
}

// Summary is the client-facing projection of a session for the per-cycle
// response. Only sessions touched in the current cycle are summarised.
type Summary struct {
	TrackID     int64       `json:"track_id"`
	DisplayName string      `json:"display_name"`
	IsKnown     bool        `json:"is_known"`
	IdentityKey string      `json:"identity_key,omitempty"`
	Confidence  float64     `json:"confidence"`
	BBox        BoundingBox `json:"bbox"`
}

// Summarize builds the per-cycle summary for the session.
func (s *Session) Summarize() Summary {
	return Summary{
		TrackID:     s.TrackID,
		DisplayName: s.DisplayName,
		IsKnown:     s.IsKnown,
		IdentityKey: s.IdentityKey,
		Confidence:  s.Confidence,
		BBox:        s.LastBBox,
	}
}

// Visit is the immutable audit snapshot of a finalized session. Exactly one
// visit is produced per session lifetime.
type Visit struct {
	TrackID     int64         `json:"track_id"`
	SourceID    string        `json:"source_id"`
	DisplayName string        `json:"display_name"`
	IdentityKey string        `json:"identity_key,omitempty"`
	IsKnown     bool          `json:"is_known"`
	FirstSeen   time.Time     `json:"first_seen"`
	LastSeen    time.Time     `json:"last_seen"`
	Duration    time.Duration `json:"session_duration"`
	LastBBox    BoundingBox   `json:"last_bbox"`
	Confidence  float64       `json:"confidence"`
	SnapshotRef string        `json:"snapshot_ref,omitempty"`
}

// finalize converts the session into its audit snapshot.
func (s *Session) finalize() Visit {
	return Visit{
		TrackID:     s.TrackID,
		SourceID:    s.SourceID,
		DisplayName: s.DisplayName,
		IdentityKey: s.IdentityKey,
		IsKnown:     s.IsKnown,
		FirstSeen:   s.FirstSeen,
		LastSeen:    s.LastSeen,
		Duration:    s.LastSeen.Sub(s.FirstSeen),
		LastBBox:    s.LastBBox,
		Confidence:  s.Confidence,
		SnapshotRef: s.SnapshotRef,
	}
}
