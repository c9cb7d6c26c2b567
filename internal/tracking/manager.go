package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Clock supplies the current time. Injected so the expiry boundary can be
// tested deterministically; time.Now carries a monotonic reading, which is
// what all timestamp comparisons rely on.
type Clock func() time.Time

// IdentityResolver maps a recognized display name to a stable identity key
// in the external directory.
type IdentityResolver interface {
	// Resolve returns the identity key for a display name, found=false when
	// the directory has no record, or an error on transient failure.
	Resolve(ctx context.Context, displayName string) (key string, found bool, err error)
}

// AuditSink receives exactly one visit record per finalized session.
type AuditSink interface {
	Write(ctx context.Context, visit Visit) error
}

// SnapshotStore captures a review image for a session that was never matched
// to a known identity. Capture is requested at most once per session.
type SnapshotStore interface {
	Capture(ctx context.Context, frame []byte, sourceID string, trackID int64, bbox BoundingBox) (ref string, err error)
}

// Config holds the engine's tuning parameters.
type Config struct {
	// ProximityThreshold is the maximum bbox-center distance, in detector
	// coordinate units, at which a detection continues an existing session.
	ProximityThreshold float64
	// SessionTimeout finalizes a session once now - last_seen exceeds it.
	SessionTimeout time.Duration
	// SnapshotEnabled controls snapshot capture for unmatched sessions.
	SnapshotEnabled bool
}

// Stats are the engine counters exposed on the status endpoint.
type Stats struct {
	ActiveSessions   int   `json:"active_sessions"`
	SessionsCreated  int64 `json:"sessions_created"`
	VisitsFinalized  int64 `json:"visits_finalized"`
	AuditRetries     int64 `json:"audit_retries"`
	DroppedDetections int64 `json:"dropped_detections"`
}

// Manager orchestrates the per-frame detection cycle: expire stale sessions,
// match detections to sessions, resolve identities, update the registry.
// It is the sole owner of the registry; no other component mutates it.
type Manager struct {
	cfg       Config
	registry  *Registry
	alloc     *IDAllocator
	matcher   *Matcher
	resolver  IdentityResolver
	audit     AuditSink
	snapshots SnapshotStore
	now       Clock

	// Per-source cycle locks: two frames from the same camera are never
	// processed concurrently; different cameras run fully in parallel.
	sourceMu sync.Mutex
	sources  map[string]*sync.Mutex

	sessionsCreated   atomic.Int64
	visitsFinalized   atomic.Int64
	auditRetries      atomic.Int64
	droppedDetections atomic.Int64
}

// NewManager wires the engine together. The snapshot store may be nil when
// snapshot capture is disabled.
func NewManager(cfg Config, resolver IdentityResolver, audit AuditSink, snapshots SnapshotStore, now Clock) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:       cfg,
		registry:  NewRegistry(),
		alloc:     NewIDAllocator(),
		matcher:   NewMatcher(cfg.ProximityThreshold),
		resolver:  resolver,
		audit:     audit,
		snapshots: snapshots,
		now:       now,
		sources:   make(map[string]*sync.Mutex),
	}
}

// Registry exposes the session registry for read-only access (API listings).
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Stats returns the current engine counters.
func (m *Manager) Stats() Stats {
	return Stats{
		ActiveSessions:    m.registry.Count(),
		SessionsCreated:   m.sessionsCreated.Load(),
		VisitsFinalized:   m.visitsFinalized.Load(),
		AuditRetries:      m.auditRetries.Load(),
		DroppedDetections: m.droppedDetections.Load(),
	}
}

func (m *Manager) sourceLock(sourceID string) *sync.Mutex {
	m.sourceMu.Lock()
	defer m.sourceMu.Unlock()
	mu, ok := m.sources[sourceID]
	if !ok {
		mu = &sync.Mutex{}
		m.sources[sourceID] = mu
	}
	return mu
}

// ProcessCycle runs one synchronous detection cycle for a frame from the
// given source. The frame bytes are only needed for snapshot capture and may
// be nil when the caller has no pixel data (pre-computed detections).
//
// The returned summaries cover exactly the sessions touched this cycle, in
// detection order. A non-nil error is returned only for invariant
// violations; transient external failures degrade to partial results.
func (m *Manager) ProcessCycle(ctx context.Context, sourceID string, detections []Detection, frame []byte) ([]Summary, error) {
	mu := m.sourceLock(sourceID)
	mu.Lock()
	defer mu.Unlock()

	now := m.now()

	// Expire before matching so a person who left and returned after the
	// timeout starts a new visit instead of reviving a stale session.
	m.expireSource(ctx, sourceID, now)
	m.sweepOtherSources(ctx, sourceID, now)

	summaries := make([]Summary, 0, len(detections))
	claimed := make(map[int64]bool, len(detections))

	for _, det := range detections {
		if err := det.Validate(); err != nil {
			m.droppedDetections.Add(1)
			log.WithError(err).Warnf("Dropping invalid detection on source %s", sourceID)
			continue
		}

		active := m.registry.GetActive(sourceID)
		sess := m.matcher.Match(det, active, claimed)
		if sess == nil {
			sess = &Session{
				TrackID:     m.alloc.Next(),
				SourceID:    sourceID,
				DisplayName: det.Name,
				Confidence:  det.Confidence,
				LastBBox:    det.BBox,
				FirstSeen:   now,
				LastSeen:    now,
			}
			if err := m.registry.Put(sess); err != nil {
				// A duplicate track ID means the allocator handed out a
				// reused ID: a programming error, not an environmental one.
				log.WithError(err).Errorf("Registry invariant violation on source %s, aborting cycle", sourceID)
				return summaries, err
			}
			m.sessionsCreated.Add(1)
			log.Debugf("Started session %d on source %s", sess.TrackID, sourceID)
		}
		claimed[sess.TrackID] = true

		m.enrich(ctx, sess, det, frame)

		sess.LastBBox = det.BBox
		sess.LastSeen = now
		summaries = append(summaries, sess.Summarize())
	}

	return summaries, nil
}

// enrich applies the recognition result to the session: identity resolution
// for matched detections, snapshot capture for sessions that remain unknown.
// Failures here are transient by definition and only skip enrichment for
// this cycle; the next matching detection retries.
func (m *Manager) enrich(ctx context.Context, sess *Session, det Detection, frame []byte) {
	if det.Matched && m.resolver != nil {
		// The display name tracks the latest recognition result whether or
		// not the directory knows it.
		sess.DisplayName = det.Name
		key, found, err := m.resolver.Resolve(ctx, det.Name)
		switch {
		case err != nil:
			log.WithError(err).Warnf("Identity resolution failed for %q, retrying next cycle", det.Name)
		case found:
			sess.IdentityKey = key
			sess.IsKnown = true
			sess.Confidence = det.Confidence
			return
		default:
			log.Debugf("No directory record for recognized name %q", det.Name)
		}
	}

	// Unmatched (or unresolved) detection: capture one review snapshot for
	// sessions that have never upgraded to a known identity.
	sess.Confidence = det.Confidence
	if !sess.IsKnown && sess.SnapshotRef == "" && m.cfg.SnapshotEnabled && m.snapshots != nil && frame != nil {
		ref, err := m.snapshots.Capture(ctx, frame, sess.SourceID, sess.TrackID, det.BBox)
		if err != nil {
			log.WithError(err).Warnf("Snapshot capture failed for track %d", sess.TrackID)
			return
		}
		sess.SnapshotRef = ref
	}
}

// expireSource finalizes every session on the source whose last sighting is
// older than the session timeout. The caller must hold the source's cycle
// lock. A failed audit write leaves the session in the registry so
// finalization retries next sweep: the session survives slightly past its
// logical timeout, in exchange for never silently losing a visit record.
func (m *Manager) expireSource(ctx context.Context, sourceID string, now time.Time) {
	for _, sess := range m.registry.GetActive(sourceID) {
		if now.Sub(sess.LastSeen) <= m.cfg.SessionTimeout {
			continue
		}
		visit := sess.finalize()
		if err := m.audit.Write(ctx, visit); err != nil {
			m.auditRetries.Add(1)
			log.WithError(err).Warnf("Audit write failed for track %d, keeping session for retry", sess.TrackID)
			continue
		}
		m.registry.Remove(sess.TrackID)
		m.visitsFinalized.Add(1)
		log.Infof("Finalized session %d on source %s (%s, duration %s)",
			sess.TrackID, sourceID, visit.DisplayName, visit.Duration)
	}
}

// sweepOtherSources opportunistically expires sessions on sources other than
// the one being processed, so cameras that stopped sending frames still get
// their sessions finalized. A source whose cycle lock is busy is skipped:
// its own running cycle performs the sweep.
func (m *Manager) sweepOtherSources(ctx context.Context, currentSource string, now time.Time) {
	for _, src := range m.registry.SourceIDs() {
		if src == currentSource {
			continue
		}
		mu := m.sourceLock(src)
		if !mu.TryLock() {
			continue
		}
		m.expireSource(ctx, src, now)
		mu.Unlock()
	}
}

// Sweep runs a standalone expiry pass over every source. Exposed for callers
// that want to finalize idle sessions without waiting for the next frame.
func (m *Manager) Sweep(ctx context.Context) {
	now := m.now()
	for _, src := range m.registry.SourceIDs() {
		mu := m.sourceLock(src)
		mu.Lock()
		m.expireSource(ctx, src, now)
		mu.Unlock()
	}
}

// IsInvariantViolation reports whether the error returned by ProcessCycle
// indicates a registry invariant violation.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrDuplicateTrackID)
}
