package tracking

// Matcher associates an incoming detection with an existing session by
// spatial continuity. Recognition identity is deliberately not a matching
// key: the same person can flicker between matched and unmatched across
// consecutive frames on borderline recognition scores, while the bounding
// box center barely moves. Identity only enriches a session after the
// matcher has fixed which session the detection belongs to.
type Matcher struct {
	threshold float64
}

// NewMatcher creates a matcher with the given proximity threshold, expressed
// in the detector's coordinate space.
func NewMatcher(threshold float64) *Matcher {
	return &Matcher{threshold: threshold}
}

// Match returns the active session the detection continues, or nil when the
// detection should start a new session. Sessions whose track IDs appear in
// claimed were already assigned a detection this cycle and are skipped, so
// two detections in one frame can never share a track (crossing paths).
//
// Ties are broken by smallest center distance, then by oldest FirstSeen.
func (m *Matcher) Match(det Detection, active []*Session, claimed map[int64]bool) *Session {
	var best *Session
	var bestDist float64

	for _, s := range active {
		if claimed[s.TrackID] {
			continue
		}
		dist := CenterDistance(det.BBox, s.LastBBox)
		if dist >= m.threshold {
			continue
		}
		if best == nil || dist < bestDist ||
			(dist == bestDist && s.FirstSeen.Before(best.FirstSeen)) {
			best = s
			bestDist = dist
		}
	}
	return best
}
