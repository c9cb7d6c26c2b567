package tracking

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryPutAndRemove(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Put(&Session{TrackID: 1, SourceID: "cam1"}))
	assert.Equal(t, 1, r.Count())

	r.Remove(1)
	assert.Equal(t, 0, r.Count())

	// Removing an absent ID is a no-op.
	r.Remove(42)
	assert.Equal(t, 0, r.Count())
}

func TestRegistryRejectsDuplicateTrackID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Put(&Session{TrackID: 7, SourceID: "cam1"}))

	err := r.Put(&Session{TrackID: 7, SourceID: "cam2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateTrackID)
	assert.Equal(t, 1, r.Count())
}

func TestRegistryGetActiveFiltersBySourceAndSorts(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Put(&Session{TrackID: 3, SourceID: "cam1"}))
	require.NoError(t, r.Put(&Session{TrackID: 1, SourceID: "cam1"}))
	require.NoError(t, r.Put(&Session{TrackID: 2, SourceID: "cam2"}))

	active := r.GetActive("cam1")
	require.Len(t, active, 2)
	assert.Equal(t, int64(1), active[0].TrackID)
	assert.Equal(t, int64(3), active[1].TrackID)

	assert.Empty(t, r.GetActive("cam3"))
}

func TestRegistrySnapshotReturnsCopies(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Put(&Session{TrackID: 1, SourceID: "cam1", DisplayName: "alice"}))

	snap := r.Snapshot("cam1")
	require.Len(t, snap, 1)
	snap[0].DisplayName = "mutated"

	assert.Equal(t, "alice", r.GetActive("cam1")[0].DisplayName)
}

func TestRegistrySnapshotAllSources(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Put(&Session{TrackID: 2, SourceID: "cam2"}))
	require.NoError(t, r.Put(&Session{TrackID: 1, SourceID: "cam1"}))

	all := r.Snapshot("")
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].TrackID)
	assert.Equal(t, int64(2), all[1].TrackID)
}

func TestRegistrySourceIDs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Put(&Session{TrackID: 1, SourceID: "dock"}))
	require.NoError(t, r.Put(&Session{TrackID: 2, SourceID: "assembly"}))
	require.NoError(t, r.Put(&Session{TrackID: 3, SourceID: "dock"}))

	assert.Equal(t, []string{"assembly", "dock"}, r.SourceIDs())
}

func TestIDAllocatorConcurrentUniqueness(t *testing.T) {
	alloc := NewIDAllocator()

	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[int64]bool, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := alloc.Next()
				mu.Lock()
				assert.False(t, seen[id], "duplicate ID %d", id)
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}
