package media

import (
	"sort"
	"sync"
	"time"
)

// LiveAnchor is a monotonic, wall-advancing estimate of the live edge (§3):
// reading it returns Value + elapsed wall time since the anchor was taken.
type LiveAnchor struct {
	mu    sync.Mutex
	value int64
	wall  time.Time
}

// Set anchors the estimate to value at wall-clock now.
func (a *LiveAnchor) Set(value int64, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = value
	a.wall = now
}

// Now returns value_ms + (now - wall_time).
func (a *LiveAnchor) Now(now time.Time) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.wall.IsZero() {
		return a.value
	}
	return a.value + now.Sub(a.wall).Milliseconds()
}

// Raise increases the anchor so that Now() >= floor, logging nothing itself
// (callers own the correction log per §3's "logs a correction"). Returns the
// applied correction in ms, or 0 if no correction was needed.
func (a *LiveAnchor) Raise(floor int64, now time.Time) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := a.value
	if !a.wall.IsZero() {
		cur += now.Sub(a.wall).Milliseconds()
	}
	if floor <= cur {
		return 0
	}
	delta := floor - cur
	a.value = floor
	a.wall = now
	return delta
}

// Lower decrements the anchor by delta ms, used when a failed frame-skip
// HEAD probe distrusts the current live-time estimate (§4.5).
func (a *LiveAnchor) Lower(delta int64, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := a.value
	if !a.wall.IsZero() {
		cur += now.Sub(a.wall).Milliseconds()
	}
	a.value = cur - delta
	a.wall = now
}

// Metadata is the normalized stream description (§3).
type Metadata struct {
	LiveTime LiveAnchor

	Tracks map[uint32]*Track

	// order records the manifest/insertion order of Tracks' keys, since Go's
	// map iteration order is randomized and Fix's stable sort needs a
	// well-defined input order to be stable with respect to (§4.3:
	// same-bandwidth ties must resolve deterministically, not per-process).
	order []uint32

	AudioTracks []*Track // sorted by descending Bandwidth
	VideoTracks []*Track
	DataTracks  []*Track

	ContentProtection map[[16]byte]ProtectionEntry
}

// NewMetadata returns an empty, ready-to-fix Metadata.
func NewMetadata() *Metadata {
	return &Metadata{
		Tracks:            map[uint32]*Track{},
		ContentProtection: map[[16]byte]ProtectionEntry{},
	}
}

// AddTrack registers t, keeping the first occurrence on duplicate IDs
// (§4.3).
func (m *Metadata) AddTrack(t *Track) {
	if _, exists := m.Tracks[t.ID]; exists {
		return
	}
	m.Tracks[t.ID] = t
	m.order = append(m.order, t.ID)
}

// Fix rebuilds the sorted per-kind lists and the Up/Down chains from the
// current Tracks map (§4.3). It must run after every AddTrack batch and
// before the lists/chains are read.
func (m *Metadata) Fix() {
	m.AudioTracks = sortedByKind(m.Tracks, m.order, Audio)
	m.VideoTracks = sortedByKind(m.Tracks, m.order, Video)
	m.DataTracks = sortedByKind(m.Tracks, m.order, Data)

	linkChain(m.AudioTracks)
	linkChain(m.VideoTracks)
	linkChain(m.DataTracks)
}

// sortedByKind collects tracks of kind in insertion order, then stable-sorts
// by descending Bandwidth — insertion order (not map iteration order) is
// what makes the stable sort's same-bandwidth tie-break deterministic.
func sortedByKind(tracks map[uint32]*Track, order []uint32, kind Kind) []*Track {
	var out []*Track
	for _, id := range order {
		t := tracks[id]
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Bandwidth > out[j].Bandwidth
	})
	return out
}

// linkChain forms the up/down doubly linked list in sorted order (head =
// highest bandwidth), clearing any previous links first so Fix is
// idempotent under re-sort.
func linkChain(sorted []*Track) {
	for i, t := range sorted {
		t.Up = nil
		t.Down = nil
		if i > 0 {
			t.Up = sorted[i-1]
		}
		if i+1 < len(sorted) {
			t.Down = sorted[i+1]
		}
	}
}
