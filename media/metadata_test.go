package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetadataFixSortsAndLinksDescending(t *testing.T) {
	m := NewMetadata()
	m.AddTrack(&Track{ID: 1, Kind: Video, Bandwidth: 400_000})
	m.AddTrack(&Track{ID: 2, Kind: Video, Bandwidth: 800_000})
	m.AddTrack(&Track{ID: 3, Kind: Video, Bandwidth: 200_000})
	m.AddTrack(&Track{ID: 4, Kind: Audio, Bandwidth: 64_000})

	m.Fix()

	require.Len(t, m.VideoTracks, 3)
	require.Equal(t, []uint32{2, 1, 3}, trackIDs(m.VideoTracks))
	require.Len(t, m.AudioTracks, 1)

	head := m.VideoTracks[0]
	require.Nil(t, head.Up)
	require.Same(t, m.VideoTracks[1], head.Down)

	mid := m.VideoTracks[1]
	require.Same(t, head, mid.Up)
	require.Same(t, m.VideoTracks[2], mid.Down)

	tail := m.VideoTracks[2]
	require.Same(t, mid, tail.Up)
	require.Nil(t, tail.Down)

	for _, tr := range m.VideoTracks {
		require.True(t, tr.validateChain())
	}
}

func TestMetadataFixKeepsFirstOccurrenceOnDuplicateID(t *testing.T) {
	m := NewMetadata()
	m.AddTrack(&Track{ID: 1, Kind: Audio, Bandwidth: 64_000, Codec: "first"})
	m.AddTrack(&Track{ID: 1, Kind: Audio, Bandwidth: 96_000, Codec: "second"})

	require.Equal(t, "first", m.Tracks[1].Codec)
}

func TestLiveAnchorAdvancesWithWallTime(t *testing.T) {
	var a LiveAnchor
	base := time.Now()
	a.Set(10_000, base)

	require.Equal(t, int64(10_000), a.Now(base))
	require.Equal(t, int64(10_500), a.Now(base.Add(500*time.Millisecond)))
}

func TestLiveAnchorRaiseOnlyMovesForward(t *testing.T) {
	var a LiveAnchor
	base := time.Now()
	a.Set(10_000, base)

	require.Equal(t, int64(0), a.Raise(9_000, base))
	require.Equal(t, int64(10_000), a.Now(base))

	delta := a.Raise(12_000, base)
	require.Equal(t, int64(2_000), delta)
	require.Equal(t, int64(12_000), a.Now(base))
}

func trackIDs(tracks []*Track) []uint32 {
	ids := make([]uint32, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	return ids
}
