package source

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-webdl/wrts/media"
)

func TestTrackParamOmittedWhenAutomatic(t *testing.T) {
	_, ok := TrackParam(Selection{}, media.Audio, false)
	require.False(t, ok)
}

func TestTrackParamDeselected(t *testing.T) {
	v, ok := TrackParam(Selection{media.Audio: Disabled}, media.Audio, false)
	require.True(t, ok)
	require.Equal(t, "~", v)
}

func TestTrackParamPinnedNoAutoSwitch(t *testing.T) {
	v, ok := TrackParam(Selection{media.Video: 2}, media.Video, false)
	require.True(t, ok)
	require.Equal(t, "2", v)
}

func TestTrackParamPinnedWithAutoSwitch(t *testing.T) {
	v, ok := TrackParam(Selection{media.Video: 2}, media.Video, true)
	require.True(t, ok)
	require.Equal(t, "2~", v)
}

func TestQueryParamsOmitsPreloadWhenNonPositive(t *testing.T) {
	q := QueryParams(Selection{}, nil, true, 0)
	require.Equal(t, "true", q.Get("reliable"))
	require.Empty(t, q.Get("preload"))
	require.Empty(t, q.Get("audio"))
	require.Empty(t, q.Get("video"))
}

func TestQueryParamsIncludesPreloadAndSelections(t *testing.T) {
	q := QueryParams(Selection{media.Audio: 1, media.Video: Disabled}, map[media.Kind]bool{media.Audio: true}, false, 350)
	require.Equal(t, "1~", q.Get("audio"))
	require.Equal(t, "~", q.Get("video"))
	require.True(t, q.Has("video"))
	require.Equal(t, "false", q.Get("reliable"))
	require.Equal(t, "350", q.Get("preload"))
}
