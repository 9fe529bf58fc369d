package httpadaptive

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-webdl/wrts/media"
	"github.com/go-webdl/wrts/source"
)

func TestManifestURLKeepsExistingJSON(t *testing.T) {
	got, err := ManifestURL("https://example.com/live/index.json")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/live/index.json", got)
}

func TestManifestURLReplacesTrailingExtension(t *testing.T) {
	got, err := ManifestURL("https://example.com/live/stream.m3u8")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/live/stream/index.json", got)
}

func TestSequenceURLSubstitutesPlaceholders(t *testing.T) {
	got, err := SequenceURL("https://example.com/live/index.json", "s/{trackId}/{sequenceId}.{ext}", 1, 100, "rts")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/live/s/1/100.rts", got)
}

func TestWithSourceQueryParamsAttachesPreloadAndSelection(t *testing.T) {
	got, err := withSourceQueryParams(
		"https://example.com/live/index.json",
		source.Selection{media.Video: 2},
		false,
		350,
	)
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	require.Equal(t, "2", u.Query().Get("video"))
	require.Equal(t, "false", u.Query().Get("reliable"))
	require.Equal(t, "350", u.Query().Get("preload"))
}

func TestWithSourceQueryParamsOmitsPreloadWhenNonPositive(t *testing.T) {
	got, err := withSourceQueryParams("https://example.com/live/index.json", source.Selection{}, true, 0)
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	require.Empty(t, u.Query().Get("preload"))
}
