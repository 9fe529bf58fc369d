package ws

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-webdl/wrts/cmcd"
	"github.com/go-webdl/wrts/media"
	"github.com/go-webdl/wrts/source"
)

func TestDialURLAttachesSelectionAndPreload(t *testing.T) {
	selected := source.Selection{media.Audio: 1, media.Video: source.Disabled}
	got, err := dialURL("wss://example.test/stream", selected, true, 350, nil)
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "1", q.Get("audio"))
	require.Equal(t, "~", q.Get("video"))
	require.Equal(t, "true", q.Get("reliable"))
	require.Equal(t, "350", q.Get("preload"))
	require.Empty(t, q.Get("cmcd"))
}

func TestDialURLOmitsPreloadAndEncodesCMCD(t *testing.T) {
	params := &cmcd.Params{Mode: cmcd.Short, SessionID: "abc"}
	got, err := dialURL("wss://example.test/stream", source.Selection{}, false, 0, params)
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	q := u.Query()
	require.Empty(t, q.Get("preload"))
	require.Equal(t, "false", q.Get("reliable"))
	require.NotEmpty(t, q.Get("cmcd"))
}

func TestDialURLRejectsInvalidEndpoint(t *testing.T) {
	_, err := dialURL(":not-a-url", source.Selection{}, false, 0, nil)
	require.Error(t, err)
}
