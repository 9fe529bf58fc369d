package httpdirect

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-webdl/wrts/cmcd"
	"github.com/go-webdl/wrts/media"
	"github.com/go-webdl/wrts/source"
)

func TestStreamURLAttachesSelectionAndPreload(t *testing.T) {
	selected := source.Selection{media.Audio: 1, media.Video: source.Disabled}
	got, err := streamURL("https://example.test/stream", selected, true, 350, nil)
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "1", q.Get("audio"))
	require.Equal(t, "~", q.Get("video"))
	require.Equal(t, "true", q.Get("reliable"))
	require.Equal(t, "350", q.Get("preload"))
}

func TestStreamURLEncodesCMCD(t *testing.T) {
	params := &cmcd.Params{Mode: cmcd.Short, SessionID: "abc"}
	got, err := streamURL("https://example.test/stream", source.Selection{}, false, 0, params)
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	require.NotEmpty(t, u.Query().Get("cmcd"))
}

func TestStreamURLRejectsInvalidEndpoint(t *testing.T) {
	_, err := streamURL(":not-a-url", source.Selection{}, false, 0, nil)
	require.Error(t, err)
}
