package httpadaptive

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-webdl/wrts/cmcd"
	"github.com/go-webdl/wrts/media"
	"github.com/go-webdl/wrts/source"
)

const testManifest = `{
  "liveTime": 10000,
  "tracks": [
    {"id": 1, "type": "video", "codec": "avc1", "bandwidth": 800000, "resolution": {"width": 1280, "height": 720}},
    {"id": 2, "type": "audio", "codec": "mp4a", "bandwidth": 64000, "sampleRate": "48000", "channels": 2}
  ],
  "sequence": {"pattern": "s/{trackId}/{sequenceId}.{ext}", "currentId": 100}
}`

// fakeClient serves canned responses keyed by request method+path substring
// match, recording every request it sees.
type fakeClient struct {
	responses []fakeResponse
	requests  []*http.Request
}

type fakeResponse struct {
	status int
	header http.Header
	body   string
	err    error
}

func (f *fakeClient) Do(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return &http.Response{StatusCode: 404, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	if r.err != nil {
		return nil, r.err
	}
	h := r.header
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     h,
		Body:       io.NopCloser(bytes.NewReader([]byte(r.body))),
	}, nil
}

func newController(client HTTPClient) *Controller {
	return New(Options{
		Endpoint:  "https://example.com/live/stream.m3u8",
		Extension: "rts",
		Client:    client,
		Base:      source.BaseOptions{},
	})
}

func TestFetchManifestOnceParsesAndAdjustsLiveTime(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{
		{status: 200, body: testManifest},
	}}
	c := newController(client)
	c.mu.Lock()
	c.manifestURL = "https://example.com/live/stream/index.json"
	c.mu.Unlock()

	fetch, err := c.fetchManifestOnce(context.Background(), c.manifestURL)
	require.NoError(t, err)
	require.NotNil(t, fetch.metadata)
	require.Equal(t, "s/{trackId}/{sequenceId}.{ext}", fetch.sequence.Pattern)
	require.Equal(t, 100, fetch.sequence.CurrentID)
	require.Len(t, fetch.metadata.VideoTracks, 1)
	require.Len(t, fetch.metadata.AudioTracks, 1)
	require.GreaterOrEqual(t, fetch.metadata.LiveTime.Now(time.Now()), int64(10000))
}

func TestFetchManifestOnceRejectsNon2xx(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{{status: 500, body: ""}}}
	c := newController(client)
	c.mu.Lock()
	c.manifestURL = "https://example.com/live/stream/index.json"
	c.mu.Unlock()

	_, err := c.fetchManifestOnce(context.Background(), c.manifestURL)
	require.Error(t, err)
	se, ok := err.(*source.SourceError)
	require.True(t, ok)
	require.Equal(t, source.RequestError, se.Kind)
}

func TestFetchManifestWithRetryRecoversAfterTransientError(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{
		{status: 500, body: ""},
		{status: 200, body: testManifest},
	}}
	c := newController(client)
	c.mu.Lock()
	c.manifestURL = "https://example.com/live/stream/index.json"
	c.mu.Unlock()

	// Shrink the backoff indirectly isn't possible (it's a const); instead
	// bound the test by asserting completion within a generous window.
	done := make(chan struct{})
	var md *media.Metadata
	go func() {
		m, _, err := c.fetchManifestWithRetry(context.Background(), c.manifestURL)
		require.NoError(t, err)
		md = m
		close(done)
	}()

	select {
	case <-done:
		require.NotNil(t, md)
	case <-time.After(3 * time.Second):
		t.Fatal("fetchManifestWithRetry did not recover from a transient error in time")
	}
	require.Len(t, client.responses, 0)
}

func TestAttachCMCDSetsHeaderOnlyWhenModeConfigured(t *testing.T) {
	c := newController(&fakeClient{})
	req, err := http.NewRequest(http.MethodGet, "https://example.com/s/1/1.rts", nil)
	require.NoError(t, err)

	c.attachCMCD(req, &media.Track{Bandwidth: 100000}, media.Video)
	require.Empty(t, req.Header.Get("CMCD-Request"))

	mode := cmcd.Short
	c.cmcdMode = &mode
	c.sessionID = "abc"
	c.attachCMCD(req, &media.Track{Bandwidth: 100000}, media.Video)
	require.Contains(t, req.Header.Get("CMCD-Request"), "sid=")
}

func TestSequenceURLUsesManifestBaseAndPattern(t *testing.T) {
	c := newController(&fakeClient{})
	c.mu.Lock()
	c.manifestURL = "https://example.com/live/index.json"
	c.sequencePattern = "s/{trackId}/{sequenceId}.{ext}"
	c.mu.Unlock()

	url, err := c.sequenceURL(1, 100)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/live/s/1/100.rts", url)
}
