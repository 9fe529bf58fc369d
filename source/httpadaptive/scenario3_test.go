package httpadaptive

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-webdl/wrts/media"
	"github.com/go-webdl/wrts/source"
)

// scenario3Client answers HEAD/GET by URL suffix instead of a fixed queue,
// since runLoop's frame-skip decision must be driven by request content
// (which sequence was actually asked for), not by call order.
type scenario3Client struct {
	mu       sync.Mutex
	requests []*http.Request
	onGet102 func()
}

func (f *scenario3Client) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	switch {
	case req.Method == http.MethodHead && strings.HasSuffix(req.URL.Path, "/2/102.rts"):
		return okResponse(nil), nil
	case req.Method == http.MethodGet && strings.HasSuffix(req.URL.Path, "/2/102.rts"):
		if f.onGet102 != nil {
			f.onGet102()
		}
		return okResponse(nil), nil
	default:
		return &http.Response{StatusCode: 404, Header: http.Header{}, Body: io.NopCloser(bytes.NewReader(nil))}, nil
	}
}

func (f *scenario3Client) seenPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, len(f.requests))
	for i, r := range f.requests {
		paths[i] = r.Method + " " + r.URL.Path
	}
	return paths
}

func okResponse(header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: 200, Header: header, Body: io.NopCloser(bytes.NewReader(nil))}
}

// TestRunLoopScenario3SkipsFramesWithoutDownloadingSkippedSequences drives
// runLoop end-to-end (spec §8 scenario 3): the live edge is far enough
// ahead of playback that the frame-skip decision must probe forward with
// HEAD until one succeeds, landing on n+2 without ever requesting n or n+1.
func TestRunLoopScenario3SkipsFramesWithoutDownloadingSkippedSequences(t *testing.T) {
	client := &scenario3Client{}

	c := New(Options{
		Endpoint:      "https://example.com/live/stream.m3u8",
		Extension:     "rts",
		Client:        client,
		Base:          source.BaseOptions{},
		OnBufferState: func() media.BufferState { return media.StateLow },
	})
	c.SetReliable(false) // unreliable == true

	// Three video renditions so the mid one (selected by the state==LOW
	// step-down) still has a Down, keeping the last-chance-rendition path
	// (bottom rendition only) out of this test's way.
	top := &media.Track{ID: 1, Kind: media.Video, Bandwidth: 800_000}
	mid := &media.Track{ID: 2, Kind: media.Video, Bandwidth: 400_000}
	bottom := &media.Track{ID: 3, Kind: media.Video, Bandwidth: 100_000}

	md := media.NewMetadata()
	md.AddTrack(top)
	md.AddTrack(mid)
	md.AddTrack(bottom)
	md.Fix()
	md.LiveTime.Set(2500, time.Now()) // far ahead of currentTimeMs==0

	c.Base.SetMetadata(md)

	c.mu.Lock()
	c.manifestURL = "https://example.com/live/index.json"
	c.sequencePattern = "s/{trackId}/{sequenceId}.{ext}"
	c.nextSequence = 100
	c.maxSequenceDuration = 1000
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	client.onGet102 = cancel // one full iteration is all this test needs

	c.ctx = ctx
	c.cancel = cancel
	c.wg.Add(1)
	done := make(chan struct{})
	go func() {
		c.runLoop(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("runLoop did not return after the frame-skip iteration")
	}

	paths := client.seenPaths()
	require.Contains(t, paths, "HEAD /live/s/2/102.rts")
	require.Contains(t, paths, "GET /live/s/2/102.rts")
	for _, p := range paths {
		require.False(t, strings.Contains(p, "/2/100.rts"), "sequence 100 must never be requested: %v", paths)
		require.False(t, strings.Contains(p, "/2/101.rts"), "sequence 101 must never be requested: %v", paths)
	}
}
