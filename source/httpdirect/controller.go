// Package httpdirect implements HttpDirectSource (spec §2's "streaming
// subclass ... single long response"): one GET request whose chunked
// response body carries a continuous RTS byte stream, read incrementally
// and fed to the size-prefixed demuxer — the simplest of the three Source
// variants, with no adaptive bitrate logic and no bidirectional control
// channel.
package httpdirect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-webdl/wrts/cmcd"
	"github.com/go-webdl/wrts/media"
	"github.com/go-webdl/wrts/rts"
	"github.com/go-webdl/wrts/source"
)

// readBufferSize bounds one Read off the response body before it is handed
// to the demuxer; the demuxer's own internal buffer absorbs any packet that
// straddles two reads (spec §4.1's size-prefixed mode tolerates a
// truncated trailing packet until more bytes arrive).
const readBufferSize = 32 * 1024

// Options configures a Controller.
type Options struct {
	Endpoint string // http:// or https:// URL

	Client HTTPClient
	Logger zerolog.Logger

	CMCDMode  *cmcd.Mode
	SessionID string

	// PreloadMs is sent on every (re)connect as the `preload` query
	// parameter (spec §6); this variant reconnects on every
	// SetReliable/SetTracks call, so there is no true "first request
	// only" distinction here (see DESIGN.md).
	PreloadMs int64

	Base source.BaseOptions

	// OnFatal reports an unrecoverable SourceError from the read loop.
	OnFatal func(error)
}

// Controller implements HttpDirectSource.
type Controller struct {
	*source.Base

	client HTTPClient
	logger zerolog.Logger

	endpoint  string
	cmcdMode  *cmcd.Mode
	sessionID string
	preloadMs int64
	onFatal   func(error)

	demux *rts.Demux

	mu       sync.Mutex
	body     io.ReadCloser
	reliable bool
	gen      uint64 // bumped on every reconnect; a stale readLoop exits quietly instead of reporting OnFatal twice

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed atomic.Bool
}

// New returns a Controller ready for Open.
func New(opts Options) *Controller {
	client := opts.Client
	if client == nil {
		client = defaultHTTPClient()
	}

	c := &Controller{
		Base:      source.NewBase(opts.Base),
		client:    client,
		logger:    opts.Logger,
		endpoint:  opts.Endpoint,
		cmcdMode:  opts.CMCDMode,
		sessionID: opts.SessionID,
		preloadMs: opts.PreloadMs,
		onFatal:   opts.OnFatal,
		reliable:  true,
	}

	c.demux = rts.NewDemux(true) // continuous chunked byte stream, not one message per read (spec §4.1 mode b)
	c.demux.OnMedia = func(s media.Sample) { c.Base.Ingest(s, time.Now()) }
	c.demux.OnMetadata = func(md *media.Metadata) { c.Base.SetMetadata(md) }
	c.demux.OnTrackChange = func(tc rts.TrackChange) {
		c.Base.SetEffective(media.Audio, tc.AudioTrackID)
		c.Base.SetEffective(media.Video, tc.VideoTrackID)
	}

	return c
}

// Open issues the initial GET and starts the read loop (spec §6).
func (c *Controller) Open() error {
	return c.connect(c.Base.Selected)
}

// connect (re)opens the streaming GET with selected's query parameters,
// replacing any previous connection. Called once from Open, and again from
// applyTrackChange/SetReliable whenever there is no other way to carry a
// mid-stream change to the server.
func (c *Controller) connect(selected source.Selection) error {
	var cmcdParams *cmcd.Params
	if c.cmcdMode != nil {
		cmcdParams = &cmcd.Params{Mode: *c.cmcdMode, SessionID: c.sessionID}
	}

	c.mu.Lock()
	reliable := c.reliable
	c.mu.Unlock()

	url, err := streamURL(c.endpoint, selected, reliable, c.preloadMs, cmcdParams)
	if err != nil {
		return &source.SourceError{Kind: source.UnexpectedIssue, Err: err}
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return &source.SourceError{Kind: source.UnexpectedIssue, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	resp, _, err := openStream(ctx, c.client, req)
	if err != nil {
		cancel()
		return source.NewSourceError(source.RequestError, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := resp.Body
		cancel()
		_ = body.Close()
		return source.NewSourceError(source.RequestError, fmt.Errorf("stream open failed: status %d", resp.StatusCode))
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.body != nil {
		_ = c.body.Close()
	}
	c.cancel = cancel
	c.ctx = ctx
	c.body = resp.Body
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(ctx, resp.Body, gen)
	return nil
}

// readLoop drains body in readBufferSize chunks and feeds them to the
// size-prefixed demuxer until the body closes, ctx is cancelled, or a
// reconnect has superseded this loop (gen mismatch).
func (c *Controller) readLoop(ctx context.Context, body io.ReadCloser, gen uint64) {
	defer c.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := body.Read(buf)
		if n > 0 {
			if ferr := c.demux.Feed(buf[:n]); ferr != nil {
				c.failIfCurrent(gen, &source.SourceError{Kind: source.MalformedPayload, Err: ferr})
				return
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				// A live stream is not expected to end; spec §7 treats an
				// unexpectedly closed Source as ResourceUnavailable so the
				// Player's ordinary retry-on-transient-error path doesn't
				// apply here (this is the terminal notification, not a
				// hiccup).
				c.failIfCurrent(gen, &source.SourceError{Kind: source.ResourceUnavailable, Err: errors.New("stream closed")})
				return
			}
			c.failIfCurrent(gen, source.NewSourceError(source.RequestError, err))
			return
		}
	}
}

// failIfCurrent reports err via fail, unless gen is stale (a previous
// readLoop outlived by a reconnect) — a superseded loop's terminal error is
// not this Controller's current connection's business.
func (c *Controller) failIfCurrent(gen uint64, err error) {
	c.mu.Lock()
	current := gen == c.gen
	c.mu.Unlock()
	if !current {
		return
	}
	c.fail(err)
}

// Close cancels the read loop and closes the underlying response body.
func (c *Controller) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	body := c.body
	c.mu.Unlock()
	if body != nil {
		_ = body.Close()
	}
	c.wg.Wait()
	return c.Base.Close()
}

// fail closes the Controller (idempotent with an external Close) and
// reports err via OnFatal, mirroring ws.Controller.fail/httpadaptive.Controller.fail.
func (c *Controller) fail(err error) {
	if c.closed.CompareAndSwap(false, true) {
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		body := c.body
		c.mu.Unlock()
		if body != nil {
			_ = body.Close()
		}
		_ = c.Base.Close()
	}
	if c.onFatal != nil {
		c.onFatal(err)
	}
}

// SetReliable reconnects with the `reliable` query parameter flipped: a
// plain HTTP GET has no in-band channel to carry this change once the
// response has started (see DESIGN.md's resolution for this variant).
func (c *Controller) SetReliable(reliable bool) {
	c.mu.Lock()
	c.reliable = reliable
	selected := c.Base.Selected.Clone()
	c.mu.Unlock()
	c.reconnect(selected)
}

// SetTracks reconnects with updated track-selection query parameters,
// through source.Base's debounce/coalesce protocol so rapid calls collapse
// into one reconnect.
func (c *Controller) SetTracks(audio, video *int64) {
	c.Base.SelectTracks(audio, video, c.reconnect)
}

func (c *Controller) reconnect(selected source.Selection) {
	if c.closed.Load() {
		return
	}
	if err := c.connect(selected); err != nil {
		c.fail(err)
	}
}
