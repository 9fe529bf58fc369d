package httpadaptive

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/go-webdl/wrts/cmcd"
	"github.com/go-webdl/wrts/media"
	"github.com/go-webdl/wrts/rts"
	"github.com/go-webdl/wrts/source"
)

const manifestRetryBackoff = 500 * time.Millisecond

// Options configures a Controller.
type Options struct {
	Endpoint  string
	Extension string // substituted for {ext} in the sequence URL pattern

	Client HTTPClient
	Logger zerolog.Logger

	MaxResolution media.Resolution

	// CMCD attaches Common Media Client Data to the audio and video
	// sequence GETs when Mode is non-nil; the manifest request, HEAD
	// probes, up probes and the last-chance requests carry none.
	CMCDMode  *cmcd.Mode
	SessionID string

	Base source.BaseOptions

	// PreloadMs is sent once, on the initial manifest request, as the
	// `preload` query parameter (spec §6). Typically the Player's
	// buffer-state MIDDLE threshold in milliseconds; <= 0 omits it.
	PreloadMs int64

	OnBufferState func() media.BufferState
	OnStall       func() bool // reports whether playback is stalled; polled once per loop iteration for rendition selection

	// OnFatal reports an unrecoverable SourceError (spec §7 "fatal for
	// the Source; surface to Player which stops") from the main loop
	// goroutine. The caller is expected to stop its Player from here;
	// Controller has already closed itself by the time this is called.
	OnFatal func(error)
}

// Controller implements HttpAdaptiveSource (spec §4.5): the pull-based
// adaptive fetch/skip controller built on source.Base for track selection
// and timestamp repair.
type Controller struct {
	*source.Base

	client HTTPClient
	logger zerolog.Logger

	endpoint      string
	extension     string
	maxResolution media.Resolution

	cmcdMode  *cmcd.Mode
	sessionID string
	preloadMs int64

	onBufferState func() media.BufferState
	onStall       func() bool
	onFatal       func(error)

	manifestGroup singleflight.Group

	mu                  sync.Mutex
	manifestURL         string
	sequencePattern     string
	nextSequence        int64
	reliable            bool
	unreliable          bool
	prevCandidate       int64
	maxSequenceDuration int64

	retry *source.AdaptiveRetry

	audioDemux *rts.Demux
	videoDemux *rts.Demux

	// downloadAllCancel/downloadUpCancel cancel the current iteration's
	// request tokens; set for the lifetime of one downloadPhase call so
	// NotifyBufferStateLow/NotifyStall (spec §4.5 "Event reactions") can
	// abort in-flight requests from outside the loop goroutine.
	downloadAllCancel context.CancelFunc
	downloadUpCancel  context.CancelFunc

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
		Base:          source.NewBase(opts.Base),
		client:        client,
		logger:        opts.Logger,
		endpoint:      opts.Endpoint,
		extension:     opts.Extension,
		maxResolution: opts.MaxResolution,
		cmcdMode:      opts.CMCDMode,
		sessionID:     opts.SessionID,
		preloadMs:     opts.PreloadMs,
		onBufferState: opts.OnBufferState,
		onStall:       opts.OnStall,
		onFatal:       opts.OnFatal,
		reliable:      true,
		retry:         source.NewAdaptiveRetry(),
	}
	c.audioDemux = rts.NewDemux(true)
	c.audioDemux.OnMedia = func(s media.Sample) { c.Base.Ingest(s, time.Now()) }
	c.videoDemux = rts.NewDemux(true)
	c.videoDemux.OnMedia = func(s media.Sample) { c.Base.Ingest(s, time.Now()) }
	return c
}

// NotifyBufferStateLow implements spec §4.5's "onBufferState == LOW: abort
// the up ghost only" event reaction.
func (c *Controller) NotifyBufferStateLow() {
	c.mu.Lock()
	cancel := c.downloadUpCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// NotifyStall implements spec §4.5's "onStall: if unreliable, abort audio,
// video, and up tokens together" event reaction.
func (c *Controller) NotifyStall() {
	if !c.isUnreliable() {
		return
	}
	c.mu.Lock()
	cancel := c.downloadAllCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetReliable implements player.Source.
func (c *Controller) SetReliable(reliable bool) {
	c.mu.Lock()
	c.reliable = reliable
	c.unreliable = !reliable
	c.mu.Unlock()
}

// Open performs spec §4.5's startup sequence (manifest URL derivation,
// manifest fetch with RTT-adjusted liveTime, sequence template capture)
// and launches the main per-sequence loop.
func (c *Controller) Open() error {
	manifestURL, err := ManifestURL(c.endpoint)
	if err != nil {
		return &source.SourceError{Kind: source.UnexpectedIssue, Err: err}
	}
	c.mu.Lock()
	c.manifestURL = manifestURL
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	c.ctx = ctx
	c.cancel = cancel

	firstRequestURL, err := withSourceQueryParams(manifestURL, c.Base.Selected, c.reliable, c.preloadMs)
	if err != nil {
		cancel()
		return &source.SourceError{Kind: source.UnexpectedIssue, Err: err}
	}

	md, seq, err := c.fetchManifestWithRetry(ctx, firstRequestURL)
	if err != nil {
		cancel()
		return err
	}
	c.Base.SetMetadata(md)

	c.mu.Lock()
	c.sequencePattern = seq.Pattern
	c.nextSequence = int64(seq.CurrentID)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runLoop(ctx)
	return nil
}

// Close cancels all in-flight request tokens and stops the main loop.
func (c *Controller) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.Base.Close()
}

// fail closes the Controller (idempotent with an external Close) and
// reports err via OnFatal — the main loop's path for spec §7's "fatal for
// the Source; surface to Player which stops."
func (c *Controller) fail(err error) {
	if c.closed.CompareAndSwap(false, true) {
		if c.cancel != nil {
			c.cancel()
		}
		_ = c.Base.Close()
	}
	if c.onFatal != nil {
		c.onFatal(err)
	}
}

// fetchManifestWithRetry implements spec §4.5 step 2: fetch with RTT
// measurement, retrying transient errors with a 500ms backoff. Concurrent
// callers
// coalesce onto one in-flight fetch via singleflight.
func (c *Controller) fetchManifestWithRetry(ctx context.Context, fetchURL string) (*media.Metadata, *media.Sequence, error) {
	for {
		v, err, _ := c.manifestGroup.Do("manifest", func() (interface{}, error) {
			return c.fetchManifestOnce(ctx, fetchURL)
		})
		if err == nil {
			pair := v.(manifestFetch)
			return pair.metadata, pair.sequence, nil
		}
		if ctx.Err() != nil {
			return nil, nil, &source.SourceError{Kind: source.UnexpectedIssue, Err: ctx.Err()}
		}

		se := &source.SourceError{}
		if asSourceError(err, se) && se.Kind != source.RequestError {
			return nil, nil, se
		}

		c.logger.Warn().Err(err).Dur("backoff", manifestRetryBackoff).Msg("manifest fetch failed, retrying")
		select {
		case <-time.After(manifestRetryBackoff):
		case <-ctx.Done():
			return nil, nil, &source.SourceError{Kind: source.UnexpectedIssue, Err: ctx.Err()}
		}
	}
}

type manifestFetch struct {
	metadata *media.Metadata
	sequence *media.Sequence
}

func asSourceError(err error, out *source.SourceError) bool {
	se, ok := err.(*source.SourceError)
	if !ok {
		return false
	}
	*out = *se
	return true
}

func (c *Controller) fetchManifestOnce(ctx context.Context, fetchURL string) (manifestFetch, error) {
	req, err := http.NewRequest(http.MethodGet, fetchURL, nil)
	if err != nil {
		return manifestFetch{}, &source.SourceError{Kind: source.UnexpectedIssue, Err: err}
	}

	result, err := doRequest(ctx, c.client, req)
	if err != nil {
		return manifestFetch{}, source.NewSourceError(source.RequestError, err)
	}
	if result.status < 200 || result.status >= 300 {
		return manifestFetch{}, source.NewSourceError(source.RequestError, fmt.Errorf("manifest fetch: status %d", result.status))
	}

	now := time.Now()
	md, seq, err := media.ParseManifest(result.body, now)
	if err != nil {
		return manifestFetch{}, &source.SourceError{Kind: source.MalformedPayload, Err: err}
	}

	// Step 3: adjust liveTime by half the measured RTT.
	md.LiveTime.Raise(md.LiveTime.Now(now)+result.rtt.Milliseconds()/2, now)

	return manifestFetch{metadata: md, sequence: seq}, nil
}
