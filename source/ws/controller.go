package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/go-webdl/wrts/cmcd"
	"github.com/go-webdl/wrts/media"
	"github.com/go-webdl/wrts/rts"
	"github.com/go-webdl/wrts/source"
)

// Options configures a Controller.
type Options struct {
	Endpoint string // ws:// or wss:// URL

	Dialer Dialer
	Logger zerolog.Logger

	CMCDMode  *cmcd.Mode
	SessionID string

	// PreloadMs is sent once, in the initial dial URL, as the `preload`
	// query parameter (spec §6).
	PreloadMs int64

	Base source.BaseOptions

	// OnFatal reports an unrecoverable SourceError from the read loop,
	// the same shape as httpadaptive.Options.OnFatal.
	OnFatal func(error)
}

// Controller implements WsSource (spec §6's "WebSocket variant"): a
// single persistent connection, binary RTS frames in, JSON control
// messages out.
type Controller struct {
	*source.Base

	dialer Dialer
	logger zerolog.Logger

	endpoint  string
	cmcdMode  *cmcd.Mode
	sessionID string
	preloadMs int64
	onFatal   func(error)

	demux *rts.Demux

	mu       sync.Mutex
	conn     Conn
	reliable bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed atomic.Bool
}

// New returns a Controller ready for Open.
func New(opts Options) *Controller {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = defaultDialer()
	}

	c := &Controller{
		Base:      source.NewBase(opts.Base),
		dialer:    dialer,
		logger:    opts.Logger,
		endpoint:  opts.Endpoint,
		cmcdMode:  opts.CMCDMode,
		sessionID: opts.SessionID,
		preloadMs: opts.PreloadMs,
		onFatal:   opts.OnFatal,
		reliable:  true,
	}

	c.demux = rts.NewDemux(false) // framed: one RTS packet per WebSocket message (spec §6)
	c.demux.OnMedia = func(s media.Sample) { c.Base.Ingest(s, time.Now()) }
	c.demux.OnMetadata = func(md *media.Metadata) { c.Base.SetMetadata(md) }
	c.demux.OnTrackChange = func(tc rts.TrackChange) {
		c.Base.SetEffective(media.Audio, tc.AudioTrackID)
		c.Base.SetEffective(media.Video, tc.VideoTrackID)
	}

	return c
}

// Open dials the WebSocket endpoint and starts the read loop (spec §6).
func (c *Controller) Open() error {
	var cmcdParams *cmcd.Params
	if c.cmcdMode != nil {
		cmcdParams = &cmcd.Params{Mode: *c.cmcdMode, SessionID: c.sessionID}
	}

	url, err := dialURL(c.endpoint, c.Base.Selected, c.reliable, c.preloadMs, cmcdParams)
	if err != nil {
		return &source.SourceError{Kind: source.UnexpectedIssue, Err: err}
	}

	conn, err := c.dialer.Dial(url, nil)
	if err != nil {
		return source.NewSourceError(source.RequestError, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	c.ctx = ctx
	c.cancel = cancel

	c.wg.Add(1)
	go c.readLoop(ctx)
	return nil
}

// readLoop drains binary RTS frames off the connection and feeds them to
// the demuxer until the connection closes or ctx is cancelled.
func (c *Controller) readLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || isCleanClose(err) {
				return
			}
			c.fail(source.NewSourceError(source.RequestError, err))
			return
		}
		if messageType != websocket.BinaryMessage {
			continue // control/text frames carry no RTS payload (spec §6)
		}

		if err := c.demux.Feed(data); err != nil {
			c.fail(&source.SourceError{Kind: source.MalformedPayload, Err: err})
			return
		}
	}
}

func isCleanClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

// Close cancels the read loop and closes the underlying connection.
func (c *Controller) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	return c.Base.Close()
}

// fail closes the Controller (idempotent with an external Close) and
// reports err via OnFatal, mirroring httpadaptive.Controller.fail.
func (c *Controller) fail(err error) {
	if c.closed.CompareAndSwap(false, true) {
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		_ = c.Base.Close()
	}
	if c.onFatal != nil {
		c.onFatal(err)
	}
}

// SetReliable sends spec §6's `{"reliable": bool}` control message and
// flips frame-skip permission locally.
func (c *Controller) SetReliable(reliable bool) {
	c.mu.Lock()
	c.reliable = reliable
	c.mu.Unlock()
	c.sendJSON(map[string]bool{"reliable": reliable})
}

// SetTracks sends spec §6's `{"audio": "<id>[~]", "video": "<id>[~]"}`
// track-change message through source.Base's debounce/coalesce protocol
// (spec §4.4's `_selectTracks`).
func (c *Controller) SetTracks(audio, video *int64) {
	c.Base.SelectTracks(audio, video, c.applyTrackChange)
}

func (c *Controller) applyTrackChange(selected source.Selection) {
	msg := map[string]string{}
	if v, ok := source.TrackParam(selected, media.Audio, false); ok {
		msg["audio"] = v
	}
	if v, ok := source.TrackParam(selected, media.Video, false); ok {
		msg["video"] = v
	}
	if len(msg) == 0 {
		return
	}
	c.sendJSON(msg)
}

func (c *Controller) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn().Err(err).Msg("ws: failed to send control message")
	}
}
