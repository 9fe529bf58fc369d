// Package player implements the orchestrator from spec §4.7: the buffer
// state machine, dynamic playback rate, stall recovery, live-edge
// reconciliation, and the shared timeout slot. It owns one Source, one
// Playback, and one Metadata (spec §3 Lifecycle) but only through the
// narrow interfaces below — the concrete source/playback packages are
// wired in by the caller.
package player

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-webdl/wrts/media"
	"github.com/go-webdl/wrts/playback"
	"github.com/rs/zerolog"
)

// RenderSink is the platform video element binding (an external
// collaborator per spec §1): the Player pauses/resumes rendering and
// seeks it for live-edge reconciliation, but never owns it.
type RenderSink interface {
	Pause()
	Resume()
	Seek(currentTime float64)
}

// Source is the narrow surface the Player needs from whichever source
// implementation (HttpAdaptive/Ws/HttpDirect) is in play: start it, stop
// it, and tell it whether frame loss/sequence skipping is tolerated.
type Source interface {
	Open() error
	Close() error
	SetReliable(reliable bool)
}

// bufferStateLowNotifier and stallNotifier are optional capabilities a
// Source may implement to receive spec §4.5's "Event reactions": a
// plain type assertion keeps Source's required surface narrow for
// sources (e.g. httpdirect.Controller and ws.Controller) that have nothing
// to abort.
type bufferStateLowNotifier interface {
	NotifyBufferStateLow()
}

type stallNotifier interface {
	NotifyStall()
}

// Options configures a Player. Logger defaults to a no-op logger when
// left zero, matching the teacher/pack's zerolog-injection convention.
type Options struct {
	Source     Source
	Playback   *playback.Playback
	Render     RenderSink
	Logger     zerolog.Logger
	Thresholds Thresholds // zero value uses DefaultThresholds()

	// Unreliable mirrors "reliable" inverted: when true, frame-skip and
	// live-edge reconciliation are permitted (spec §4.4/§4.7).
	Unreliable bool

	// SuppressDynamicRate disables the HIGH/LOW rate adjustment on sinks
	// known to glitch on rate changes (spec §9).
	SuppressDynamicRate bool

	// IdleTimeout is the shared timeout-slot duration; defaults to 14s
	// (spec §4.7).
	IdleTimeout time.Duration

	OnStall       func()
	OnBufferState func(media.BufferState)
	OnStop        func(error)
}

type timeoutKind int

const (
	timeoutNone timeoutKind = iota
	timeoutStart
	timeoutConnection
	timeoutData
)

// Player is the session orchestrator described above.
type Player struct {
	source     Source
	pb         *playback.Playback
	render     RenderSink
	thresholds Thresholds
	unreliable bool
	suppress   bool
	idle       time.Duration
	logger     zerolog.Logger

	onStall       func()
	onBufferState func(media.BufferState)
	onStop        func(error)

	mu          sync.Mutex
	state       media.BufferState
	rate        float64
	leftNone    bool
	timer       *time.Timer
	timerKind   timeoutKind
	stopOnce    sync.Once
	stopped     bool
}

// New constructs a Player. Call Start to begin the session.
func New(opts Options) *Player {
	thresholds := opts.Thresholds
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	idle := opts.IdleTimeout
	if idle == 0 {
		idle = 14 * time.Second
	}
	return &Player{
		source:        opts.Source,
		pb:            opts.Playback,
		render:        opts.Render,
		thresholds:    thresholds,
		unreliable:    opts.Unreliable,
		suppress:      opts.SuppressDynamicRate,
		idle:          idle,
		logger:        opts.Logger,
		onStall:       opts.OnStall,
		onBufferState: opts.OnBufferState,
		onStop:        opts.OnStop,
		state:         media.StateNone,
		rate:          1.0,
	}
}

// Start begins the session's "Start timeout" and opens the source.
func (p *Player) Start() error {
	p.armTimeout(timeoutStart)
	if p.source == nil {
		return nil
	}
	if err := p.source.Open(); err != nil {
		p.Stop(fmt.Errorf("player: open source: %w", err))
		return err
	}
	return nil
}

// ConnectionOpened clears the Start timeout and arms the Connection
// timeout, called once the media source opens (spec §4.7).
func (p *Player) ConnectionOpened() {
	p.armTimeout(timeoutConnection)
}

// OnProgress re-evaluates the buffer state machine for currentTime
// (seconds), adjusts the dynamic playback rate, and triggers goLive on
// first-buffering completion for unreliable sessions (spec §4.7).
func (p *Player) OnProgress(currentTime float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	amount := p.pb.BufferAmount(currentTime)
	prev := p.state
	next := p.thresholds.Transition(prev, amount)

	firstBufferingJustEnded := prev == media.StateNone && next != media.StateNone
	p.state = next
	p.rate = PlaybackRate(next, p.suppress)

	if prev != next {
		p.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Int64("bufferAmountMs", amount).Msg("buffer state transition")
		if p.onBufferState != nil {
			p.onBufferState(next)
		}
		if next == media.StateLow {
			if n, ok := p.source.(bufferStateLowNotifier); ok {
				n.NotifyBufferStateLow()
			}
		}
	}

	if firstBufferingJustEnded {
		p.clearTimeout()
		endTime := p.pb.EndTime()
		if p.unreliable && (endTime-currentTime)*1000 > float64(p.thresholds.High) {
			p.goLiveLocked()
		}
	}
}

// OnSeek re-evaluates live reconciliation after a user seek (spec §4.7).
func (p *Player) OnSeek(currentTime float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	amount := p.pb.BufferAmount(currentTime)
	if p.unreliable && amount > p.thresholds.High {
		p.goLiveLocked()
	}
	startTime := p.pb.StartTime()
	if currentTime < startTime {
		p.goLiveLocked()
	}
}

func (p *Player) goLiveLocked() {
	target := p.thresholds.GoLiveTarget(p.pb.StartTime(), p.pb.EndTime())
	if p.render != nil {
		p.render.Seek(target)
	}
}

// OnWaiting handles the media element's "waiting" event: under the LOW
// threshold this forces state LOW, pauses rendering, starts the Data
// timeout, and emits OnStall (spec §4.7).
func (p *Player) OnWaiting(currentTime float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	amount := p.pb.BufferAmount(currentTime)
	if amount > p.thresholds.Low {
		return
	}
	if p.state != media.StateLow {
		p.state = media.StateLow
		if p.onBufferState != nil {
			p.onBufferState(media.StateLow)
		}
	}
	if p.render != nil {
		p.render.Pause()
	}
	p.armTimeoutLocked(timeoutData)
	if n, ok := p.source.(stallNotifier); ok {
		n.NotifyStall()
	}
	if p.onStall != nil {
		p.onStall()
	}
}

// OnCanPlay handles the media element's "canplay" event: clears the Data
// timeout and resumes rendering.
func (p *Player) OnCanPlay() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clearTimeoutLocked()
	if p.render != nil {
		p.render.Resume()
	}
}

// SetReliable flips frame-skip permission on the underlying source.
func (p *Player) SetReliable(reliable bool) {
	p.mu.Lock()
	p.unreliable = !reliable
	p.mu.Unlock()
	if p.source != nil {
		p.source.SetReliable(reliable)
	}
}

// Stop tears down the session exactly once, closing the source and
// clearing any armed timeout, then calling OnStop(err).
func (p *Player) Stop(err error) {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.clearTimeoutLocked()
		p.mu.Unlock()

		if p.source != nil {
			if cerr := p.source.Close(); cerr != nil {
				p.logger.Warn().Err(cerr).Msg("error closing source during stop")
			}
		}
		if p.onStop != nil {
			p.onStop(err)
		}
	})
}

// Stats is a read-only snapshot of session telemetry (SPEC_FULL.md's
// supplemented Player.Stats() accessor).
type Stats struct {
	State        media.BufferState
	PlaybackRate float64
	BufferAmount int64
}

// Stats returns a point-in-time snapshot; currentTime is the caller's
// latest observed media-element position (seconds).
func (p *Player) Stats(currentTime float64) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		State:        p.state,
		PlaybackRate: p.rate,
		BufferAmount: p.pb.BufferAmount(currentTime),
	}
}

func (p *Player) armTimeout(kind timeoutKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armTimeoutLocked(kind)
}

func (p *Player) armTimeoutLocked(kind timeoutKind) {
	p.clearTimeoutLocked()
	if p.stopped {
		return
	}
	p.timerKind = kind
	p.timer = time.AfterFunc(p.idle, func() { p.onTimeout(kind) })
}

func (p *Player) clearTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearTimeoutLocked()
}

func (p *Player) clearTimeoutLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.timerKind = timeoutNone
}

func (p *Player) onTimeout(kind timeoutKind) {
	var tkErr TimeoutErrorKind
	switch kind {
	case timeoutStart:
		tkErr = StartTimeout
	case timeoutConnection:
		tkErr = ConnectionTimeout
	case timeoutData:
		tkErr = DataTimeout
	default:
		return
	}
	p.logger.Warn().Str("timeout", tkErr.String()).Msg("idle timeout elapsed")
	p.Stop(&TimeoutError{Kind: tkErr})
}
