package player

import (
	"testing"
	"time"

	"github.com/go-webdl/wrts/internal/wrtslog"
	"github.com/go-webdl/wrts/media"
	"github.com/go-webdl/wrts/playback"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeSource struct {
	opened, closed bool
	reliable       bool
}

func (s *fakeSource) Open() error              { s.opened = true; return nil }
func (s *fakeSource) Close() error              { s.closed = true; return nil }
func (s *fakeSource) SetReliable(reliable bool) { s.reliable = reliable }

// notifyingFakeSource additionally implements the optional
// bufferStateLowNotifier/stallNotifier capabilities.
type notifyingFakeSource struct {
	fakeSource
	lowNotified   bool
	stallNotified bool
}

func (s *notifyingFakeSource) NotifyBufferStateLow() { s.lowNotified = true }
func (s *notifyingFakeSource) NotifyStall()          { s.stallNotified = true }

type fakeRender struct {
	paused, resumed bool
	seekedTo        float64
	seeked          bool
}

func (r *fakeRender) Pause()                { r.paused = true }
func (r *fakeRender) Resume()               { r.resumed = true }
func (r *fakeRender) Seek(t float64)        { r.seeked = true; r.seekedTo = t }

type fakeSink struct{}

func (fakeSink) AppendInit(data []byte) error     { return nil }
func (fakeSink) AppendFragment(data []byte) error { return nil }

func emptyPlayback() *playback.Playback {
	return playback.New(map[media.Kind]*media.Track{}, nil, playback.Sinks{}, wrtslog.Default())
}

func TestPlayerStartOpensSourceAndArmsTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{}
	p := New(Options{Source: src, Playback: emptyPlayback(), IdleTimeout: 10 * time.Millisecond})
	require.NoError(t, p.Start())
	require.True(t, src.opened)
	p.Stop(nil)
	require.True(t, src.closed)
}

func TestPlayerStartTimeoutFiresOnStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	var stopErr error
	done := make(chan struct{})
	p := New(Options{
		Playback:    emptyPlayback(),
		IdleTimeout: 5 * time.Millisecond,
		OnStop:      func(err error) { stopErr = err; close(done) },
	})
	require.NoError(t, p.Start())
	<-done

	var terr *TimeoutError
	require.ErrorAs(t, stopErr, &terr)
	require.Equal(t, StartTimeout, terr.Kind)
}

func TestPlayerStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	calls := 0
	p := New(Options{Playback: emptyPlayback(), OnStop: func(error) { calls++ }})
	p.Stop(nil)
	p.Stop(nil)
	require.Equal(t, 1, calls)
}

func TestPlayerOnWaitingPausesAndEmitsStallUnderLow(t *testing.T) {
	defer goleak.VerifyNone(t)

	render := &fakeRender{}
	stalled := false
	p := New(Options{Playback: emptyPlayback(), Render: render, OnStall: func() { stalled = true }})
	p.OnWaiting(0)

	require.True(t, render.paused)
	require.True(t, stalled)
	require.Equal(t, media.StateLow, p.Stats(0).State)
	p.Stop(nil)
}

func TestPlayerOnProgressNotifiesBufferStateLow(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &notifyingFakeSource{}
	p := New(Options{Source: src, Playback: emptyPlayback()})
	p.state = media.StateOK // force a transition away from NONE on the next progress tick

	p.OnProgress(0)

	require.Equal(t, media.StateLow, p.Stats(0).State)
	require.True(t, src.lowNotified)
	require.False(t, src.stallNotified)
	p.Stop(nil)
}

func TestPlayerOnWaitingNotifiesStall(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &notifyingFakeSource{}
	p := New(Options{Source: src, Playback: emptyPlayback()})

	p.OnWaiting(0)

	require.True(t, src.stallNotified)
	require.False(t, src.lowNotified)
	p.Stop(nil)
}

func TestPlayerOnCanPlayResumesRendering(t *testing.T) {
	defer goleak.VerifyNone(t)

	render := &fakeRender{}
	p := New(Options{Playback: emptyPlayback(), Render: render})
	p.OnWaiting(0)
	p.OnCanPlay()
	require.True(t, render.resumed)
	p.Stop(nil)
}
