package player

import (
	"testing"

	"github.com/go-webdl/wrts/media"
	"github.com/stretchr/testify/require"
)

func TestTransitionHighAndLowBoundaries(t *testing.T) {
	th := DefaultThresholds()
	require.Equal(t, media.StateHigh, th.Transition(media.StateOK, th.High+1))
	require.Equal(t, media.StateLow, th.Transition(media.StateOK, th.Low))
	require.Equal(t, media.StateLow, th.Transition(media.StateOK, th.Low-1))
}

func TestTransitionHysteresisFromLowRequiresCrossingMiddle(t *testing.T) {
	th := DefaultThresholds()
	// Between Low and Middle: stays LOW when coming from LOW.
	mid := th.Low + (th.Middle-th.Low)/2
	require.Equal(t, media.StateLow, th.Transition(media.StateLow, mid))
	require.Equal(t, media.StateOK, th.Transition(media.StateLow, th.Middle+1))
}

func TestTransitionHysteresisFromHighRequiresCrossingMiddle(t *testing.T) {
	th := DefaultThresholds()
	aboveMiddle := th.Middle + (th.High-th.Middle)/2
	require.Equal(t, media.StateHigh, th.Transition(media.StateHigh, aboveMiddle))
	require.Equal(t, media.StateOK, th.Transition(media.StateHigh, th.Middle-1))
}

func TestTransitionNoneOnlyLeavesOnceMiddleCrossed(t *testing.T) {
	th := DefaultThresholds()
	require.Equal(t, media.StateNone, th.Transition(media.StateNone, th.Low))
	require.Equal(t, media.StateNone, th.Transition(media.StateNone, th.Middle))
	require.Equal(t, media.StateOK, th.Transition(media.StateNone, th.Middle+1))
}

func TestPlaybackRateMatchesStateAndSuppression(t *testing.T) {
	require.Equal(t, 1.08, PlaybackRate(media.StateHigh, false))
	require.Equal(t, 0.92, PlaybackRate(media.StateLow, false))
	require.Equal(t, 1.0, PlaybackRate(media.StateOK, false))
	require.Equal(t, 1.0, PlaybackRate(media.StateHigh, true))
	require.Equal(t, 1.0, PlaybackRate(media.StateLow, true))
}

func TestGoLiveTargetNeverGoesBeforeStart(t *testing.T) {
	th := DefaultThresholds()
	require.InDelta(t, 10-float64(th.Middle)/1000, th.GoLiveTarget(0, 10), 1e-9)
	require.Equal(t, 5.0, th.GoLiveTarget(5, 5.1))
}
