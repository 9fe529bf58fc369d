package httpadaptive

import (
	"testing"
	"time"

	"github.com/go-webdl/wrts/media"
	"github.com/go-webdl/wrts/source"
	"github.com/stretchr/testify/require"
)

func chain(bandwidths ...uint64) []*media.Track {
	tracks := make([]*media.Track, len(bandwidths))
	for i, bw := range bandwidths {
		tracks[i] = &media.Track{ID: uint32(i), Kind: media.Video, Bandwidth: bw}
	}
	for i := range tracks {
		if i > 0 {
			tracks[i].Up = tracks[i-1]
		}
		if i < len(tracks)-1 {
			tracks[i].Down = tracks[i+1]
		}
	}
	return tracks
}

// Spec §8 scenario 1: two video renditions (800k/400k), recvByteRate=600k
// picks 400k on first decision.
func TestSelectRenditionScenario1InitialPickUnderBandwidth(t *testing.T) {
	tracks := chain(800_000, 400_000) // tracks[0]=800k (head), tracks[1]=400k
	retry := source.NewAdaptiveRetry()

	next := SelectRendition(RenditionInputs{
		Current:         tracks[0],
		ReceiveByteRate: 600_000,
		State:           media.StateLow,
	}, retry)
	require.EqualValues(t, 400_000, next.Bandwidth)
}

func TestSelectRenditionUpProbeSuccessAdoptsUp(t *testing.T) {
	tracks := chain(800_000, 400_000)
	retry := source.NewAdaptiveRetry()

	next := SelectRendition(RenditionInputs{
		Current:          tracks[1],
		ReceiveByteRate:  900_000,
		UpProbeSucceeded: true,
		State:            media.StateOK,
	}, retry)
	require.EqualValues(t, 800_000, next.Bandwidth)
}

func TestSelectRenditionStallOrAbortStepsDownAndRaises(t *testing.T) {
	tracks := chain(800_000, 400_000, 100_000)
	retry := source.NewAdaptiveRetry()

	next := SelectRendition(RenditionInputs{
		Current: tracks[0], Stalled: true, ReceiveByteRate: 50_000,
	}, retry)
	require.EqualValues(t, 100_000, next.Bandwidth, "steps down further while still over receive rate")
}

func TestFrameSkipRefusesWhenMaxSequenceDurationUnknown(t *testing.T) {
	_, ok := FrameSkipCandidate(10, 2500, 0, 0, 0)
	require.False(t, ok)
}

// Spec §8 scenario 3.
func TestFrameSkipScenario3(t *testing.T) {
	candidate, ok := FrameSkipCandidate(100, 2500, 0, 1000, 0)
	require.True(t, ok)
	require.EqualValues(t, 102, candidate)
}

func TestUpProbeRangeRefusesNonPositiveExtraByteRate(t *testing.T) {
	_, ok := UpProbeRangeLength(0, 1000, 500)
	require.False(t, ok)
	_, ok = UpProbeRangeLength(-5, 1000, 500)
	require.False(t, ok)
}

func TestUpProbeRangeLengthRoundsUp(t *testing.T) {
	length, ok := UpProbeRangeLength(333, 1010, 1000)
	require.True(t, ok)
	require.EqualValues(t, 4, length) // raw = 333*10/1000 = 3.33, rounds up to 4
}

func TestUpProbeRangeLengthExactDivisionDoesNotRoundUp(t *testing.T) {
	length, ok := UpProbeRangeLength(1000, 1003, 1000)
	require.True(t, ok)
	require.EqualValues(t, 3, length)
}

var _ = time.Now
