package httpadaptive

import (
	"time"

	"github.com/go-webdl/wrts/media"
	"github.com/go-webdl/wrts/source"
)

// RenditionInputs bundles one iteration's observations for
// SelectRendition (spec §4.5 "Rendition selection").
type RenditionInputs struct {
	Current            *media.Track
	AudioBandwidth     uint64
	ReceiveByteRate    uint64
	LastRequestAborted bool
	Stalled            bool
	UpProbeSucceeded   bool
	State              media.BufferState
	MaxResolution      media.Resolution
	Now                time.Time
}

// SelectRendition implements spec §4.5's rendition-selection algorithm.
// It never runs when Metadata is absent or BufferState is NONE, or when
// the user has pinned a track — callers are expected to have checked
// that before calling.
func SelectRendition(in RenditionInputs, retry *source.AdaptiveRetry) *media.Track {
	current := in.Current
	if current == nil {
		return nil
	}

	switch {
	case in.LastRequestAborted || in.Stalled:
		if current.Down != nil {
			current = current.Down
		}
		for current.Down != nil && current.Bandwidth+in.AudioBandwidth > in.ReceiveByteRate {
			current = current.Down
		}
		retry.Raise()

	case in.UpProbeSucceeded && current.Up != nil:
		current = current.Up

	case in.State == media.StateLow:
		if current.Down != nil {
			current = current.Down
		}
	}

	for exceedsResolution(current.Resolution, in.MaxResolution) && current.Down != nil {
		current = current.Down
	}

	return current
}

func exceedsResolution(res, max media.Resolution) bool {
	if max.Width == 0 && max.Height == 0 {
		return false
	}
	return res.Width > max.Width || res.Height > max.Height
}

// FrameSkipCandidate implements spec §4.5's frame-skip decision for one
// HEAD-probe attempt. It refuses to skip when maxSequenceDuration is
// unknown (spec §8 boundary) or when the live edge isn't far enough ahead
// to justify a skip. prevCandidate bounds the result strictly below any
// previously-failed candidate so repeated failed HEAD probes converge
// downward.
func FrameSkipCandidate(n, liveTimeMs, currentTimeMs, maxSequenceDurationMs, prevCandidate int64) (candidate int64, shouldSkip bool) {
	if maxSequenceDurationMs <= 0 {
		return 0, false
	}
	delay := liveTimeMs - currentTimeMs
	if delay <= maxSequenceDurationMs {
		return 0, false
	}

	step := delay / maxSequenceDurationMs
	candidate = n + step
	if prevCandidate > 0 && candidate > prevCandidate-1 {
		candidate = prevCandidate - 1
	}
	if candidate <= n {
		return 0, false
	}
	return candidate, true
}

// UpProbeRangeLength implements spec §4.5's bandwidth-emulation Range
// sizing: len = ceil(extraByteRate * (videoTime - prevVideoTime) / 1000).
// A non-positive extraByteRate or a non-advancing videoTime refuses the
// probe outright (spec §8 boundary: "extraByteRate <= 0 is never
// issued").
func UpProbeRangeLength(extraByteRate float64, videoTimeMs, prevVideoTimeMs uint64) (length int64, ok bool) {
	if extraByteRate <= 0 || videoTimeMs <= prevVideoTimeMs {
		return 0, false
	}
	elapsed := float64(videoTimeMs - prevVideoTimeMs)
	raw := extraByteRate * elapsed / 1000
	length = int64(raw)
	if float64(length) < raw {
		length++
	}
	return length, true
}
