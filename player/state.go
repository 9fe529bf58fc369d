package player

import "github.com/go-webdl/wrts/media"

// Thresholds holds the buffer-state machine's boundaries (spec §4.7), all
// in milliseconds. Middle is maintained as the invariant midpoint whenever
// Low or High changes.
type Thresholds struct {
	Low    int64
	High   int64
	Middle int64
}

// DefaultLow and DefaultHigh are spec §4.7's defaults.
const (
	DefaultLow  int64 = 150
	DefaultHigh int64 = 550
)

// NewThresholds returns Thresholds with Middle derived from low/high.
func NewThresholds(low, high int64) Thresholds {
	return Thresholds{Low: low, High: high, Middle: low + (high-low)/2}
}

// DefaultThresholds returns spec §4.7's default 150/550 thresholds.
func DefaultThresholds() Thresholds {
	return NewThresholds(DefaultLow, DefaultHigh)
}

// Transition evaluates spec §4.7's buffer-state machine for one
// bufferAmount reading, given the current state. NONE is only ever left
// once bufferAmount crosses Middle (first-buffering completion); it is
// never re-entered by this function.
func (t Thresholds) Transition(current media.BufferState, bufferAmount int64) media.BufferState {
	if current == media.StateNone {
		if bufferAmount > t.Middle {
			return media.StateOK
		}
		return media.StateNone
	}
	switch {
	case bufferAmount > t.High:
		return media.StateHigh
	case bufferAmount > t.Low:
		switch current {
		case media.StateLow:
			if bufferAmount > t.Middle {
				return media.StateOK
			}
			return media.StateLow
		case media.StateHigh:
			if bufferAmount < t.Middle {
				return media.StateOK
			}
			return media.StateHigh
		default:
			return media.StateOK
		}
	default:
		return media.StateLow
	}
}

// PlaybackRate returns the dynamic playback rate for state (spec §4.7):
// HIGH → 1.08, LOW → 0.92, OK/NONE → 1.0. suppressDynamicRate disables the
// adjustment on sinks known to glitch on rate changes (§9 "Playback rate
// change suppression").
func PlaybackRate(state media.BufferState, suppressDynamicRate bool) float64 {
	if suppressDynamicRate {
		return 1.0
	}
	switch state {
	case media.StateHigh:
		return 1.08
	case media.StateLow:
		return 0.92
	default:
		return 1.0
	}
}

// GoLiveTarget computes spec §4.7's live-reconciliation seek position:
// max(startTime, endTime - Middle/1000), all in seconds.
func (t Thresholds) GoLiveTarget(startTime, endTime float64) float64 {
	target := endTime - float64(t.Middle)/1000
	if target < startTime {
		return startTime
	}
	return target
}
