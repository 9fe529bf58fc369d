package source

import (
	"sync"
	"time"
)

// Step and Cap are AdaptiveRetry's tuning constants (spec §4.6).
const (
	adaptiveRetryStep time.Duration = 3000 * time.Millisecond
	adaptiveRetryCap  time.Duration = 30000 * time.Millisecond
)

// AdaptiveRetry rate-limits HttpAdaptiveSource's "up" bandwidth-emulation
// probes (spec §4.6): a rendition switch up is only attempted once the
// probe has been succeeding for at least tryDelay, and each failure backs
// the gate off further.
type AdaptiveRetry struct {
	mu sync.Mutex

	tryDelay        time.Duration
	appreciationTime time.Time
	success         bool
}

// NewAdaptiveRetry returns a gate at its initial tryDelay (Step).
func NewAdaptiveRetry() *AdaptiveRetry {
	return &AdaptiveRetry{tryDelay: adaptiveRetryStep}
}

// Try reports whether an up-switch may proceed now. The first call after a
// reset (or after raise) starts the appreciation clock; once a prior trial
// has already succeeded, tryDelay shrinks by Step (floored at Step) before
// being checked again.
func (a *AdaptiveRetry) Try(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.appreciationTime.IsZero() {
		a.appreciationTime = now
	}
	if a.success {
		a.tryDelay -= adaptiveRetryStep
		if a.tryDelay < adaptiveRetryStep {
			a.tryDelay = adaptiveRetryStep
		}
	}

	ok := now.Sub(a.appreciationTime) >= a.tryDelay
	if ok {
		a.success = true
		a.appreciationTime = time.Time{}
	}
	return ok
}

// Raise backs the gate off after an observed regression (a stall, an
// aborted up probe): clears the appreciation clock and, if the gate had
// been succeeding, grows tryDelay by Step up to Cap.
func (a *AdaptiveRetry) Raise() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.appreciationTime = time.Time{}
	if a.success {
		a.success = false
		a.tryDelay += adaptiveRetryStep
		if a.tryDelay > adaptiveRetryCap {
			a.tryDelay = adaptiveRetryCap
		}
	}
}

// Reset returns the gate to its initial state.
func (a *AdaptiveRetry) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tryDelay = adaptiveRetryStep
	a.success = false
	a.appreciationTime = time.Time{}
}
