// Package playback owns the two media buffers (audio, video) a Player
// drains (spec §2 item 7, §4.2). The platform media source/buffer and
// video element are explicitly external collaborators (spec §1); this
// package talks to them only through the Sink interface so the core stays
// testable without a browser.
package playback

import (
	"fmt"
	"sync"

	"github.com/go-webdl/wrts/cmaf"
	"github.com/go-webdl/wrts/media"
	"github.com/rs/zerolog"
)

// Sink is the platform media-source-buffer binding a MediaBuffer appends
// to. AppendInit is called once per track lifetime with the CmafMux
// initialization segment; AppendFragment is called once per sample with
// one moof+mdat fragment.
type Sink interface {
	AppendInit(data []byte) error
	AppendFragment(data []byte) error
}

// MediaBuffer wraps one track's CmafMux, tracking the buffered time range
// (in seconds, matching the video-element convention of the Sink it feeds)
// for bufferAmount telemetry.
type MediaBuffer struct {
	mu sync.Mutex

	kind   media.Kind
	mux    *cmaf.Mux
	sink   Sink
	logger zerolog.Logger

	initialized        bool
	startTime, endTime float64 // seconds
}

// NewMediaBuffer returns a MediaBuffer for track, writing to sink.
func NewMediaBuffer(track *media.Track, protection *media.ProtectionEntry, sink Sink, logger zerolog.Logger) *MediaBuffer {
	return &MediaBuffer{
		kind:   track.Kind,
		mux:    cmaf.NewMux(track, protection),
		sink:   sink,
		logger: logger.With().Str("kind", track.Kind.String()).Logger(),
	}
}

// Init writes the CmafMux initialization segment and resets the buffered
// time range.
func (b *MediaBuffer) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.mux.Init()
	if err != nil {
		return fmt.Errorf("playback: mux init: %w", err)
	}
	if err := b.sink.AppendInit(data); err != nil {
		return newMediaBufferError(AppendBufferIssue, fmt.Errorf("append init segment: %w", err))
	}
	b.initialized = true
	b.startTime, b.endTime = 0, 0
	b.logger.Debug().Msg("initialized media buffer")
	return nil
}

// Write encodes and appends one fragment, extending the buffered range to
// cover sample's [time, time+duration) window (ms, converted to seconds to
// match the Sink's reported time base).
func (b *MediaBuffer) Write(sample media.Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return newMediaBufferError(TrackWithoutMetadata, ErrTrackWithoutMetadata)
	}

	data, err := b.mux.Write(sample)
	if err != nil {
		return fmt.Errorf("playback: mux write: %w", err)
	}
	if err := b.sink.AppendFragment(data); err != nil {
		return newMediaBufferError(AppendBufferIssue, fmt.Errorf("append fragment: %w", err))
	}

	start := float64(sample.Time) / 1000
	end := float64(sample.EndTime()) / 1000
	if b.endTime == 0 && b.startTime == 0 {
		b.startTime = start
	}
	if end > b.endTime {
		b.endTime = end
	}
	return nil
}

// BufferRange returns the buffer's current [startTime, endTime) in seconds.
func (b *MediaBuffer) BufferRange() (start, end float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startTime, b.endTime
}

// BufferAmount computes spec §4.7's bufferAmount (ms) for a media element
// reporting currentTime (seconds): max(0, round((endTime -
// max(currentTime, startTime)) * 1000)).
func BufferAmount(startTime, endTime, currentTime float64) int64 {
	reference := currentTime
	if startTime > reference {
		reference = startTime
	}
	amount := (endTime - reference) * 1000
	if amount < 0 {
		return 0
	}
	return int64(amount + 0.5)
}
