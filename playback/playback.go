package playback

import (
	"fmt"

	"github.com/go-webdl/wrts/media"
	"github.com/rs/zerolog"
)

// Playback owns the audio and video MediaBuffers for one session (spec §3
// Lifecycle: "A Playback owns two MediaBuffers (audio, video), each owning
// a CmafMux").
type Playback struct {
	Audio *MediaBuffer
	Video *MediaBuffer

	logger zerolog.Logger
}

// Sinks bundles the two platform buffer bindings a Playback needs; either
// may be nil when that kind is disabled.
type Sinks struct {
	Audio Sink
	Video Sink
}

// New constructs a Playback with a MediaBuffer per non-nil sink/track
// pair.
func New(tracks map[media.Kind]*media.Track, protection map[media.Kind]*media.ProtectionEntry, sinks Sinks, logger zerolog.Logger) *Playback {
	p := &Playback{logger: logger}
	if sinks.Audio != nil {
		if t, ok := tracks[media.Audio]; ok {
			p.Audio = NewMediaBuffer(t, protection[media.Audio], sinks.Audio, logger)
		}
	}
	if sinks.Video != nil {
		if t, ok := tracks[media.Video]; ok {
			p.Video = NewMediaBuffer(t, protection[media.Video], sinks.Video, logger)
		}
	}
	return p
}

// Init initializes whichever buffers are present.
func (p *Playback) Init() error {
	if p.Audio != nil {
		if err := p.Audio.Init(); err != nil {
			return fmt.Errorf("playback: audio: %w", err)
		}
	}
	if p.Video != nil {
		if err := p.Video.Init(); err != nil {
			return fmt.Errorf("playback: video: %w", err)
		}
	}
	return nil
}

// Write routes sample to the buffer matching its Kind.
func (p *Playback) Write(sample media.Sample) error {
	switch sample.Kind {
	case media.Audio:
		if p.Audio == nil {
			return nil
		}
		return p.Audio.Write(sample)
	case media.Video:
		if p.Video == nil {
			return nil
		}
		return p.Video.Write(sample)
	default:
		return nil
	}
}

// BufferAmount returns the smaller (more constraining) of the audio/video
// buffer amounts at currentTime, matching the buffer-state machine's need
// for a single worst-case telemetry value. A disabled buffer does not
// constrain the result.
func (p *Playback) BufferAmount(currentTime float64) int64 {
	var amount int64 = -1
	for _, mb := range []*MediaBuffer{p.Audio, p.Video} {
		if mb == nil {
			continue
		}
		start, end := mb.BufferRange()
		a := BufferAmount(start, end, currentTime)
		if amount == -1 || a < amount {
			amount = a
		}
	}
	if amount == -1 {
		return 0
	}
	return amount
}

// EndTime returns the later of the audio/video buffer end times, used by
// live-edge reconciliation (goLive).
func (p *Playback) EndTime() float64 {
	var end float64
	for _, mb := range []*MediaBuffer{p.Audio, p.Video} {
		if mb == nil {
			continue
		}
		_, e := mb.BufferRange()
		if e > end {
			end = e
		}
	}
	return end
}

// StartTime returns the later (more restrictive) of the audio/video buffer
// start times.
func (p *Playback) StartTime() float64 {
	var start float64
	first := true
	for _, mb := range []*MediaBuffer{p.Audio, p.Video} {
		if mb == nil {
			continue
		}
		s, _ := mb.BufferRange()
		if first || s > start {
			start = s
			first = false
		}
	}
	return start
}
