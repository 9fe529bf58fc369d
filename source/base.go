package source

import (
	"sort"
	"sync"
	"time"

	"github.com/go-webdl/wrts/media"
	"github.com/rs/zerolog"
)

// Unset means "automatic" for a selection/requested/effective entry;
// Disabled (-1) means the kind is turned off (spec §3 Tracks selection).
const (
	Disabled int64 = -1
)

// Selection is one of the three track-id maps a Source keeps per spec
// §3/§4.4: `selected` (user intent), `requested` (currently requested over
// the wire), `effective` (currently being received). A kind absent from
// the map means "automatic" (unset).
type Selection map[media.Kind]int64

// Clone returns an independent copy.
func (s Selection) Clone() Selection {
	out := make(Selection, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Base implements the shared responsibilities of spec §4.4: track
// selection state, timestamp repair, and first-sample buffering. Base does
// not measure receive rate; httpadaptive.Controller computes its own video
// receive rate. Subclasses (HttpAdaptiveSource, WsSource,
// HttpDirectSource) embed Base and add their own wire behavior.
type Base struct {
	mu sync.Mutex

	logger zerolog.Logger

	Selected  Selection
	Requested Selection
	Effective Selection

	metadata *media.Metadata

	currentTime map[media.Kind]uint64 // post-repair "next expected time" per kind
	liveCorrection int64

	buffering bool
	buffered  []media.Sample

	onSample        func(media.Sample)
	onAudioSkipping func(deltaMs int64)
	onVideoSkipping func(deltaMs int64)

	selectDebounce *time.Timer
	selectApply    func(Selection)
}

// BaseOptions configures a Base.
type BaseOptions struct {
	Logger          zerolog.Logger
	OnSample        func(media.Sample)
	OnAudioSkipping func(deltaMs int64)
	OnVideoSkipping func(deltaMs int64)
}

// NewBase returns a Base ready for first-sample buffering.
func NewBase(opts BaseOptions) *Base {
	return &Base{
		logger:          opts.Logger,
		Selected:        Selection{},
		Requested:       Selection{},
		Effective:       Selection{},
		currentTime:     map[media.Kind]uint64{},
		buffering:       true,
		onSample:        opts.OnSample,
		onAudioSkipping: opts.OnAudioSkipping,
		onVideoSkipping: opts.OnVideoSkipping,
	}
}

// SetMetadata installs the Metadata parsed from the stream/manifest.
func (b *Base) SetMetadata(md *media.Metadata) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metadata = md
}

// Metadata returns the currently installed Metadata, or nil.
func (b *Base) Metadata() *media.Metadata {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metadata
}

// tracksKnownLocked reports whether both audio and video effective tracks
// are known (a value of Disabled counts as known, per spec §4.4).
func (b *Base) tracksKnownLocked() bool {
	_, audioKnown := b.Effective[media.Audio]
	_, videoKnown := b.Effective[media.Video]
	return audioKnown && videoKnown
}

// SetEffective records that kind's effective track is now trackID
// (Disabled for "no track"). Once both audio and video are known, any
// buffered first samples are flushed in track-id order.
func (b *Base) SetEffective(kind media.Kind, trackID int64) {
	b.mu.Lock()
	b.Effective[kind] = trackID
	flush := b.buffering && b.tracksKnownLocked()
	var toFlush []media.Sample
	if flush {
		b.buffering = false
		toFlush = b.buffered
		b.buffered = nil
	}
	b.mu.Unlock()

	if flush {
		b.flush(toFlush)
	}
}

func (b *Base) flush(samples []media.Sample) {
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].TrackID < samples[j].TrackID })
	for _, s := range samples {
		if b.effectiveTrackFor(s.Kind) == Disabled {
			continue
		}
		if b.onSample != nil {
			b.onSample(s)
		}
	}
}

func (b *Base) effectiveTrackFor(kind media.Kind) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.Effective[kind]; ok {
		return v
	}
	return Disabled
}

// Ingest repairs sample's timestamp (fixTimestamp, spec §4.4), buffers it
// if the effective tracks aren't both known yet, and otherwise forwards it
// to OnSample.
func (b *Base) Ingest(sample media.Sample, now time.Time) {
	repaired := b.fixTimestamp(sample)

	b.mu.Lock()
	buffering := b.buffering
	if buffering {
		b.buffered = append(b.buffered, repaired)
	}
	b.mu.Unlock()

	b.raiseLiveTime(repaired, now)

	if buffering {
		return
	}
	if b.effectiveTrackFor(repaired.Kind) == Disabled {
		return
	}
	if b.onSample != nil {
		b.onSample(repaired)
	}
}

// fixTimestamp implements spec §4.4's timestamp-repair algorithm.
func (b *Base) fixTimestamp(sample media.Sample) media.Sample {
	extendable := sample.Duration < 0
	if extendable {
		sample.Duration = -sample.Duration
		sample.Extendable = true
	}

	b.mu.Lock()
	prev, known := b.currentTime[sample.Kind]
	b.mu.Unlock()

	var delta int64
	if known {
		delta = int64(sample.Time) - int64(prev)
	}

	fix := false
	switch sample.Kind {
	case media.Data:
		fix = delta < 0
	case media.Audio:
		// §8's boundary scenario ("7ms is skipped, 8ms is repaired") is
		// authoritative over §4.4's prose, which reads ambiguously as
		// "fix when delta<=7"; holes within the 7ms tolerance are left
		// alone, only a hole exceeding it gets repaired.
		fix = delta < 0 || delta > 7
	case media.Video:
		fix = true
	}

	if fix && known {
		sample.Time = prev
		if sample.Duration > 0 {
			sample.Duration = max64(1, sample.Duration+delta)
		}
		if delta > 0 {
			switch sample.Kind {
			case media.Audio:
				if b.onAudioSkipping != nil {
					b.onAudioSkipping(delta)
				}
			case media.Video:
				if b.onVideoSkipping != nil {
					b.onVideoSkipping(delta)
				}
			}
		}
	}

	if extendable && sample.Kind == media.Video {
		// "the new video time" is this sample's end (time+duration): if
		// another kind's current time already extends past it, stretch
		// this sample's duration to close that gap rather than leaving a
		// hole at the live edge.
		maxCurrent := b.maxCurrentTime()
		newVideoEnd := sample.Time + uint64(max64(sample.Duration, 0))
		if maxCurrent > newVideoEnd {
			gap := int64(maxCurrent - newVideoEnd)
			sample.Duration += gap
			if b.onVideoSkipping != nil {
				b.onVideoSkipping(gap)
			}
		}
	}

	b.mu.Lock()
	b.currentTime[sample.Kind] = sample.Time + uint64(max64(sample.Duration, 0))
	b.mu.Unlock()

	return sample
}

func (b *Base) maxCurrentTime() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var max uint64
	for _, t := range b.currentTime {
		if t > max {
			max = t
		}
	}
	return max
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// raiseLiveTime maintains Metadata.LiveTime >= sample.time+sample.duration
// (spec §3), logging the correction when the anchor had to move.
func (b *Base) raiseLiveTime(sample media.Sample, now time.Time) {
	b.mu.Lock()
	md := b.metadata
	b.mu.Unlock()
	if md == nil {
		return
	}
	floor := int64(sample.Time) + max64(sample.Duration, 0)
	delta := md.LiveTime.Raise(floor, now)
	if delta > 0 {
		b.logger.Debug().Int64("deltaMs", delta).Msg("raised live-time anchor to cover observed sample")
	}
}

// SelectTracks implements spec §4.4's `_selectTracks` coalescing
// protocol: identical assignments are deduplicated, and apply is deferred
// to the next tick so rapid repeated calls collapse into one wire
// request. audio/video of nil means "leave unset" (automatic); a pointer
// to Disabled deselects.
func (b *Base) SelectTracks(audio, video *int64, apply func(Selection)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.Selected.Clone()
	changed := false
	if audio != nil && next[media.Audio] != *audio {
		next[media.Audio] = *audio
		changed = true
	}
	if video != nil && next[media.Video] != *video {
		next[media.Video] = *video
		changed = true
	}
	if !changed {
		return
	}
	b.Selected = next
	b.selectApply = apply

	if b.selectDebounce != nil {
		b.selectDebounce.Stop()
	}
	b.selectDebounce = time.AfterFunc(0, func() {
		b.mu.Lock()
		selection := b.Selected.Clone()
		applyFn := b.selectApply
		b.mu.Unlock()
		if applyFn != nil {
			applyFn(selection)
		}
	})
}

// Close stops any pending debounced selection apply.
func (b *Base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.selectDebounce != nil {
		b.selectDebounce.Stop()
		b.selectDebounce = nil
	}
	return nil
}
