package httpadaptive

import (
	"context"
	"net/http"
	"time"

	"github.com/go-webdl/wrts/media"
	"github.com/go-webdl/wrts/source"
)

// runLoop drives spec §4.5's "main loop, per sequence n": rendition
// selection, frame-skip decision, the parallel download phase, and event
// reactions, until ctx is cancelled or an unrecoverable payload error
// closes the Source.
func (c *Controller) runLoop(ctx context.Context) {
	defer c.wg.Done()

	md := c.Base.Metadata()
	currentAudio := topOf(md.AudioTracks)
	currentVideo := topOf(md.VideoTracks)

	// Unblocks spec §4.4's first-sample buffering: Ingest holds every
	// sample until both kinds' effective tracks are known.
	c.Base.SetEffective(media.Audio, effectiveIDOf(currentAudio, c.selectedTrack(media.Audio)))
	c.Base.SetEffective(media.Video, effectiveIDOf(currentVideo, c.selectedTrack(media.Video)))

	var prevVideoTime uint64
	var haveprevVideoTime bool
	var lastVideoByteRate uint64
	var lastRequestAborted bool
	var upProbeSucceeded bool // result of the PREVIOUS iteration's up ghost request

	for {
		if ctx.Err() != nil {
			return
		}

		state := media.StateNone
		if c.onBufferState != nil {
			state = c.onBufferState()
		}
		unreliable := c.isUnreliable()
		stalled := c.onStall != nil && c.onStall()

		if currentVideo != nil && md != nil && state != media.StateNone && !c.isPinned(media.Video) {
			currentVideo = SelectRendition(RenditionInputs{
				Current:            currentVideo,
				AudioBandwidth:     bandwidthOf(currentAudio),
				ReceiveByteRate:    lastVideoByteRate,
				LastRequestAborted: lastRequestAborted,
				Stalled:            stalled,
				UpProbeSucceeded:   upProbeSucceeded,
				State:              state,
				MaxResolution:      c.maxResolution,
				Now:                time.Now(),
			}, c.retry)
		}
		lastRequestAborted = false
		upProbeSucceeded = false

		n := c.currentSequence()

		if unreliable && state == media.StateLow && currentVideo != nil {
			if maxDur, ok := c.lastKnownMaxSequenceDuration(); ok {
				n = c.decideFrameSkip(ctx, n, md, currentVideo, maxDur, prevVideoTime, haveprevVideoTime)
			}
		}

		result := c.downloadPhase(ctx, n, currentAudio, currentVideo, lastVideoByteRate, prevVideoTime, haveprevVideoTime)
		if result.fatalErr != nil {
			c.fail(result.fatalErr)
			return
		}
		if result.videoBytes > 0 && result.videoElapsed > 0 {
			lastVideoByteRate = uint64(float64(result.videoBytes) / result.videoElapsed.Seconds())
		}
		if result.videoTimeKnown {
			prevVideoTime = result.videoTime
			haveprevVideoTime = true
		}
		lastRequestAborted = result.aborted
		upProbeSucceeded = result.upProbeSucceeded

		c.setSequence(n + 1)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func topOf(tracks []*media.Track) *media.Track {
	if len(tracks) == 0 {
		return nil
	}
	return tracks[0]
}

// effectiveIDOf reports the track id Base.SetEffective should record: the
// current track's id unless the kind was explicitly deselected
// (selectedTrack == source.Disabled), or there is no track of this kind
// at all.
func effectiveIDOf(t *media.Track, selected int64) int64 {
	if selected == source.Disabled || t == nil {
		return source.Disabled
	}
	return int64(t.ID)
}

func bandwidthOf(t *media.Track) uint64 {
	if t == nil {
		return 0
	}
	return t.Bandwidth
}

func (c *Controller) isPinned(kind media.Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.Base.Selected[kind]
	return ok && v != source.Disabled
}

func (c *Controller) isUnreliable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreliable
}

func (c *Controller) currentSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextSequence
}

func (c *Controller) setSequence(n int64) {
	c.mu.Lock()
	c.nextSequence = n
	c.mu.Unlock()
}

func (c *Controller) prevCandidateValue() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prevCandidate
}

func (c *Controller) setPrevCandidate(n int64) {
	c.mu.Lock()
	c.prevCandidate = n
	c.mu.Unlock()
}

// lastKnownMaxSequenceDuration reports the most recently observed
// "max-sequence-duration" header value, if any has been seen yet.
func (c *Controller) lastKnownMaxSequenceDuration() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxSequenceDuration <= 0 {
		return 0, false
	}
	return c.maxSequenceDuration, true
}

// decideFrameSkip implements spec §4.5's frame-skip decision as a single
// pre-download phase: "while delay > maxSequenceDuration { candidate = ...;
// HEAD; on 2xx advance n and break }". Each failed HEAD probe lowers the
// live-time estimate and narrows the next candidate via prevCandidate,
// looping within this call until a probe succeeds or FrameSkipCandidate
// reports the gap has closed — never falling through to downloadPhase with
// the stale, unskipped n on a single miss.
func (c *Controller) decideFrameSkip(ctx context.Context, n int64, md *media.Metadata, currentVideo *media.Track, maxDur int64, prevVideoTime uint64, haveprevVideoTime bool) int64 {
	currentTimeMs := int64(0)
	if haveprevVideoTime {
		currentTimeMs = int64(prevVideoTime)
	}

	prevCandidate := c.prevCandidateValue()
	for {
		if ctx.Err() != nil {
			return n
		}

		liveTimeMs := md.LiveTime.Now(time.Now())
		candidate, shouldSkip := FrameSkipCandidate(n, liveTimeMs, currentTimeMs, maxDur, prevCandidate)
		if !shouldSkip {
			return n
		}

		if c.headProbe(ctx, currentVideo, candidate) {
			c.setSequence(candidate)
			c.setPrevCandidate(0)
			return candidate
		}

		md.LiveTime.Lower(maxDur, time.Now())
		c.setPrevCandidate(candidate)
		prevCandidate = candidate
	}
}

// headProbe issues the HEAD request spec §4.5's frame-skip decision
// requires, returning true on a 2xx response.
func (c *Controller) headProbe(ctx context.Context, track *media.Track, sequenceID int64) bool {
	c.mu.Lock()
	base, pattern := c.manifestURL, c.sequencePattern
	c.mu.Unlock()

	url, err := SequenceURL(base, pattern, track.ID, sequenceID, c.extension)
	if err != nil {
		return false
	}
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	result, err := doRequest(ctx, c.client, req)
	if err != nil {
		return false
	}
	return result.status >= 200 && result.status < 300
}
