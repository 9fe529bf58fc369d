package httpadaptive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-webdl/wrts/cmcd"
	"github.com/go-webdl/wrts/media"
	"github.com/go-webdl/wrts/source"
)

// downloadResult summarizes one iteration's parallel download phase (spec
// §4.5 "Download phase").
type downloadResult struct {
	fatalErr         error
	aborted          bool // video or up request was aborted (drives next iteration's down-step)
	upProbeSucceeded bool
	videoBytes       int
	videoElapsed     time.Duration
	videoTime        uint64
	videoTimeKnown   bool
}

// downloadPhase opens the audio/video GETs for sequence n, an optional "up"
// bandwidth-emulation probe, and the "last-chance rendition" HEAD+Range
// sequence when the stream is unreliable and stuck on the bottom rendition,
// then awaits them all (spec §5's "all-settled" parallel token model).
func (c *Controller) downloadPhase(ctx context.Context, n int64, currentAudio, currentVideo *media.Track, recvByteRate uint64, prevVideoTime uint64, havePrevVideoTime bool) downloadResult {
	allCtx, allCancel := context.WithCancel(ctx)
	upCtx, upCancel := context.WithCancel(allCtx)
	c.mu.Lock()
	c.downloadAllCancel = allCancel
	c.downloadUpCancel = upCancel
	c.mu.Unlock()
	defer func() {
		allCancel()
		c.mu.Lock()
		c.downloadAllCancel = nil
		c.downloadUpCancel = nil
		c.mu.Unlock()
	}()

	var wg sync.WaitGroup
	var mu sync.Mutex
	result := downloadResult{}

	audioEnabled := currentAudio != nil && c.selectedTrack(media.Audio) != source.Disabled
	videoEnabled := currentVideo != nil && c.selectedTrack(media.Video) != source.Disabled

	if audioEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.fetchSequence(allCtx, currentAudio, n, media.Audio, c.audioDemux); err != nil {
				mu.Lock()
				if result.fatalErr == nil && !isBenignFetchErr(err) {
					result.fatalErr = err
				}
				mu.Unlock()
			}
		}()
	}

	var lastChance bool
	if videoEnabled {
		state := media.StateNone
		if c.onBufferState != nil {
			state = c.onBufferState()
		}
		unreliable := c.isUnreliable()
		buffering := state == media.StateNone
		lastChance = unreliable && !buffering && state == media.StateLow && currentVideo.Down == nil

		wg.Add(1)
		go func() {
			defer wg.Done()
			bytesN, elapsed, videoTime, ok, err := c.fetchVideoSequence(allCtx, currentVideo, n, lastChance)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !isBenignFetchErr(err) {
					result.fatalErr = err
				} else {
					result.aborted = true
				}
				return
			}
			result.videoBytes = bytesN
			result.videoElapsed = elapsed
			if ok {
				result.videoTime = videoTime
				result.videoTimeKnown = true
			}
		}()
	}

	var liveTimeMs uint64
	if md := c.Base.Metadata(); md != nil {
		liveTimeMs = uint64(md.LiveTime.Now(time.Now()))
	}
	if c.shouldUpProbe(currentVideo, havePrevVideoTime) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := c.issueUpProbe(upCtx, currentVideo.Up, n-1, recvByteRate, liveTimeMs, prevVideoTime)
			mu.Lock()
			result.upProbeSucceeded = ok
			if !ok && upCtx.Err() != nil {
				result.aborted = true
			}
			mu.Unlock()
		}()
	}

	wg.Wait()
	return result
}

func (c *Controller) selectedTrack(kind media.Kind) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.Base.Selected[kind]; ok {
		return v
	}
	return 0
}

// isBenignFetchErr reports whether err reflects a deliberate abort (request
// cancellation from NotifyBufferStateLow/NotifyStall, or a retryable
// resource issue) rather than an unrecoverable payload error that must
// close the Source (spec §4.5 "on any unrecoverable payload error, close
// the Source").
func isBenignFetchErr(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	se, ok := err.(*source.SourceError)
	if ok && se.Kind == source.ResourceUnavailable {
		return true
	}
	return ok && se.Kind == source.RequestError && errors.Is(se.Err, context.Canceled)
}

// fetchSequence performs a plain GET for an audio sequence and feeds the
// response body into demux.
func (c *Controller) fetchSequence(ctx context.Context, track *media.Track, n int64, kind media.Kind, demux interface{ Feed([]byte) error }) error {
	url, err := c.sequenceURL(track.ID, n)
	if err != nil {
		return &source.SourceError{Kind: source.UnexpectedIssue, Err: err}
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return &source.SourceError{Kind: source.UnexpectedIssue, Err: err}
	}
	c.attachCMCD(req, track, kind)

	result, err := doRequest(ctx, c.client, req)
	if err != nil {
		return source.NewSourceError(source.RequestError, err)
	}
	if result.status < 200 || result.status >= 300 {
		return source.NewSourceError(source.RequestError, fmt.Errorf("sequence fetch: status %d", result.status))
	}
	if maxDur, ok := maxSequenceDurationMs(result.header); ok {
		c.mu.Lock()
		c.maxSequenceDuration = maxDur
		c.mu.Unlock()
	}
	if err := demux.Feed(result.body); err != nil {
		return &source.SourceError{Kind: source.MalformedPayload, Err: err}
	}
	return nil
}

// fetchVideoSequence is fetchSequence specialized for video so the caller
// can observe bytes/elapsed (for recvByteRate) and the last video sample
// time (for up-probe sizing), and to implement the last-chance Range
// variant.
func (c *Controller) fetchVideoSequence(ctx context.Context, track *media.Track, n int64, lastChance bool) (bytesN int, elapsed time.Duration, videoTime uint64, videoTimeKnown bool, err error) {
	url, uerr := c.sequenceURL(track.ID, n)
	if uerr != nil {
		return 0, 0, 0, false, &source.SourceError{Kind: source.UnexpectedIssue, Err: uerr}
	}

	if lastChance {
		return c.fetchLastChance(ctx, track, url)
	}

	req, rerr := http.NewRequest(http.MethodGet, url, nil)
	if rerr != nil {
		return 0, 0, 0, false, &source.SourceError{Kind: source.UnexpectedIssue, Err: rerr}
	}
	c.attachCMCD(req, track, media.Video)

	var lastTime uint64
	var sawSample bool
	c.videoDemux.OnMedia = func(s media.Sample) {
		lastTime = s.EndTime()
		sawSample = true
		c.Base.Ingest(s, time.Now())
	}

	result, rerr := doRequest(ctx, c.client, req)
	if rerr != nil {
		return 0, 0, 0, false, source.NewSourceError(source.RequestError, rerr)
	}
	if result.status < 200 || result.status >= 300 {
		return 0, 0, 0, false, source.NewSourceError(source.RequestError, fmt.Errorf("sequence fetch: status %d", result.status))
	}
	if maxDur, ok := maxSequenceDurationMs(result.header); ok {
		c.mu.Lock()
		c.maxSequenceDuration = maxDur
		c.mu.Unlock()
	}
	if ferr := c.videoDemux.Feed(result.body); ferr != nil {
		return 0, 0, 0, false, &source.SourceError{Kind: source.MalformedPayload, Err: ferr}
	}
	return len(result.body), result.rtt, lastTime, sawSample, nil
}

// fetchLastChance implements spec §4.5's "last-chance rendition": HEAD to
// learn first-frame-length, then GET only that many bytes. The truncated
// body typically yields at most one key frame; its duration is stretched
// to cover the full maxSequenceDuration window so playback doesn't starve
// waiting for the rest of a sequence this fetch deliberately never reads.
func (c *Controller) fetchLastChance(ctx context.Context, track *media.Track, url string) (int, time.Duration, uint64, bool, error) {
	headReq, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return 0, 0, 0, false, &source.SourceError{Kind: source.UnexpectedIssue, Err: err}
	}
	headResult, err := doRequest(ctx, c.client, headReq)
	if err != nil {
		return 0, 0, 0, false, source.NewSourceError(source.RequestError, err)
	}
	length, ok := firstFrameLength(headResult.header)
	if !ok {
		return 0, 0, 0, false, &source.SourceError{Kind: source.MalformedPayload, Err: fmt.Errorf("last-chance rendition: missing first-frame-length")}
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, 0, false, &source.SourceError{Kind: source.UnexpectedIssue, Err: err}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", length-1))

	var lastTime uint64
	var sawSample bool
	c.videoDemux.OnMedia = func(s media.Sample) {
		// Stretch the single recovered frame to cover the whole sequence
		// window: there is deliberately no more video coming for this
		// sequence (only first-frame-length bytes were requested).
		maxDur, _ := c.lastKnownMaxSequenceDuration()
		stretched := s
		stretched.Duration = maxDur
		c.Base.Ingest(stretched, time.Now())
		lastTime = stretched.EndTime()
		sawSample = true
	}

	result, err := doRequest(ctx, c.client, req)
	if err != nil {
		return 0, 0, 0, false, source.NewSourceError(source.RequestError, err)
	}
	if result.status < 200 || result.status >= 300 {
		return 0, 0, 0, false, &source.SourceError{Kind: source.ResourceUnavailable, Err: fmt.Errorf("last-chance rendition: status %d", result.status)}
	}
	if ferr := c.videoDemux.Feed(result.body); ferr != nil {
		return 0, 0, 0, false, &source.SourceError{Kind: source.MalformedPayload, Err: ferr}
	}
	return len(result.body), result.rtt, lastTime, sawSample, nil
}

func (c *Controller) shouldUpProbe(currentVideo *media.Track, havePrevVideoTime bool) bool {
	if currentVideo == nil || currentVideo.Up == nil || !havePrevVideoTime {
		return false
	}
	if exceedsResolution(currentVideo.Up.Resolution, c.maxResolution) {
		return false
	}
	return c.retry.Try(time.Now())
}

// issueUpProbe issues the Range-bounded GET ghost request for the rendition
// one step up, sized per UpProbeRangeLength. Only completion/cancellation
// is observed; the body is discarded.
func (c *Controller) issueUpProbe(ctx context.Context, upTrack *media.Track, prevSequence int64, recvByteRate uint64, videoTimeMs, prevVideoTimeMs uint64) bool {
	extraByteRate := float64(upTrack.Bandwidth) - float64(recvByteRate)
	length, ok := UpProbeRangeLength(extraByteRate, videoTimeMs, prevVideoTimeMs)
	if !ok || length <= 0 {
		return false
	}

	url, err := c.sequenceURL(upTrack.ID, prevSequence)
	if err != nil {
		return false
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", length-1))

	result, err := doRequest(ctx, c.client, req)
	if err != nil {
		return false
	}
	return result.status >= 200 && result.status < 300
}

func (c *Controller) sequenceURL(trackID uint32, sequenceID int64) (string, error) {
	c.mu.Lock()
	base, pattern := c.manifestURL, c.sequencePattern
	c.mu.Unlock()
	return SequenceURL(base, pattern, trackID, sequenceID, c.extension)
}

func (c *Controller) attachCMCD(req *http.Request, track *media.Track, kind media.Kind) {
	if c.cmcdMode == nil {
		return
	}
	ot := cmcd.ObjectOther
	switch kind {
	case media.Audio:
		ot = cmcd.ObjectAudio
	case media.Video:
		ot = cmcd.ObjectVideo
	}
	params := cmcd.Params{
		Mode:        *c.cmcdMode,
		BitrateKbps: track.Bandwidth * 8 / 1000,
		SessionID:   c.sessionID,
		Object:      ot,
	}
	for k, v := range cmcd.Header(params) {
		req.Header.Set(k, v)
	}
}
