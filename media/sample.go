// Package media holds the wire-independent data model shared by the RTS
// demuxer, the CMAF muxer, and the playback pipeline: samples, tracks, and
// stream metadata.
package media

// Kind identifies the media type a Track or Sample belongs to.
type Kind int

const (
	Audio Kind = iota
	Video
	Data
)

func (k Kind) String() string {
	switch k {
	case Audio:
		return "audio"
	case Video:
		return "video"
	case Data:
		return "data"
	default:
		return "unknown"
	}
}

// SubSample describes one clear/encrypted byte-range pair for CENC
// subsample encryption, carried verbatim into the CMAF `senc` box.
type SubSample struct {
	ClearBytes     uint16
	EncryptedBytes uint32
}

// Sample is one demuxed access unit for a single track.
//
// Duration is signed on ingress: a negative value means "extendable up to
// abs(duration)" (§3) and must be normalized by source.Base's timestamp
// repair (fixTimestamp) before
// it reaches the muxer.
type Sample struct {
	TrackID            uint32
	Kind               Kind
	Time               uint64
	Duration           int64
	Data               []byte
	CompositionOffset  int32
	HasCompositionOffset bool
	IsKeyFrame         bool
	SubSamples         []SubSample

	// Extendable records whether Duration arrived negative (§3, §4.4); the
	// Source clears the sign and sets this flag so downstream stretch
	// logic (live-edge hole closing) knows the duration may grow.
	Extendable bool
}

// EndTime returns Time + max(Duration, 0), the monotonic point used by the
// timestamp-repair invariant in §8.
func (s Sample) EndTime() uint64 {
	if s.Duration <= 0 {
		return s.Time
	}
	return s.Time + uint64(s.Duration)
}
