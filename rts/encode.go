package rts

import "github.com/go-webdl/wrts/media"

// Encoder builds RTS packets, mirroring Demux's "next timestamp" tracking
// so that, like a real server, it omits a media packet's absolute time
// once one has already been established for that track. It exists to
// drive the round-trip tests required by spec §8 and to let tests build
// WebSocket/HTTP fixtures without hand-assembling bytes.
type Encoder struct {
	WithSize bool

	nextTime map[uint32]uint64
}

// NewEncoder returns an Encoder matching the given Demux wire mode.
func NewEncoder(withSize bool) *Encoder {
	return &Encoder{WithSize: withSize, nextTime: map[uint32]uint64{}}
}

func (e *Encoder) frame(header []byte) []byte {
	if !e.WithSize {
		return header
	}
	out := make([]byte, 0, len(header)+1)
	out = append(out, byte(len(header)))
	out = append(out, header...)
	return out
}

// EncodeInitTracks encodes the Init Tracks control packet and clears the
// per-track next-timestamp state, as a real server transition would.
func (e *Encoder) EncodeInitTracks(change TrackChange) []byte {
	var h []byte
	h = writeULEB128(h, uint64(packetTypeInitTracks))
	h = writeULEB128(h, uint64(change.VideoTrackID+1))
	h = writeULEB128(h, uint64(change.AudioTrackID+1))
	e.nextTime = map[uint32]uint64{}
	return e.frame(h)
}

// EncodeMetadata encodes the control Metadata packet carrying payload
// (typically manifest JSON).
func (e *Encoder) EncodeMetadata(payload []byte) []byte {
	var h []byte
	h = writeULEB128(h, uint64(packetTypeMetadataOrData))
	if e.WithSize {
		h = writeULEB128(h, uint64(len(payload)))
	}
	h = append(h, payload...)
	return e.frame(h)
}

// EncodeData encodes a Data packet for trackID at time t.
func (e *Encoder) EncodeData(trackID uint32, t uint64, payload []byte) []byte {
	var h []byte
	h = writeULEB128(h, (uint64(trackID)+1)<<2|packetTypeMetadataOrData)
	h = writeULEB128(h, t)
	if e.WithSize {
		h = writeULEB128(h, uint64(len(payload)))
	}
	h = append(h, payload...)
	return e.frame(h)
}

// EncodeMedia encodes one audio or video media packet for s.TrackID,
// omitting the absolute time field when a prior packet already
// established nextTime for this track (§4.1).
func (e *Encoder) EncodeMedia(s media.Sample) []byte {
	typ := uint64(packetTypeAudio)
	if s.Kind == media.Video {
		typ = packetTypeVideo
	}

	var h []byte
	h = writeULEB128(h, (uint64(s.TrackID)+1)<<2|typ)

	if _, known := e.nextTime[s.TrackID]; !known {
		h = writeULEB128(h, s.Time)
	}

	duration := s.Duration
	if duration < 0 {
		duration = 0
	}
	var hasCO uint64
	if s.HasCompositionOffset {
		hasCO = 1
	}
	var isKey uint64
	if s.IsKeyFrame {
		isKey = 1
	}
	value := uint64(duration)<<2 | hasCO<<1 | isKey
	h = writeULEB128(h, value)

	if s.HasCompositionOffset {
		h = writeSLEB128(h, int64(s.CompositionOffset))
	}

	if e.WithSize {
		h = writeULEB128(h, uint64(len(s.Data)))
	}
	h = append(h, s.Data...)

	e.nextTime[s.TrackID] = s.Time + uint64(duration)

	return e.frame(h)
}
