// Package rts implements the RTS wire demultiplexer (spec §4.1): a
// byte-oriented parser for the compact real-time container used by the
// WebSocket and HTTP-adaptive sources.
package rts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webdl/wrts/media"
)

const (
	packetTypeMetadataOrData = 0
	packetTypeAudio          = 1
	packetTypeVideo          = 2
	packetTypeInitTracks     = 3
)

// TrackChange reports the Init Tracks control packet (§4.1): the active
// video/audio track IDs, or -1 when a kind has no active track.
type TrackChange struct {
	VideoTrackID int64
	AudioTrackID int64
}

// Demux parses one RTS stream. With WithSize set, Feed expects a continuous
// byte stream where each packet is prefixed by an 8-bit total header
// length (§4.1 mode b); otherwise callers pass one complete message per
// Feed call (mode a, e.g. one WebSocket frame per packet).
//
// All callback fields are optional; a nil callback silently discards that
// event.
type Demux struct {
	WithSize bool

	OnTrackChange func(TrackChange)
	OnMetadata    func(*media.Metadata)
	OnData        func(trackID uint32, time uint64, payload json.RawMessage)
	OnMedia       func(media.Sample)

	buf      bytes.Buffer
	nextTime map[uint32]uint64
}

// NewDemux returns a Demux ready to parse a fresh RTS stream.
func NewDemux(withSize bool) *Demux {
	return &Demux{WithSize: withSize, nextTime: map[uint32]uint64{}}
}

// Feed pushes newly received bytes into the demuxer. In framed mode, data
// must equal exactly one RTS packet; in size-prefixed mode, data is
// appended to the internal buffer and every complete packet currently
// available is parsed and dispatched.
func (d *Demux) Feed(data []byte) error {
	if !d.WithSize {
		return d.decodeFramed(data)
	}
	d.buf.Write(data)
	return d.drainBuffered()
}

func (d *Demux) decodeFramed(data []byte) error {
	if len(data) == 0 {
		return newReaderError(InvalidPayload, errTruncatedFramed)
	}
	pkt, _, err := d.parsePacket(data, false)
	if err != nil {
		if err == errShortBuffer {
			return newReaderError(InvalidPayload, errTruncatedFramed)
		}
		return err
	}
	d.dispatch(pkt)
	return nil
}

func (d *Demux) drainBuffered() error {
	for {
		raw := d.buf.Bytes()
		if len(raw) < 1 {
			return nil
		}
		headerLen := int(raw[0])
		total := 1 + headerLen
		if len(raw) < total {
			return nil // §4.1: truncated size-prefixed packet is tolerated
		}
		pkt, consumed, err := d.parsePacket(raw[1:], true)
		if err != nil {
			if err == errShortBuffer {
				return nil
			}
			return err
		}
		d.dispatch(pkt)
		d.buf.Next(1 + consumed)
	}
}

// packet is the fully parsed, dispatch-ready representation of one RTS
// message.
type packet struct {
	trackID int64 // -1 for control packets
	typ     uint64

	// Init Tracks
	trackChange TrackChange

	// Metadata / Data
	time    uint64
	payload []byte

	// Media
	sample  media.Sample
	hasData bool
}

func (d *Demux) parsePacket(raw []byte, sized bool) (packet, int, error) {
	off := 0
	hdr, n, err := readULEB128(raw, off)
	if err != nil {
		return packet{}, 0, err
	}
	off += n

	typ := hdr & 3
	trackID := int64(hdr>>2) - 1

	pkt := packet{trackID: trackID, typ: typ}

	if trackID == -1 {
		switch typ {
		case packetTypeInitTracks:
			videoPlus1, n, err := readULEB128(raw, off)
			if err != nil {
				return packet{}, 0, err
			}
			off += n
			audioPlus1, n, err := readULEB128(raw, off)
			if err != nil {
				return packet{}, 0, err
			}
			off += n
			pkt.trackChange = TrackChange{
				VideoTrackID: int64(videoPlus1) - 1,
				AudioTrackID: int64(audioPlus1) - 1,
			}
			d.nextTime = map[uint32]uint64{}
			return pkt, off, nil

		case packetTypeMetadataOrData:
			payload, consumed, err := d.readPayload(raw, off, sized)
			if err != nil {
				return packet{}, 0, err
			}
			pkt.payload = payload
			return pkt, consumed, nil

		default:
			return packet{}, 0, newReaderError(InvalidPayload, errMalformedControlType)
		}
	}

	trackID32 := uint32(trackID)

	switch typ {
	case packetTypeMetadataOrData:
		t, n, err := readULEB128(raw, off)
		if err != nil {
			return packet{}, 0, err
		}
		off += n
		pkt.time = t
		payload, consumed, err := d.readPayload(raw, off, sized)
		if err != nil {
			return packet{}, 0, err
		}
		pkt.payload = payload
		return pkt, consumed, nil

	case packetTypeAudio, packetTypeVideo:
		kind := media.Audio
		if typ == packetTypeVideo {
			kind = media.Video
		}

		var sampleTime uint64
		if stored, ok := d.nextTime[trackID32]; ok {
			sampleTime = stored
		} else {
			t, n, err := readULEB128(raw, off)
			if err != nil {
				return packet{}, 0, err
			}
			off += n
			sampleTime = t
		}

		value, n, err := readULEB128(raw, off)
		if err != nil {
			return packet{}, 0, err
		}
		off += n

		duration := int64(value >> 2)
		hasCompositionOffset := value&2 != 0
		isKeyFrame := value&1 != 0

		var compositionOffset int32
		if hasCompositionOffset {
			co, n, err := readSLEB128(raw, off)
			if err != nil {
				return packet{}, 0, err
			}
			off += n
			compositionOffset = int32(co)
		}

		var size uint64
		if sized {
			s, n, err := readULEB128(raw, off)
			if err != nil {
				return packet{}, 0, err
			}
			off += n
			size = s
		} else {
			size = uint64(len(raw) - off)
		}

		if uint64(len(raw)-off) < size {
			return packet{}, 0, errShortBuffer
		}

		payload := raw[off : off+int(size)]
		off += int(size)

		d.nextTime[trackID32] = sampleTime + uint64(duration)

		pkt.hasData = true
		pkt.sample = media.Sample{
			TrackID:              trackID32,
			Kind:                 kind,
			Time:                 sampleTime,
			Duration:             duration,
			Data:                 append([]byte(nil), payload...),
			CompositionOffset:    compositionOffset,
			HasCompositionOffset: hasCompositionOffset,
			IsKeyFrame:           isKeyFrame,
		}
		return pkt, off, nil

	default:
		return packet{}, 0, newReaderError(InvalidPayload, fmt.Errorf("%w: type %d at track %d", errUnknownPacketType, typ, trackID32))
	}
}

// readPayload reads a JSON payload. In size-prefixed mode every payload
// carries its own ULEB128 length, the same as a media packet's `size`
// field; spec §4.1 only states this explicitly for Media packets, but a
// continuous byte stream cannot otherwise delimit a Metadata/Data packet's
// payload, so this demuxer applies the same encoding uniformly (see
// DESIGN.md's Open Question resolution).
func (d *Demux) readPayload(raw []byte, off int, sized bool) ([]byte, int, error) {
	if sized {
		size, n, err := readULEB128(raw, off)
		if err != nil {
			return nil, 0, err
		}
		off += n
		if uint64(len(raw)-off) < size {
			return nil, 0, errShortBuffer
		}
		return append([]byte(nil), raw[off:off+int(size)]...), off + int(size), nil
	}
	return append([]byte(nil), raw[off:]...), len(raw), nil
}

func (d *Demux) dispatch(pkt packet) {
	if pkt.trackID == -1 {
		switch pkt.typ {
		case packetTypeInitTracks:
			if d.OnTrackChange != nil {
				d.OnTrackChange(pkt.trackChange)
			}
		case packetTypeMetadataOrData:
			if d.OnMetadata != nil {
				md, _, err := media.ParseManifest(pkt.payload, time.Now())
				if err == nil {
					d.OnMetadata(md)
				}
			}
		}
		return
	}

	switch pkt.typ {
	case packetTypeMetadataOrData:
		if d.OnData != nil {
			d.OnData(uint32(pkt.trackID), pkt.time, json.RawMessage(pkt.payload))
		}
	case packetTypeAudio, packetTypeVideo:
		if pkt.hasData && d.OnMedia != nil {
			d.OnMedia(pkt.sample)
		}
	}
}
