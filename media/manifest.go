package media

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-webdl/encodetype"
	"github.com/google/uuid"
)

// Sequence is the manifest's `sequence` object (§6): the URL template for
// per-track, per-sequence fragment requests and the server's current
// sequence id.
type Sequence struct {
	Pattern   string
	CurrentID int
}

type manifestTrackJSON struct {
	ID               int64                  `json:"id"`
	Type             string                 `json:"type"`
	Codec            string                 `json:"codec"`
	CodecDescription string                 `json:"codecDescription"`
	Bandwidth        uint64                 `json:"bandwidth"`
	SampleRate       json.Number            `json:"sampleRate"`
	FrameRate        json.Number            `json:"frameRate"`
	Channels         uint16                 `json:"channels"`
	Resolution       *resolutionJSON        `json:"resolution"`
	Config           encodetype.Base64Bytes `json:"config"`
	ContentProtection string                `json:"contentProtection"`
}

type resolutionJSON struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

type manifestProtectionJSON struct {
	Scheme string            `json:"scheme"`
	KID    string            `json:"kid"`
	IV     string            `json:"iv"`
	Pssh   map[string]string `json:"pssh"`
}

type manifestSequenceJSON struct {
	Pattern   string `json:"pattern"`
	CurrentID int    `json:"currentId"`
}

type manifestJSON struct {
	LiveTime          json.Number              `json:"liveTime"`
	CurrentTime       json.Number              `json:"currentTime"`
	Tracks            []manifestTrackJSON      `json:"tracks"`
	Sequence          *manifestSequenceJSON    `json:"sequence"`
	ContentProtection []manifestProtectionJSON `json:"contentProtection"`
}

// ParseManifest decodes the manifest JSON described in spec §6 into a
// normalized, Fix-ed Metadata plus the sequence template HttpAdaptiveSource
// needs. now is the wall-clock instant the manifest finished downloading,
// used to anchor LiveTime.
func ParseManifest(data []byte, now time.Time) (*Metadata, *Sequence, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()

	var raw manifestJSON
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("media: decode manifest: %w", err)
	}

	liveMs, err := parseTimeField(firstNonEmpty(raw.LiveTime, raw.CurrentTime))
	if err != nil {
		return nil, nil, fmt.Errorf("media: parse manifest time: %w", err)
	}

	m := NewMetadata()
	m.LiveTime.Set(liveMs, now)

	for _, tj := range raw.Tracks {
		t, err := trackFromJSON(tj)
		if err != nil {
			return nil, nil, err
		}
		m.AddTrack(t)
	}
	m.Fix()

	for _, pj := range raw.ContentProtection {
		kid, err := parseHex16(pj.KID)
		if err != nil {
			return nil, nil, fmt.Errorf("media: parse contentProtection kid: %w", err)
		}
		if err := validateSystemIDs(pj.Pssh); err != nil {
			return nil, nil, fmt.Errorf("media: parse contentProtection pssh: %w", err)
		}
		m.ContentProtection[kid] = ProtectionEntry{
			Scheme: Scheme(pj.Scheme),
			KID:    kid,
			IV:     pj.IV,
			Pssh:   pj.Pssh,
		}
	}

	var seq *Sequence
	if raw.Sequence != nil {
		seq = &Sequence{Pattern: raw.Sequence.Pattern, CurrentID: raw.Sequence.CurrentID}
	}

	return m, seq, nil
}

func trackFromJSON(tj manifestTrackJSON) (*Track, error) {
	kind, err := kindFromString(tj.Type)
	if err != nil {
		return nil, err
	}

	codec := tj.Codec
	if codec == "" {
		codec = tj.CodecDescription
	}

	t := &Track{
		ID:                uint32(tj.ID),
		Kind:              kind,
		Codec:             codec,
		CodecString:       tj.CodecDescription,
		Bandwidth:         tj.Bandwidth,
		Channels:          tj.Channels,
		Config:            tj.Config,
		ContentProtection: tj.ContentProtection,
	}

	if tj.Resolution != nil {
		t.Resolution = Resolution{Width: tj.Resolution.Width, Height: tj.Resolution.Height}
	}

	if rate := firstNonEmpty(tj.SampleRate, tj.FrameRate); rate != "" {
		f, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return nil, fmt.Errorf("media: parse track rate: %w", err)
		}
		t.SampleRate = uint32(f)
	}

	return t, nil
}

func kindFromString(s string) (Kind, error) {
	switch s {
	case "audio":
		return Audio, nil
	case "video":
		return Video, nil
	case "data":
		return Data, nil
	default:
		return 0, fmt.Errorf("media: unknown track type %q", s)
	}
}

// parseTimeField infers ms-vs-seconds from the presence of a decimal point
// in the literal (§6): "3.5" is seconds, "3500" is milliseconds.
func parseTimeField(literal string) (int64, error) {
	if literal == "" {
		return 0, fmt.Errorf("media: manifest missing liveTime/currentTime")
	}
	f, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return 0, err
	}
	if strings.Contains(literal, ".") {
		f *= 1000
	}
	return int64(f), nil
}

func firstNonEmpty(a, b json.Number) string {
	if a != "" {
		return string(a)
	}
	return string(b)
}

// validateSystemIDs checks that every Pssh key is a well-formed DRM system
// ID (a UUID, per the CENC PSSH box definition) before cmaf.Mux sorts and
// emits them — a malformed key would otherwise surface only as a silently
// skipped PSSH box at fragment-init time.
func validateSystemIDs(pssh map[string]string) error {
	for systemID := range pssh {
		if _, err := uuid.Parse(systemID); err != nil {
			return fmt.Errorf("invalid system id %q: %w", systemID, err)
		}
	}
	return nil
}

func parseHex16(s string) ([16]byte, error) {
	var out [16]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 16 {
		return out, fmt.Errorf("media: expected 16 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
