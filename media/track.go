package media

// Resolution is a video track's frame size, in pixels.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Track describes one selectable rendition (§3). Up/Down link same-Kind
// tracks by ascending bandwidth: Up.Bandwidth >= Bandwidth >= Down.Bandwidth.
//
// Direct pointers are used rather than index lookups into a side table —
// Go's garbage collector already resolves the cyclic-ownership concern that
// motivates index-based linking in non-GC languages (§9 Design Notes), and
// Metadata.Fix fully rebuilds the chain on every normalization so a stale
// pointer never outlives its Metadata snapshot.
type Track struct {
	ID                uint32
	Kind              Kind
	Codec             string
	CodecString       string
	Bandwidth         uint64 // bytes/s
	SampleRate        uint32
	Resolution        Resolution
	Channels          uint16
	Config            []byte
	ContentProtection string

	Up   *Track
	Down *Track
}

// validateChain reports whether t's Up/Down links satisfy the bandwidth and
// symmetry invariants from §8. Used by tests, not by production code paths.
func (t *Track) validateChain() bool {
	if t.Up != nil {
		if !(t.Up.Bandwidth >= t.Bandwidth) || t.Up.Down != t {
			return false
		}
	}
	if t.Down != nil {
		if !(t.Bandwidth >= t.Down.Bandwidth) || t.Down.Up != t {
			return false
		}
	}
	return true
}
