package rts

import "errors"

// ReaderError is the fatal-to-the-demuxer error family from spec §7. A
// ReaderError always closes the owning Source.
type ReaderError struct {
	Kind ReaderErrorKind
	Err  error
}

type ReaderErrorKind int

const (
	InvalidPayload ReaderErrorKind = iota
	UnknownFormat
	UnsupportedFormat
	UnfoundTrack
)

func (e *ReaderError) Error() string {
	return e.Err.Error()
}

func (e *ReaderError) Unwrap() error {
	return e.Err
}

func newReaderError(kind ReaderErrorKind, err error) *ReaderError {
	return &ReaderError{Kind: kind, Err: err}
}

// errShortBuffer signals "need more bytes" in size-prefixed streaming mode;
// it is never surfaced to callers, only used internally to tell Feed to
// wait for the next chunk (§4.1: "a truncated size-prefixed packet is
// tolerated").
var errShortBuffer = errors.New("rts: short buffer")

var (
	errMalformedControlType = errors.New("rts: malformed packet type at control track")
	errTruncatedFramed      = errors.New("rts: truncated framed packet")
	errUnknownPacketType    = errors.New("rts: unknown packet type")
)
