// Package cmcd encodes Common Media Client Data (spec §6) for attachment to
// sequence/manifest requests, either as a single query parameter or as CMCD
// HTTP headers. Nothing in the example pack implements CMCD; this encoder
// follows §6's field table directly (see SPEC_FULL.md's Supplemented
// Features section).
package cmcd

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// ObjectType is CMCD's `ot` field (§6).
type ObjectType string

const (
	ObjectAudio ObjectType = "a"
	ObjectVideo ObjectType = "v"
	ObjectOther ObjectType = "o"
)

// Mode selects which fields Encode emits.
type Mode int

const (
	// Short carries br, bl, bs, mtp, pr, sf, sid, su.
	Short Mode = iota
	// Full adds cid, dl, ot, st, v on top of Short's fields.
	Full
)

// Params is the input to one CMCD encoding, named after §6's field table.
type Params struct {
	Mode Mode

	BitrateKbps      uint64  // br
	BufferLengthMs   uint64  // bl
	BufferStarvation bool    // bs
	MeasuredThroughputKbps uint64 // mtp
	PlaybackRate     float64 // pr
	SessionID        string  // sid
	BufferEmpty      bool    // su

	ContentID  string     // cid, full mode only
	DeadlineMs uint64     // dl, full mode only
	Object     ObjectType // ot, full mode only
}

// sf is always "o" (object request) per §6: the client issues one request
// per object (sequence/manifest), never a manifest-driven multi-object
// fetch.
const streamingFormat = "o"

// Encode builds the CMCD key=value list, sorted by key (CMCD recommends,
// and testing requires, a deterministic order).
func Encode(p Params) string {
	fields := map[string]string{}

	if p.BitrateKbps > 0 {
		fields["br"] = strconv.FormatUint(p.BitrateKbps, 10)
	}
	fields["bl"] = strconv.FormatUint(p.BufferLengthMs, 10)
	if p.BufferStarvation {
		fields["bs"] = ""
	}
	if p.MeasuredThroughputKbps > 0 {
		fields["mtp"] = strconv.FormatUint(p.MeasuredThroughputKbps, 10)
	}
	if p.PlaybackRate != 0 && p.PlaybackRate != 1 {
		fields["pr"] = strconv.FormatFloat(p.PlaybackRate, 'g', -1, 64)
	}
	fields["sf"] = streamingFormat
	if p.SessionID != "" {
		fields["sid"] = quote(p.SessionID)
	}
	if p.BufferEmpty {
		fields["su"] = ""
	}

	if p.Mode == Full {
		if p.ContentID != "" {
			fields["cid"] = quote(p.ContentID)
		}
		if p.DeadlineMs > 0 {
			fields["dl"] = strconv.FormatUint(p.DeadlineMs, 10)
		}
		if p.Object != "" {
			fields["ot"] = string(p.Object)
		}
		fields["st"] = "l" // low-latency stream type, per §6 (live client)
		fields["v"] = "1"
	}

	return joinSorted(fields)
}

func quote(s string) string { return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"` }

func joinSorted(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if fields[k] == "" && (k == "bs" || k == "su") {
			parts = append(parts, k)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}
	return strings.Join(parts, ",")
}

// QueryParam returns the `cmcd=<encoded>` query parameter form (§6).
func QueryParam(p Params) string {
	return "cmcd=" + url.QueryEscape(Encode(p))
}

// Header returns the CMCD HTTP header map form (§6): a single
// "CMCD-Request" header carrying the same encoded field list.
func Header(p Params) map[string]string {
	return map[string]string{"CMCD-Request": Encode(p)}
}
