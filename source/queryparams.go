package source

import (
	"net/url"
	"strconv"

	"github.com/go-webdl/wrts/media"
)

// TrackParam renders one track selection entry as spec §6's "Source query
// parameters" describe it for the `audio`/`video` query params and (with
// the same grammar) the WebSocket variant's JSON track-change messages:
// "<id>" pins a track with no automatic switching, "<id>~" pins a track
// but still allows automatic switching, the literal "~" (empty id plus
// the trailing tilde) deselects the kind per §6's "empty+`~` means
// deselect" (see DESIGN.md's resolution of this clause against the
// general "trailing `~` means auto" wording). A kind absent from
// selected (automatic, no pin) renders as "", ok=false so the caller can
// omit the field/param entirely.
func TrackParam(selected Selection, kind media.Kind, autoSwitch bool) (value string, ok bool) {
	id, present := selected[kind]
	if !present {
		return "", false
	}
	if id == Disabled {
		return "~", true
	}
	v := strconv.FormatInt(id, 10)
	if autoSwitch {
		v += "~"
	}
	return v, true
}

// QueryParams builds spec §6's "Source query parameters" (`audio`,
// `video`, `reliable`, and `preload`) for a manifest/dial/stream URL.
// preloadMs <= 0 omits the preload parameter; which requests carry a
// positive preloadMs is up to the caller.
func QueryParams(selected Selection, autoSwitch map[media.Kind]bool, reliable bool, preloadMs int64) url.Values {
	q := url.Values{}
	if v, ok := TrackParam(selected, media.Audio, autoSwitch[media.Audio]); ok {
		q.Set("audio", v)
	}
	if v, ok := TrackParam(selected, media.Video, autoSwitch[media.Video]); ok {
		q.Set("video", v)
	}
	q.Set("reliable", strconv.FormatBool(reliable))
	if preloadMs > 0 {
		q.Set("preload", strconv.FormatInt(preloadMs, 10))
	}
	return q
}
