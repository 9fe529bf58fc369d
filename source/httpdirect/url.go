package httpdirect

import (
	"net/url"

	"github.com/go-webdl/wrts/cmcd"
	"github.com/go-webdl/wrts/source"
)

// streamURL attaches spec §6's "Source query parameters" (audio/video
// selection, reliable, preload) to endpoint — on the initial request, and
// again on every reconnect triggered by SetReliable/SetTracks, since a
// plain HTTP GET has no other channel to carry a mid-stream change
// (DESIGN.md's resolution for this variant's lack of a control channel).
func streamURL(endpoint string, selected source.Selection, reliable bool, preloadMs int64, cmcdParams *cmcd.Params) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	for k, v := range source.QueryParams(selected, nil, reliable, preloadMs) {
		q[k] = v
	}
	if cmcdParams != nil {
		q.Set("cmcd", cmcd.Encode(*cmcdParams))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
