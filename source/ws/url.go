package ws

import (
	"net/url"

	"github.com/go-webdl/wrts/cmcd"
	"github.com/go-webdl/wrts/source"
)

// dialURL implements spec §6's "initial URL encodes the same query
// params" for the WebSocket variant: audio/video selection, reliable,
// preload (first connection only — there is only ever one connection),
// and CMCD as a query parameter (headers aren't available to a browser
// WebSocket handshake, so the query-param CMCD encoding is the only one
// that applies here).
func dialURL(endpoint string, selected source.Selection, reliable bool, preloadMs int64, cmcdParams *cmcd.Params) (string, error) {
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
