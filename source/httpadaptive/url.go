// Package httpadaptive implements HttpAdaptiveSource (spec §4.5): the
// pull-based adaptive fetch/skip controller, the most involved subsystem
// in the spec. It builds on source.Base for track selection and
// timestamp repair, and on source.AdaptiveRetry for the rendition-up
// gate.
package httpadaptive

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/go-webdl/wrts/source"
)

// ManifestURL implements spec §4.5 startup step 1: ensure the endpoint
// ends with ".json", otherwise replace the trailing path component's
// extension with "/index.json".
func ManifestURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(u.Path, ".json") {
		return u.String(), nil
	}

	dir, file := path.Split(u.Path)
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)
	if base == "" {
		u.Path = path.Join(dir, "index.json")
	} else {
		u.Path = path.Join(dir, base, "index.json")
	}
	return u.String(), nil
}

// SequenceURL substitutes {trackId}, {sequenceId} and {ext} in pattern and
// resolves the result against base (spec §6 "Sequence URL").
func SequenceURL(base, pattern string, trackID uint32, sequenceID int64, ext string) (string, error) {
	rendered := strings.NewReplacer(
		"{trackId}", strconv.FormatUint(uint64(trackID), 10),
		"{sequenceId}", strconv.FormatInt(sequenceID, 10),
		"{ext}", ext,
	).Replace(pattern)

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	rel, err := url.Parse(rendered)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(rel).String(), nil
}

// withSourceQueryParams attaches spec §6's "Source query parameters"
// (audio/video selection, reliable, preload) to manifestURL for the
// initial manifest request only.
func withSourceQueryParams(manifestURL string, selected source.Selection, reliable bool, preloadMs int64) (string, error) {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range source.QueryParams(selected, nil, reliable, preloadMs) {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
