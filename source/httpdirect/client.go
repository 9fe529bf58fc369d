package httpdirect

import (
	"context"
	"net/http"
	"time"
)

// HTTPClient is the narrow surface Controller needs from an HTTP client —
// the same shape as httpadaptive.HTTPClient, kept as its own interface here
// so this package has no dependency on httpadaptive.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func defaultHTTPClient() HTTPClient {
	return &http.Client{Timeout: 0} // spec §2's "single long response": no per-request deadline, the shared timeout slot governs staleness
}

// openStream issues a GET for the long-lived response and returns it
// unread — unlike httpadaptive's doRequest, the body is never buffered in
// full; it is read incrementally by Controller's read loop.
func openStream(ctx context.Context, client HTTPClient, req *http.Request) (*http.Response, time.Duration, error) {
	req = req.WithContext(ctx)
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	return resp, time.Since(start), nil
}
