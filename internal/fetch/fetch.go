// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fetch implements the outbound HTTP collaborator the transport
// core calls into as an injected interface: Fetcher.Get reports the raw
// upstream status and body, leaving the decision of what to send back to
// the stream session and datagram dispatcher.
package fetch

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"golang.org/x/time/rate"
)

// Fetcher is the outbound HTTP collaborator injected into the stream
// session and the datagram dispatcher. Get returns an error only for
// transport-level failures (DNS, connect, timeout, canceled context); any
// HTTP status, including non-2xx, is reported through status/body with a
// nil error.
type Fetcher interface {
	Get(ctx context.Context, url string) (status int, body []byte, err error)
}

// HTTPFetcher is the production Fetcher. It uses a dedicated
// *http.Client built with github.com/hashicorp/go-cleanhttp (so it does not
// inherit http.DefaultTransport's process-wide mutable state) and throttles
// outbound requests with golang.org/x/time/rate.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPFetcher returns an HTTPFetcher. ratePerSecond <= 0 disables
// throttling.
func NewHTTPFetcher(timeout time.Duration, ratePerSecond float64) *HTTPFetcher {
	client := cleanhttp.DefaultClient()
	if timeout > 0 {
		client.Timeout = timeout
	}
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return &HTTPFetcher{client: client, limiter: limiter}
}

// Get fetches url and returns the upstream status code and body verbatim.
func (f *HTTPFetcher) Get(ctx context.Context, url string) (int, []byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// RenderErrorPage builds the HTML document sent in place of the response
// body when status is not 200. It matches the shape of
// original_source/src/proxy_logic.rs's generate_content_to_send, so the
// "Error <status>" and URL substrings callers key assertions off of are
// present verbatim.
func RenderErrorPage(status int, url string) []byte {
	return []byte(fmt.Sprintf(`<html lang="en">
    <head>
        <meta charset="UTF-8">
        <meta http-equiv="X-UA-Compatible" content="IE=edge">
        <meta name="viewport" content="width=device-width, initial-scale=1.0">
        <title>Error %d</title>
    </head>
    <body>
        <div style="position: absolute;top: 50%%;left: 50%%;transform: translate(-50%%, -50%%);">Received %d error from %s url</div>
    </body>
</html>
`, status, status, html.EscapeString(url)))
}
