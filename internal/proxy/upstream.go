package proxy

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/corgi-proxy/corgi/internal/tracing"
)

// UpstreamClient forwards proxied calls to upstream federated-microblog
// instances. It uses a shared http.Client with connection pooling; corgi
// is a transparent man-in-the-middle for the client's own upstream
// account, so it holds no separate per-instance credential of its own —
// the client's bearer token is forwarded unchanged.
type UpstreamClient struct {
	client *http.Client
}

// NewUpstreamClient creates a new UpstreamClient with sensible defaults
// for connection pooling and timeouts.
func NewUpstreamClient() *UpstreamClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &UpstreamClient{
		client: &http.Client{
			Transport: transport,
		},
	}
}

// Forward sends one proxied call to the upstream instance at host and
// returns the raw http.Response. The caller is responsible for closing
// the response body. authHeader, if non-empty, is forwarded verbatim as
// the Authorization header; timeout bounds the call (zero means the
// client's own default).
func (u *UpstreamClient) Forward(ctx context.Context, instance, host, method, path string, query url.Values, authHeader string, body []byte, timeout time.Duration) (*http.Response, error) {
	upstreamURL := buildUpstreamURL(host, path, query)

	var bodyReader *bytes.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, upstreamURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}

	if authHeader != "" {
		httpReq.Header.Set("Authorization", authHeader)
	}
	if len(body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	tracing.InjectHeaders(ctx, httpReq)

	ctx, span := tracing.StartUpstreamSpan(ctx, upstreamURL, instance)
	defer span.End()

	client := u.client
	if timeout > 0 {
		client = &http.Client{Transport: u.client.Transport, Timeout: timeout}
	}

	resp, err := client.Do(httpReq.WithContext(ctx))
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("forwarding to upstream %s: %w", upstreamURL, err)
	}

	return resp, nil
}

// buildUpstreamURL joins the configured instance host with the original
// request path and query string, forwarded verbatim.
func buildUpstreamURL(host, path string, query url.Values) string {
	u := strings.TrimSuffix(host, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
