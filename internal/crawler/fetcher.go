package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPFetcher is the production Fetcher, using a pooled http.Client the
// same way proxy.UpstreamClient tunes its transport for repeated calls
// to the same small set of hosts.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher() *HTTPFetcher {
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
	return &HTTPFetcher{client: &http.Client{Transport: transport, Timeout: 20 * time.Second}}
}

type statusDTO struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	CreatedAt   string `json:"created_at"`
	Favourites  int64  `json:"favourites_count"`
	Reblogs     int64  `json:"reblogs_count"`
	Replies     int64  `json:"replies_count"`
	Account     struct {
		Acct string `json:"acct"`
	} `json:"account"`
	MediaAttachments json.RawMessage `json:"media_attachments"`
}

func (d statusDTO) toRemote() RemotePost {
	media := ""
	if len(d.MediaAttachments) > 0 {
		media = string(d.MediaAttachments)
	}
	return RemotePost{
		PostID: d.ID, AuthorHandle: d.Account.Acct, Content: d.Content,
		CreatedAt: d.CreatedAt, Favorites: d.Favourites, Reblogs: d.Reblogs,
		Replies: d.Replies, MediaJSON: media,
	}
}

func (f *HTTPFetcher) get(ctx context.Context, inst Instance, path string, query url.Values, out interface{}) error {
	u := "https://" + inst.Host + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("crawler: build request for %s: %w", inst.Name, err)
	}
	if inst.Token != "" {
		req.Header.Set("Authorization", "Bearer "+inst.Token)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("crawler: fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{instance: inst.Name, status: resp.StatusCode, retryAfter: resp.Header.Get("Retry-After")}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("crawler: decode response from %s: %w", inst.Name, err)
	}
	return nil
}

// httpStatusError carries the upstream status and any Retry-After hint so
// the crawl loop can classify retryable vs permanent failures.
type httpStatusError struct {
	instance   string
	status     int
	retryAfter string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("crawler: %s returned status %d", e.instance, e.status)
}

func (e *httpStatusError) retryable() bool {
	switch e.status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func (e *httpStatusError) retryAfterDuration() time.Duration {
	if e.retryAfter == "" {
		return 0
	}
	if secs, err := strconv.Atoi(e.retryAfter); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func (f *HTTPFetcher) PublicTimeline(ctx context.Context, inst Instance, sinceID string) ([]RemotePost, string, error) {
	var dtos []statusDTO
	q := url.Values{"local": {"false"}}
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	if err := f.get(ctx, inst, "/api/v1/timelines/public", q, &dtos); err != nil {
		return nil, sinceID, err
	}
	posts := make([]RemotePost, 0, len(dtos))
	watermark := sinceID
	for _, d := range dtos {
		posts = append(posts, d.toRemote())
		if d.ID > watermark {
			watermark = d.ID
		}
	}
	return posts, watermark, nil
}

func (f *HTTPFetcher) HashtagTimeline(ctx context.Context, inst Instance, hashtag string) ([]RemotePost, error) {
	var dtos []statusDTO
	if err := f.get(ctx, inst, "/api/v1/timelines/tag/"+url.PathEscape(hashtag), nil, &dtos); err != nil {
		return nil, err
	}
	posts := make([]RemotePost, 0, len(dtos))
	for _, d := range dtos {
		posts = append(posts, d.toRemote())
	}
	return posts, nil
}

func (f *HTTPFetcher) AuthorPosts(ctx context.Context, inst Instance, author string) ([]RemotePost, error) {
	var dtos []statusDTO
	if err := f.get(ctx, inst, "/api/v1/accounts/"+url.PathEscape(author)+"/statuses", nil, &dtos); err != nil {
		return nil, err
	}
	posts := make([]RemotePost, 0, len(dtos))
	for _, d := range dtos {
		posts = append(posts, d.toRemote())
	}
	return posts, nil
}

func (f *HTTPFetcher) AuthorBio(ctx context.Context, inst Instance, author string) (string, error) {
	var account struct {
		Note string `json:"note"`
		Fields []struct {
			Value string `json:"value"`
		} `json:"fields"`
	}
	if err := f.get(ctx, inst, "/api/v1/accounts/"+url.PathEscape(author), nil, &account); err != nil {
		return "", err
	}
	bio := account.Note
	for _, field := range account.Fields {
		bio += " " + field.Value
	}
	return bio, nil
}

// IsRetryableError reports whether a fetch failure is worth retrying.
// Non-HTTP errors (network-level) are assumed transient; HTTP statuses
// are classified the same way proxy.isRetryableStatus does.
func IsRetryableError(err error) bool {
	var hse *httpStatusError
	if errors.As(err, &hse) {
		return hse.retryable()
	}
	return true
}

// RetryAfter returns the upstream-suggested retry delay, if any.
func RetryAfter(err error) time.Duration {
	var hse *httpStatusError
	if errors.As(err, &hse) {
		return hse.retryAfterDuration()
	}
	return 0
}

var _ Fetcher = (*HTTPFetcher)(nil)
