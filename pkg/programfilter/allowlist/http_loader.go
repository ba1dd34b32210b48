package allowlist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// StatusError is returned when the allowlist source answers with anything
// other than 200 OK.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("allowlist %s returned status %d", e.URL, e.Code)
}

func (e *StatusError) StatusCode() int {
	return e.Code
}

// HTTPLoader fetches a plain-text allowlist, one base-58 program id per line.
type HTTPLoader struct {
	client *http.Client
}

func NewHTTPLoader(timeout time.Duration) *HTTPLoader {
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}

	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout
	return &HTTPLoader{client: client}
}

func (l *HTTPLoader) Load(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	return ReadLines(resp.Body)
}
