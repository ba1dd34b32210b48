package allowlist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// DefaultLoadTimeout bounds a single fetch of a remote allowlist.
const DefaultLoadTimeout = 10 * time.Second

// Loader fetches the raw, newline-split entries of a remote allowlist. Any
// failure, including an unexpected response status, is returned as an error.
type Loader interface {
	Load(ctx context.Context, url string) ([]string, error)
}

// LoaderFunc adapts an ordinary function to the Loader interface.
type LoaderFunc func(ctx context.Context, url string) ([]string, error)

func (f LoaderFunc) Load(ctx context.Context, url string) ([]string, error) {
	return f(ctx, url)
}

// LoaderForURL returns a Loader able to fetch rawURL, chosen by scheme.
func LoaderForURL(rawURL string, timeout time.Duration) (Loader, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid allowlist url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewHTTPLoader(timeout), nil
	case "redis", "rediss":
		loader, err := NewRedisLoader(rawURL, timeout)
		if err != nil {
			return nil, err
		}
		return loader, nil
	default:
		return nil, fmt.Errorf("unsupported allowlist url scheme %q", u.Scheme)
	}
}

// ReadLines splits r into lines, dropping line terminators and blank lines.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
