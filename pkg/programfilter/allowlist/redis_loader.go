package allowlist

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the set read when a redis:// url names no key.
const DefaultRedisKey = "program_allowlist"

// RedisLoader reads the allowlist from the members of a Redis set. The url
// has the usual redis://[user:pass@]host:port/db form plus an optional key
// query parameter naming the set.
type RedisLoader struct {
	client *redis.Client
	key    string
}

func NewRedisLoader(rawURL string, timeout time.Duration) (*RedisLoader, error) {
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis allowlist url: %w", err)
	}

	// go-redis rejects query options it does not know about.
	q := u.Query()
	key := q.Get("key")
	if key == "" {
		key = DefaultRedisKey
	}
	q.Del("key")
	u.RawQuery = q.Encode()

	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("invalid redis allowlist url: %w", err)
	}
	opts.DialTimeout = timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout

	return &RedisLoader{
		client: redis.NewClient(opts),
		key:    key,
	}, nil
}

// Key returns the name of the Redis set the loader reads.
func (l *RedisLoader) Key() string {
	return l.key
}

// Load ignores its url argument; the connection was fixed at construction.
func (l *RedisLoader) Load(ctx context.Context, _ string) ([]string, error) {
	members, err := l.client.SMembers(ctx, l.key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading redis set %s: %w", l.key, err)
	}
	return members, nil
}

func (l *RedisLoader) Close() error {
	return l.client.Close()
}
