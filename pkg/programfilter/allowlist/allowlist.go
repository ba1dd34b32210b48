// Package allowlist holds the dynamic set of programs whose events are
// forwarded. The set can be seeded from configuration and kept fresh from a
// remote source; readers never block on the network.
package allowlist

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/blockdaemon/programfilter/pkg/programfilter/metrics"
	"github.com/blockdaemon/programfilter/pkg/programfilter/pubkey"
)

// MinUpdateInterval is the floor applied to the refresh interval of a
// remotely sourced allowlist.
const MinUpdateInterval = time.Second

// Config selects how an Allowlist is built. See New.
type Config struct {
	Programs       []string
	URL            string
	UpdateInterval time.Duration

	// Loader fetches URL. When nil one is picked from the url scheme.
	Loader      Loader
	LoadTimeout time.Duration

	Log           *logrus.Logger
	MetricsClient metrics.MetricsClientInterface
}

// Allowlist is a shared, lock-protected set of program ids. A *Allowlist is
// a handle: every holder of the pointer observes the same refreshes.
//
// The set and the last-update time are guarded by separate locks. A refresh
// swaps in a complete new set, so readers see either the old or the new set
// and never a mix.
type Allowlist struct {
	listMu sync.RWMutex
	list   pubkey.Set

	updatedMu   sync.Mutex
	lastUpdated time.Time

	url            string
	updateInterval time.Duration
	loader         Loader

	log     *logrus.Logger
	metrics metrics.MetricsClientInterface
}

// New builds an Allowlist from cfg. The first matching mode wins:
//
//  1. URL set: the list is fetched once, synchronously, and any Programs are
//     added on top. The update interval is raised to MinUpdateInterval if
//     needed. A failure of this first fetch is returned as an error, and
//     that includes any HTTP status other than 200: a 404 or 503 from the
//     url at startup fails construction rather than yielding an empty list.
//     Only later refreshes treat a failed fetch as an empty list.
//  2. Programs set: the list is exactly the decodable Programs and is never
//     refreshed.
//  3. Neither: the list is empty and never refreshed.
func New(ctx context.Context, cfg Config) (*Allowlist, error) {
	switch {
	case cfg.URL != "":
		a, err := newFromURL(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if len(cfg.Programs) > 0 {
			a.merge(pubkey.DecodeAll(cfg.Programs))
		}
		return a, nil
	case len(cfg.Programs) > 0:
		a := newAllowlist(cfg)
		a.list = pubkey.DecodeAll(cfg.Programs)
		return a, nil
	default:
		return newAllowlist(cfg), nil
	}
}

// NewFromList returns a static Allowlist holding the decodable entries of
// programs. Malformed entries are skipped.
func NewFromList(programs []string) *Allowlist {
	a := newAllowlist(Config{})
	a.list = pubkey.DecodeAll(programs)
	return a
}

// NewFromURL returns an Allowlist populated by one synchronous fetch of url
// through loader. As with New, a failed fetch, non-200 status included, is
// an error.
func NewFromURL(ctx context.Context, url string, interval time.Duration, loader Loader) (*Allowlist, error) {
	return newFromURL(ctx, Config{URL: url, UpdateInterval: interval, Loader: loader})
}

func newAllowlist(cfg Config) *Allowlist {
	a := &Allowlist{
		list:        pubkey.Set{},
		lastUpdated: time.Now(),
		log:         cfg.Log,
		metrics:     cfg.MetricsClient,
	}
	if a.log == nil {
		a.log = logrus.StandardLogger()
	}
	if a.metrics == nil {
		a.metrics = metrics.NewNoOpMetricsClient()
	}
	return a
}

func newFromURL(ctx context.Context, cfg Config) (*Allowlist, error) {
	loader := cfg.Loader
	if loader == nil {
		var err error
		loader, err = LoaderForURL(cfg.URL, cfg.LoadTimeout)
		if err != nil {
			return nil, err
		}
	}

	a := newAllowlist(cfg)
	a.url = cfg.URL
	a.loader = loader
	a.updateInterval = cfg.UpdateInterval
	if a.updateInterval < MinUpdateInterval {
		a.updateInterval = MinUpdateInterval
	}

	list, err := a.fetch(ctx, a.logEntry())
	if err != nil {
		return nil, err
	}
	a.list = list
	a.touch()

	return a, nil
}

// Len returns the number of programs currently allowed.
func (a *Allowlist) Len() int {
	a.listMu.RLock()
	defer a.listMu.RUnlock()
	return len(a.list)
}

// WantsProgram reports whether events for program should be forwarded.
// Input that is not a 32-byte id is always wanted, and an empty list wants
// everything.
func (a *Allowlist) WantsProgram(program []byte) bool {
	key, ok := pubkey.FromBytes(program)
	if !ok {
		return true
	}

	a.listMu.RLock()
	defer a.listMu.RUnlock()
	return len(a.list) == 0 || a.list.Contains(key)
}

// Programs returns the base-58 form of every allowed program, sorted.
func (a *Allowlist) Programs() []string {
	a.listMu.RLock()
	defer a.listMu.RUnlock()
	return a.list.Strings()
}

func (a *Allowlist) URL() string {
	return a.url
}

func (a *Allowlist) UpdateInterval() time.Duration {
	return a.updateInterval
}

// LastUpdated returns the time of the most recent refresh, successful or
// not. For a list without a remote source it is the construction time.
func (a *Allowlist) LastUpdated() time.Time {
	a.updatedMu.Lock()
	defer a.updatedMu.Unlock()
	return a.lastUpdated
}

// RefreshSync fetches the remote list and replaces the whole set with the
// result. It is a no-op without a url.
//
// A failed fetch is logged and counted, then treated as an empty list: the
// set is cleared and the update time still advances. The only error
// returned is ctx's, when ctx ends before the fetch completes; the list is
// left untouched in that case.
func (a *Allowlist) RefreshSync(ctx context.Context) error {
	if a.url == "" {
		return nil
	}

	entry := a.logEntry()
	list, err := a.fetch(ctx, entry)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		entry.WithError(err).Warn("allowlist refresh failed, clearing allowlist")
		list = pubkey.Set{}
	}

	a.replace(list)
	a.touch()
	return nil
}

// RefreshAsync starts RefreshSync in a new goroutine and returns at once.
// The outcome is only observable through later reads of the list.
func (a *Allowlist) RefreshAsync() {
	go a.RefreshSync(context.Background())
}

// DueForRefresh reports whether more than the update interval has passed
// since the last refresh. Lists without an interval are never due.
func (a *Allowlist) DueForRefresh() bool {
	if a.updateInterval <= 0 {
		return false
	}
	return time.Since(a.LastUpdated()) > a.updateInterval
}

// RefreshIfDue starts an asynchronous refresh when one is due. It never
// blocks. Checking and starting are not atomic together, so concurrent
// callers may start overlapping refreshes; each still swaps in a whole set.
func (a *Allowlist) RefreshIfDue() {
	if a.DueForRefresh() {
		a.RefreshAsync()
	}
}

// Close releases the loader's resources, if it holds any.
func (a *Allowlist) Close() error {
	if c, ok := a.loader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *Allowlist) logEntry() *logrus.Entry {
	return a.log.WithFields(logrus.Fields{
		"allowlist_url": a.url,
		"refresh_id":    xid.New().String(),
	})
}

var (
	refreshSucceeded = map[string]string{"success": "true"}
	refreshFailed    = map[string]string{"success": "false"}
)

// fetch loads and decodes the remote list without touching a's state.
func (a *Allowlist) fetch(ctx context.Context, entry *logrus.Entry) (pubkey.Set, error) {
	start := time.Now()
	lines, err := a.loader.Load(ctx, a.url)
	elapsed := time.Since(start)
	tags := refreshSucceeded
	if err != nil {
		tags = refreshFailed
	}
	a.metrics.TimingWithTags("allowlist.refresh.time", elapsed, tags, 1)
	a.metrics.IncrWithTags("allowlist.refresh.total", tags, 1)

	if err != nil {
		metrics.ReportRefreshError(a.metrics, err)
		return nil, err
	}

	list := pubkey.DecodeAll(lines)
	entry.WithFields(logrus.Fields{
		"size":      list.Len(),
		"discarded": len(lines) - list.Len(),
		"duration":  elapsed,
	}).Info("allowlist refreshed")

	return list, nil
}

func (a *Allowlist) replace(list pubkey.Set) {
	a.listMu.Lock()
	a.list = list
	a.listMu.Unlock()
}

// merge adds extra to the current set.
func (a *Allowlist) merge(extra pubkey.Set) {
	a.listMu.Lock()
	defer a.listMu.Unlock()

	merged := a.list.Clone()
	merged.Union(extra)
	a.list = merged
}

// touch records a refresh. lastUpdated is strictly increasing even if the
// clock reads the same value twice.
func (a *Allowlist) touch() {
	a.updatedMu.Lock()
	defer a.updatedMu.Unlock()

	now := time.Now()
	if !now.After(a.lastUpdated) {
		now = a.lastUpdated.Add(time.Nanosecond)
	}
	a.lastUpdated = now
}
