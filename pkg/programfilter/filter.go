package programfilter

import (
	"context"

	cache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/blockdaemon/programfilter/pkg/programfilter/allowlist"
	"github.com/blockdaemon/programfilter/pkg/programfilter/metrics"
	"github.com/blockdaemon/programfilter/pkg/programfilter/pubkey"
)

// Tag maps shared by every decision. They are never written after init.
var (
	allowlistModeTags = map[string]string{"mode": ModeAllowlist.String()}
	denylistModeTags  = map[string]string{"mode": ModeDenylist.String()}
)

// Filter decides, per program, whether its events are forwarded. It is safe
// for concurrent use and Decide never blocks on I/O.
type Filter struct {
	programIgnores   pubkey.Set
	programAllowlist *allowlist.Allowlist

	log     *log.Logger
	metrics metrics.MetricsClientInterface

	// droppedPrograms remembers recently logged drops; nil when drops are
	// not logged.
	droppedPrograms *cache.Cache
}

// New builds a Filter from config. When an allowlist url is configured the
// first fetch happens here, and its failure is returned.
func New(ctx context.Context, config *Config) (*Filter, error) {
	programAllowlist, err := allowlist.New(ctx, config.allowlistConfig())
	if err != nil {
		return nil, err
	}

	f := &Filter{
		programIgnores:   pubkey.DecodeAll(config.ProgramIgnores),
		programAllowlist: programAllowlist,
		log:              config.Log,
		metrics:          config.MetricsClient,
	}
	if f.log == nil {
		f.log = log.StandardLogger()
	}
	if f.metrics == nil {
		f.metrics = metrics.NewNoOpMetricsClient()
	}
	if config.LogDroppedPrograms {
		interval := config.DroppedProgramLogInterval
		if interval <= 0 {
			interval = DefaultDroppedProgramLogInterval
		}
		f.droppedPrograms = cache.New(interval, 2*interval)
	}

	f.log.WithFields(log.Fields{
		"ignored_programs":   f.programIgnores.Len(),
		"allowed_programs":   programAllowlist.Len(),
		"allowlist_url":      programAllowlist.URL(),
		"allowlist_interval": programAllowlist.UpdateInterval(),
	}).Info("program filter ready")

	return f, nil
}

// Allowlist returns the filter's shared allowlist, for callers that drive
// its refreshes.
func (f *Filter) Allowlist() *allowlist.Allowlist {
	return f.programAllowlist
}

// IgnoredPrograms returns the number of programs in the ignore list.
func (f *Filter) IgnoredPrograms() int {
	return f.programIgnores.Len()
}

// Clone returns a Filter with its own copy of the ignore list that shares
// the allowlist, and so its refreshes, with f.
func (f *Filter) Clone() *Filter {
	clone := *f
	clone.programIgnores = f.programIgnores.Clone()
	return &clone
}

// WantsProgram reports whether events for program should be forwarded.
func (f *Filter) WantsProgram(program []byte) bool {
	return f.Decide(program).Forward()
}

// Decide applies the filter policy to a raw program id and records the
// outcome:
//
//  1. While the allowlist holds any program, only the allowlist is consulted.
//  2. Otherwise the program is dropped if and only if it is in the ignore
//     list.
//
// Input that is not 32 bytes long is always forwarded.
func (f *Filter) Decide(program []byte) Decision {
	d := f.Explain(program)
	f.record(program, d)
	return d
}

// Explain returns the decision Decide would take for program without
// counting or logging it.
func (f *Filter) Explain(program []byte) Decision {
	key, wellFormed := pubkey.FromBytes(program)

	var d Decision
	if f.programAllowlist.Len() > 0 {
		d.Mode = ModeAllowlist
		switch {
		case !wellFormed:
			d.Result, d.Reason = Forward, ReasonMalformedProgram
		case f.programAllowlist.WantsProgram(program):
			d.Result, d.Reason = Forward, ReasonInAllowlist
		default:
			d.Result, d.Reason = Drop, ReasonNotInAllowlist
		}
		return d
	}

	d.Mode = ModeDenylist
	switch {
	case !wellFormed:
		d.Result, d.Reason = Forward, ReasonMalformedProgram
	case f.programIgnores.Contains(key):
		d.Result, d.Reason = Drop, ReasonInIgnoreList
	default:
		d.Result, d.Reason = Forward, ReasonNotInIgnoreList
	}
	return d
}

func (f *Filter) record(program []byte, d Decision) {
	if d.Reason == ReasonMalformedProgram {
		f.metrics.Incr("filter.malformed_input", 1)
	}

	tags := denylistModeTags
	if d.Mode == ModeAllowlist {
		tags = allowlistModeTags
	}

	if d.Result == Forward {
		f.metrics.IncrWithTags("filter.forward", tags, 1)
		return
	}

	f.metrics.IncrWithTags("filter.drop", tags, 1)
	if f.droppedPrograms != nil {
		key, _ := pubkey.FromBytes(program)
		logDroppedProgram(f.log, f.droppedPrograms, key, d)
	}
}
