package programfilter

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdaemon/programfilter/pkg/programfilter/pubkey"
)

func TestDenylistMode(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	config, mc, _ := testConfig()
	config.ProgramIgnores = []string{sysvarProgram, voteProgram}

	filter, err := New(context.Background(), config)
	r.NoError(err)
	a.Equal(2, filter.IgnoredPrograms())
	a.Equal(0, filter.Allowlist().Len())

	d := filter.Decide(key(voteProgram))
	a.Equal(Drop, d.Result)
	a.Equal(ModeDenylist, d.Mode)
	a.Equal(ReasonInIgnoreList, d.Reason)
	a.False(filter.WantsProgram(key(sysvarProgram)))

	a.True(filter.WantsProgram(key(serumProgram)))
	a.True(filter.WantsProgram(key(systemProgram)))

	drops, err := mc.GetCount("filter.drop", "mode:denylist")
	a.NoError(err)
	a.EqualValues(2, drops)
	forwards, err := mc.GetCount("filter.forward", "mode:denylist")
	a.NoError(err)
	a.EqualValues(2, forwards)
}

func TestAllowlistMode(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	config, mc, _ := testConfig()
	config.ProgramAllowlist = []string{sysvarProgram, voteProgram}

	filter, err := New(context.Background(), config)
	r.NoError(err)

	a.True(filter.WantsProgram(key(sysvarProgram)))
	a.True(filter.WantsProgram(key(voteProgram)))

	d := filter.Decide(key(serumProgram))
	a.Equal(Drop, d.Result)
	a.Equal(ModeAllowlist, d.Mode)
	a.Equal(ReasonNotInAllowlist, d.Reason)

	forwards, err := mc.GetCount("filter.forward", "mode:allowlist")
	a.NoError(err)
	a.EqualValues(2, forwards)
}

func TestPrecedence(t *testing.T) {
	testCases := map[string]struct {
		ignores   []string
		allowlist []string
		program   string
		expect    DecisionResult
		mode      PolicyMode
	}{
		"allowlisted and ignored": {
			ignores:   []string{voteProgram},
			allowlist: []string{voteProgram},
			program:   voteProgram,
			expect:    Forward,
			mode:      ModeAllowlist,
		},
		"neither listed with allowlist": {
			ignores:   []string{voteProgram},
			allowlist: []string{sysvarProgram},
			program:   serumProgram,
			expect:    Drop,
			mode:      ModeAllowlist,
		},
		"ignored only, allowlist populated": {
			ignores:   []string{voteProgram},
			allowlist: []string{sysvarProgram},
			program:   voteProgram,
			expect:    Drop,
			mode:      ModeAllowlist,
		},
		"ignored, allowlist empty": {
			ignores: []string{voteProgram},
			program: voteProgram,
			expect:  Drop,
			mode:    ModeDenylist,
		},
		"nothing configured": {
			program: serumProgram,
			expect:  Forward,
			mode:    ModeDenylist,
		},
		"allowlist of undecodable entries": {
			ignores:   []string{voteProgram},
			allowlist: []string{"0OIl", "not a key"},
			program:   voteProgram,
			expect:    Drop,
			mode:      ModeDenylist,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			a := assert.New(t)

			config, _, _ := testConfig()
			config.ProgramIgnores = tc.ignores
			config.ProgramAllowlist = tc.allowlist

			filter, err := New(context.Background(), config)
			require.NoError(t, err)

			d := filter.Decide(key(tc.program))
			a.Equal(tc.expect, d.Result)
			a.Equal(tc.mode, d.Mode)
		})
	}
}

func TestMalformedInputFailsOpen(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	for _, configure := range []func(*Config){
		func(c *Config) { c.ProgramIgnores = []string{voteProgram} },
		func(c *Config) { c.ProgramAllowlist = []string{voteProgram} },
	} {
		config, mc, _ := testConfig()
		configure(config)

		filter, err := New(context.Background(), config)
		r.NoError(err)

		for _, input := range [][]byte{nil, []byte("short"), make([]byte, pubkey.Size+1)} {
			d := filter.Decide(input)
			a.Equal(Forward, d.Result)
			a.Equal(ReasonMalformedProgram, d.Reason)
		}

		malformed, err := mc.GetCount("filter.malformed_input")
		a.NoError(err)
		a.EqualValues(3, malformed)
	}
}

func TestExplainDoesNotRecord(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	config, mc, _ := testConfig()
	config.ProgramIgnores = []string{voteProgram}

	filter, err := New(context.Background(), config)
	r.NoError(err)

	a.Equal(Drop, filter.Explain(key(voteProgram)).Result)
	_, err = mc.GetCount("filter.drop")
	a.Error(err)
}

func TestEmptiedAllowlistFallsBackToIgnores(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	server := newListServer(t, sysvarProgram+"\n"+serumProgram)
	config, _, _ := testConfig()
	config.ProgramIgnores = []string{voteProgram}
	config.ProgramAllowlist = []string{wormholeProgram}
	config.ProgramAllowlistURL = server.URL
	config.ProgramAllowlistUpdateInterval = time.Hour

	filter, err := New(context.Background(), config)
	r.NoError(err)
	a.Equal(3, filter.Allowlist().Len())
	a.True(filter.WantsProgram(key(wormholeProgram)))
	a.True(filter.WantsProgram(key(serumProgram)))
	a.False(filter.WantsProgram(key(systemProgram)))

	server.set(http.StatusOK, "")
	r.NoError(filter.Allowlist().RefreshSync(context.Background()))
	a.Equal(0, filter.Allowlist().Len())
	a.True(filter.WantsProgram(key(systemProgram)))
	a.False(filter.WantsProgram(key(voteProgram)))

	// A failed fetch empties the allowlist the same way.
	server.set(http.StatusOK, serumProgram)
	r.NoError(filter.Allowlist().RefreshSync(context.Background()))
	a.Equal(ModeAllowlist, filter.Decide(key(serumProgram)).Mode)

	server.set(http.StatusInternalServerError, serumProgram)
	r.NoError(filter.Allowlist().RefreshSync(context.Background()))
	a.Equal(ModeDenylist, filter.Decide(key(serumProgram)).Mode)
}

func TestInitialFetchFailure(t *testing.T) {
	server := newListServer(t, "")
	server.set(http.StatusNotFound, "")

	config, _, _ := testConfig()
	config.ProgramAllowlistURL = server.URL

	_, err := New(context.Background(), config)
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	server := newListServer(t, sysvarProgram)
	config, _, _ := testConfig()
	config.ProgramIgnores = []string{voteProgram}
	config.ProgramAllowlistURL = server.URL
	config.ProgramAllowlistUpdateInterval = time.Hour

	filter, err := New(context.Background(), config)
	r.NoError(err)
	clone := filter.Clone()

	a.Same(filter.Allowlist(), clone.Allowlist())
	a.Equal(filter.IgnoredPrograms(), clone.IgnoredPrograms())

	// Refreshes through one handle are seen by the other.
	server.set(http.StatusOK, serumProgram)
	r.NoError(filter.Allowlist().RefreshSync(context.Background()))
	a.True(clone.WantsProgram(key(serumProgram)))
	a.False(clone.WantsProgram(key(sysvarProgram)))

	// The ignore list is not shared.
	clone.programIgnores.Add(pubkey.MustParse(serumProgram))
	a.Equal(1, filter.IgnoredPrograms())
	a.Equal(2, clone.IgnoredPrograms())
}

func TestDroppedProgramsLoggedOnce(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	config, _, hook := testConfig()
	config.ProgramIgnores = []string{voteProgram, sysvarProgram}
	config.LogDroppedPrograms = true
	config.DroppedProgramLogInterval = time.Hour

	filter, err := New(context.Background(), config)
	r.NoError(err)
	hook.Reset()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			filter.Decide(key(voteProgram))
		}()
	}
	wg.Wait()
	filter.Decide(key(sysvarProgram))
	filter.Decide(key(serumProgram))

	var logged []string
	for _, entry := range hook.AllEntries() {
		if entry.Message == LOGLINE_PROGRAM_DROPPED {
			logged = append(logged, entry.Data["program"].(string))
			a.Equal("denylist", entry.Data["policy_mode"])
		}
	}
	a.ElementsMatch([]string{voteProgram, sysvarProgram}, logged)
}

func TestDroppedProgramsNotLoggedByDefault(t *testing.T) {
	config, _, hook := testConfig()
	config.ProgramIgnores = []string{voteProgram}

	filter, err := New(context.Background(), config)
	require.NoError(t, err)
	hook.Reset()

	filter.Decide(key(voteProgram))
	assert.Empty(t, hook.AllEntries())
}

func TestDecisionStrings(t *testing.T) {
	a := assert.New(t)
	a.Equal("Forward", Forward.String())
	a.Equal("Drop", Drop.String())
	a.Equal("allowlist", ModeAllowlist.String())
	a.Equal("denylist", ModeDenylist.String())
	a.True(Decision{Result: Forward}.Forward())
	a.False(Decision{Result: Drop}.Forward())
}
