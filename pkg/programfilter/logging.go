package programfilter

import (
	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/blockdaemon/programfilter/pkg/programfilter/pubkey"
)

const (
	LOGLINE_PROGRAM_DROPPED = "PROGRAM-DROPPED"
)

// logDroppedProgram logs a drop unless the same program was logged within
// the expiry of seen. cache.Add fails for a live key, so concurrent drops of
// one program produce a single line.
func logDroppedProgram(logger *logrus.Logger, seen *cache.Cache, program pubkey.Pubkey, d Decision) {
	if err := seen.Add(string(program[:]), struct{}{}, cache.DefaultExpiration); err != nil {
		return
	}

	logger.WithFields(logrus.Fields{
		"program":         program.String(),
		"policy_mode":     d.Mode.String(),
		"decision_reason": d.Reason,
	}).Info(LOGLINE_PROGRAM_DROPPED)
}

// From https://github.com/sirupsen/logrus/issues/436
type Log2LogrusWriter struct {
	Entry *logrus.Entry
}

func (w *Log2LogrusWriter) Write(b []byte) (int, error) {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	w.Entry.Warning(string(b))
	return n, nil
}
