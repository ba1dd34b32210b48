package programfilter

// DecisionResult is what happens to the events of a program.
type DecisionResult int

const (
	Forward DecisionResult = iota
	Drop
)

func (d DecisionResult) String() string {
	return [...]string{"Forward", "Drop"}[d]
}

// PolicyMode is the list a decision was taken against. The filter uses the
// allowlist exclusively while it holds any program, and the ignore list
// otherwise; never both.
type PolicyMode int

const (
	ModeDenylist PolicyMode = iota
	ModeAllowlist
)

func (m PolicyMode) String() string {
	return [...]string{"denylist", "allowlist"}[m]
}

// Decision reasons
const (
	ReasonMalformedProgram = "program id is not 32 bytes"
	ReasonInAllowlist      = "program matched allowlist"
	ReasonNotInAllowlist   = "program not in allowlist"
	ReasonInIgnoreList     = "program matched ignore list"
	ReasonNotInIgnoreList  = "program not in ignore list"
)

type Decision struct {
	Result DecisionResult
	Mode   PolicyMode
	Reason string
}

func (d Decision) Forward() bool {
	return d.Result == Forward
}
