package programfilter

import (
	"github.com/carlmjohnson/versioninfo"
)

const versionSemantic = "0.1.0"

// Version returns the semantic version followed by the VCS revision the
// binary was built from.
func Version() string {
	return versionSemantic + "-" + versioninfo.Short()
}

const DefaultStatsdNamespace = "programfilter."
