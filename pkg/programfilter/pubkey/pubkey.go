// Package pubkey parses and encodes the 32-byte program identifiers used by
// the filter. Identifiers are rendered as base-58 strings, the same alphabet
// the chain uses for account keys.
package pubkey

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
)

// Size is the length in bytes of a program identifier.
const Size = 32

// Pubkey is a raw program identifier. Equality is byte-exact.
type Pubkey [Size]byte

// Parse decodes the base-58 form of an identifier. Surrounding whitespace is
// ignored. An error is returned unless exactly Size bytes decode.
func Parse(s string) (Pubkey, error) {
	var p Pubkey

	s = strings.TrimSpace(s)
	if s == "" {
		return p, fmt.Errorf("empty program id")
	}

	b, err := base58.Decode(s)
	if err != nil {
		return p, fmt.Errorf("invalid program id %q: %w", s, err)
	}
	if len(b) != Size {
		return p, fmt.Errorf("invalid program id %q: decoded to %d bytes, want %d", s, len(b), Size)
	}

	copy(p[:], b)
	return p, nil
}

// MustParse is like Parse but panics on malformed input. Intended for
// constants and tests.
func MustParse(s string) Pubkey {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// FromBytes interprets b as a raw identifier. ok is false when b is not
// exactly Size bytes long.
func FromBytes(b []byte) (p Pubkey, ok bool) {
	if len(b) != Size {
		return p, false
	}
	copy(p[:], b)
	return p, true
}

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

func (p Pubkey) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, p[:])
	return b
}

// Set is an unordered collection of identifiers.
type Set map[Pubkey]struct{}

// DecodeAll parses every entry of ss and returns the ones that decode.
// Malformed and blank entries are dropped; there is no error channel, so a
// list with no valid entries simply yields an empty set.
func DecodeAll(ss []string) Set {
	set := make(Set, len(ss))
	for _, s := range ss {
		if p, err := Parse(s); err == nil {
			set[p] = struct{}{}
		}
	}
	return set
}

func (s Set) Add(p Pubkey) {
	s[p] = struct{}{}
}

func (s Set) Contains(p Pubkey) bool {
	_, ok := s[p]
	return ok
}

func (s Set) Len() int {
	return len(s)
}

// Union adds every member of other to s.
func (s Set) Union(other Set) {
	for p := range other {
		s[p] = struct{}{}
	}
}

// Clone returns a deep copy of s.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	out.Union(s)
	return out
}

// Strings returns the base-58 form of every member, sorted.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p.String())
	}
	sort.Strings(out)
	return out
}
