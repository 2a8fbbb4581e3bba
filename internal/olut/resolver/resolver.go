// Package resolver implements olut's version specifier DSL: given the
// list of installed versions for a package (ordered newest-first, as
// store.ListVersions returns it) and its current version if any, pick
// the versions a specifier names (spec section 4.6).
package resolver

import (
	"strconv"
	"strings"

	"github.com/samuel/olut/internal/olut/errs"
)

// All is the specifier matching every installed version, in order.
const All = "*"

// Resolve selects the versions named by spec out of versions (newest
// first). It never reorders versions; a specifier only narrows the list.
// current/hasCurrent supply the package's active version, needed by the
// "@" relative selector; pass hasCurrent=false when none is active.
//
// Rules, first match wins (spec section 4.6):
//  1. spec names an installed version literally -> that one version
//  2. "*" -> every version, in order
//  3. "@<t>" -> a selector relative to current (see relativeOffset)
//  4. "a:b" -> a half-open slice on position, newest-first
//  5. a bare nonnegative integer -> a positional index
//  6. anything else -> no match (empty result, not an error)
func Resolve(versions []string, current string, hasCurrent bool, spec string) ([]string, error) {
	for _, v := range versions {
		if v == spec {
			return []string{v}, nil
		}
	}

	if spec == All {
		return versions, nil
	}

	if strings.HasPrefix(spec, "@") {
		if !hasCurrent {
			return nil, errs.New(errs.NoCurrent, "", "no current version to resolve "+spec+" against")
		}
		curIdx := indexOf(versions, current)
		if curIdx < 0 {
			return nil, errs.New(errs.NoCurrent, "", "current version "+current+" is not installed")
		}
		offset := relativeOffset(spec[1:])
		idx := clamp(curIdx+offset, 0, len(versions)-1)
		if len(versions) == 0 {
			return nil, errs.New(errs.NoSuchVersion, "", "no versions installed")
		}
		return []string{versions[idx]}, nil
	}

	if lo, hi, ok := parseSlice(spec); ok {
		if lo < 0 {
			lo = 0
		}
		if hi > len(versions) {
			hi = len(versions)
		}
		if lo > hi {
			lo = hi
		}
		return versions[lo:hi], nil
	}

	if n, err := strconv.Atoi(spec); err == nil && n >= 0 {
		if n >= len(versions) {
			return nil, errs.New(errs.NoSuchVersion, "", "index "+spec+" out of range")
		}
		return []string{versions[n]}, nil
	}

	return nil, nil
}

func indexOf(versions []string, v string) int {
	for i, x := range versions {
		if x == v {
			return i
		}
	}
	return -1
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// relativeOffset implements spec section 4.6 rule 3's repeated-sign
// shorthand exactly as specified, quirks included: the source's own
// behavior is the contract (see DESIGN.md's open-question decisions), not a
// tidied-up reading of it.
//
// When t has length 1, or its second character is a sign, the offset is
// the signed magnitude of the run: "-" is -1, "--" is -2, "+++" is +3,
// and a lone non-sign character (e.g. "0") contributes sign 0, so "@0"
// is offset 0 regardless of which digit it is. Otherwise t is parsed as
// a signed integer literal and negated, so "@-1" is offset +1 and
// "@+1" is offset -1.
func relativeOffset(t string) int {
	if t == "" {
		return 0
	}
	if len(t) == 1 || t[1] == '-' || t[1] == '+' {
		sign := 0
		switch t[0] {
		case '-':
			sign = -1
		case '+':
			sign = 1
		}
		return sign * len(t)
	}
	n, err := strconv.Atoi(t)
	if err != nil {
		return 0
	}
	return -n
}

func parseSlice(spec string) (lo, hi int, ok bool) {
	idx := strings.IndexByte(spec, ':')
	if idx < 0 {
		return 0, 0, false
	}
	left, right := spec[:idx], spec[idx+1:]
	if left == "" {
		lo = 0
	} else {
		var err error
		if lo, err = strconv.Atoi(left); err != nil {
			return 0, 0, false
		}
	}
	if right == "" {
		hi = 1<<31 - 1
	} else {
		var err error
		if hi, err = strconv.Atoi(right); err != nil {
			return 0, 0, false
		}
	}
	return lo, hi, true
}
