package resolver

import "github.com/Masterminds/semver"

// AllSemver reports whether every version in the slice parses as a
// semantic version, the guard store.ListVersions uses before preferring
// SemverSort over its default lexical tie-break.
func AllSemver(versions []string) bool {
	for _, v := range versions {
		if _, err := semver.NewVersion(v); err != nil {
			return false
		}
	}
	return true
}

// SemverSort reorders versions (newest-first) using semantic-version
// comparison, used as an optional tie-break by store.ListVersions when
// install_date values collide and every entry happens to parse as
// semver (spec section 4.6, Open Question on ordering ties). Versions
// are returned unchanged if any entry fails to parse as semver.
func SemverSort(versions []string) []string {
	parsed := make([]*semver.Version, len(versions))
	for i, v := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			return versions
		}
		parsed[i] = sv
	}

	sorted := make([]string, len(versions))
	copy(sorted, versions)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && parsed[j].LessThan(parsed[j-1]); j-- {
			parsed[j], parsed[j-1] = parsed[j-1], parsed[j]
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	return sorted
}
