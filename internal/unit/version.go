package unit

import (
	"strconv"
	"strings"
)

// CompareVersions orders two unit version strings. Versions follow the
// runtime's dotted scheme ("1.2.3", "4.4.6.SNAPSHOT"): segments are compared
// numerically when both sides parse as integers and lexically otherwise, and
// a version with extra segments orders after its prefix. The scheme is not
// semver, so semver parsers reject real-world values like "2.20.0.redhat-630262".
func CompareVersions(a, b string) int {
	if a == b {
		return 0
	}

	as := splitVersion(a)
	bs := splitVersion(b)

	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}

	for i := 0; i < n; i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}

		if c := compareSegment(sa, sb); c != 0 {
			return c
		}
	}
	return 0
}

func splitVersion(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == '.' || r == '-' || r == '_'
	})
}

func compareSegment(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)

	switch {
	case errA == nil && errB == nil:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case errA == nil:
		// A numeric segment orders above qualifier text.
		return 1
	case errB == nil:
		return -1
	}
	return strings.Compare(a, b)
}
