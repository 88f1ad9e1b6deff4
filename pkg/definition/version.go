package definition

import (
	"strconv"
	"strings"
	"unicode"
)

// CompareVersions compares two bundle versions segment by segment, treating runs of
// digits numerically and other runs lexically. It returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	as, bs := splitVersion(a), splitVersion(b)
	for i := 0; i < len(as) || i < len(bs); i++ {
		if i >= len(as) {
			return -1
		}
		if i >= len(bs) {
			return 1
		}
		if c := compareSegment(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return 0
}

func splitVersion(v string) []string {
	var parts []string
	var cur strings.Builder
	digit := false
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	for _, r := range v {
		switch {
		case unicode.IsDigit(r):
			if !digit {
				flush()
			}
			digit = true
			cur.WriteRune(r)
		case unicode.IsLetter(r):
			if digit {
				flush()
			}
			digit = false
			cur.WriteRune(r)
		default:
			flush()
			digit = false
		}
	}
	flush()
	return parts
}

func compareSegment(a, b string) int {
	an, aErr := strconv.ParseUint(a, 10, 64)
	bn, bErr := strconv.ParseUint(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	case aErr == nil:
		// numeric segments sort after alphabetic ones
		return 1
	case bErr == nil:
		return -1
	}
	return strings.Compare(a, b)
}
