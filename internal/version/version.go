// Package version parses dotted driver/toolkit version strings into numeric
// tuples so they can be compared without lexicographic surprises
// ("9.0" < "12.0").
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed dotted version. Missing components are zero; Parts
// records how many components were present in the input.
type Version struct {
	Major int
	Minor int
	Patch int
	Parts int
	Raw   string
}

// Parse accepts forms such as "535", "12.4", "v12.1", "535.104.05" and
// "550.54.15-1". Leading zeros are decimal ("05" is 5). Anything after the
// third component or after a '-'/'+' suffix is ignored.
func Parse(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	t := strings.TrimPrefix(strings.TrimPrefix(raw, "v"), "V")
	if i := strings.IndexAny(t, "-+ "); i >= 0 {
		t = t[:i]
	}
	if t == "" {
		return Version{}, fmt.Errorf("version: empty input %q", s)
	}

	fields := strings.Split(t, ".")
	var nums [3]int
	n := 0
	for _, f := range fields {
		if n == len(nums) {
			break
		}
		v, err := strconv.ParseUint(f, 10, 31)
		if err != nil {
			return Version{}, fmt.Errorf("version: invalid component %q in %q", f, s)
		}
		nums[n] = int(v)
		n++
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2], Parts: n, Raw: raw}, nil
}

// SameMajor reports whether both versions share the major component.
func (v Version) SameMajor(o Version) bool {
	return v.Major == o.Major
}

// CompareMinor orders by major then minor, ignoring patch. It returns -1, 0
// or 1.
func (v Version) CompareMinor(o Version) int {
	if c := cmpInt(v.Major, o.Major); c != 0 {
		return c
	}
	return cmpInt(v.Minor, o.Minor)
}

func (v Version) String() string {
	switch v.Parts {
	case 1:
		return strconv.Itoa(v.Major)
	case 2:
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	default:
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
