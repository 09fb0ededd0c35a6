package semver

import (
	"fmt"

	masterminds "github.com/Masterminds/semver/v3"
)

const resolverLogPrefix = "semver:resolver"

// ParseVersion parses an exact version such as "1.4.0".
func ParseVersion(version string) (*masterminds.Version, error) {
	if !IsExactVersion(version) {
		return nil, fmt.Errorf("%s - %q is not an exact version", resolverLogPrefix, version)
	}
	v, err := masterminds.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid version %q: %w", resolverLogPrefix, version, err)
	}
	return v, nil
}

// Satisfies reports whether version is within rangeStr. An empty range
// accepts everything; a major-only range accepts that major.
func Satisfies(version, rangeStr string) (bool, error) {
	if rangeStr == "" {
		return true, nil
	}
	v, err := ParseVersion(version)
	if err != nil {
		return false, err
	}

	if IsMajorOnly(rangeStr) {
		var major uint64
		fmt.Sscanf(rangeStr, "%d", &major)
		return v.Major() == major, nil
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false, fmt.Errorf("%s - invalid range %q: %w", resolverLogPrefix, rangeStr, err)
	}
	return constraint.Check(v), nil
}

// Require is Satisfies that returns an error naming both sides on mismatch.
func Require(what, version, rangeStr string) error {
	ok, err := Satisfies(version, rangeStr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s - %s version %s does not satisfy %s", resolverLogPrefix, what, version, rangeStr)
	}
	return nil
}

// Newer reports whether a is strictly greater than b. Unparseable versions
// are never newer.
func Newer(a, b string) bool {
	va, err := masterminds.NewVersion(a)
	if err != nil {
		return false
	}
	vb, err := masterminds.NewVersion(b)
	if err != nil {
		return true
	}
	return va.GreaterThan(vb)
}
