// Package semver parses versioned manifest references and checks manifest
// versions against ranges.
package semver

import (
	"fmt"
	"regexp"
	"strings"
)

const logPrefix = "semver:parser"

// ParsedRef holds the components of a reference such as "common.toml@^1.2".
type ParsedRef struct {
	// Target is the part before '@' (e.g., "common.toml")
	Target string
	// Range is the version range after '@'; empty means any version
	Range string
	// Raw input string
	Raw string
}

var (
	segmentRegex      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
	majorOnlyRegex    = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseRef parses a reference string.
//
// Supported formats:
//   - common.toml            (no version)
//   - common.toml@1          (major only)
//   - common.toml@1.2.0      (exact version)
//   - common.toml@^1.2.0     (caret range)
//   - common.toml@>=1.0.0    (comparison range)
func ParseRef(input string) (*ParsedRef, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return nil, fmt.Errorf("%s - empty reference", logPrefix)
	}

	target := raw
	rangeStr := ""
	if at := strings.LastIndex(raw, "@"); at != -1 {
		target = raw[:at]
		rangeStr = strings.TrimSpace(raw[at+1:])
		if rangeStr == "" {
			return nil, fmt.Errorf("%s - empty version range in %s", logPrefix, raw)
		}
	}
	if target == "" {
		return nil, fmt.Errorf("%s - missing target in %s", logPrefix, raw)
	}

	return &ParsedRef{Target: target, Range: rangeStr, Raw: raw}, nil
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is an exact version (e.g., "3.2.1").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// ValidateSegment reports whether name can be used as one segment of a
// handler path (letters, digits, hyphens, underscores; no leading digit).
func ValidateSegment(name string) bool {
	return segmentRegex.MatchString(name)
}

// SplitPath splits a dotted handler path and validates each segment.
func SplitPath(path string) ([]string, error) {
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if !ValidateSegment(s) {
			return nil, fmt.Errorf("%s - invalid path segment %q in %q", logPrefix, s, path)
		}
	}
	return segs, nil
}
