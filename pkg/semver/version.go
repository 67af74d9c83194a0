// Package semver checks bridge version constraints sent by web callers.
package semver

import (
	"fmt"
	"regexp"
	"strconv"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:version"

var majorOnlyRegex = regexp.MustCompile(`^\d+$`)

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	major, err := strconv.Atoi(rangeStr)
	if err != nil {
		return -1
	}
	return major
}

// Check returns nil when version satisfies rangeStr. A major-only range ("1")
// matches any version with that major.
func Check(version, rangeStr string) error {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%s - invalid version %q: %w", logPrefix, version, err)
	}

	if IsMajorOnly(rangeStr) {
		if int(sv.Major()) != ExtractMajorFromRange(rangeStr) {
			return fmt.Errorf("%s - version %s does not match major %s", logPrefix, version, rangeStr)
		}
		return nil
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return fmt.Errorf("%s - invalid range %q: %w", logPrefix, rangeStr, err)
	}
	if ok, errs := constraint.Validate(sv); !ok {
		if len(errs) > 0 {
			return fmt.Errorf("%s - version %s does not satisfy %s: %w", logPrefix, version, rangeStr, errs[0])
		}
		return fmt.Errorf("%s - version %s does not satisfy %s", logPrefix, version, rangeStr)
	}
	return nil
}
