// Package pypi models Python package distributions: sdists and wheels
// identified by their filenames, grouped into per-version packages, and
// matched against target environments using PEP 425 compatibility tags.
package pypi

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var separatorRuns = regexp.MustCompile(`[-_.]+`)

// NormalizeName returns the PEP 503 normalized form of a package name:
// lowercase with runs of "-", "_" and "." collapsed to a single "-".
// An empty name normalizes to the empty string.
func NormalizeName(name string) string {
	if name == "" {
		return ""
	}
	return strings.ToLower(separatorRuns.ReplaceAllString(name, "-"))
}

// NameVer is a package name and version pair. All equality, grouping and
// sorting across the system uses the normalized name, never the raw name.
type NameVer struct {
	Name    string
	Version string
}

// NormalizedName returns the PEP 503 normalized package name.
func (nv NameVer) NormalizedName() string {
	return NormalizeName(nv.Name)
}

// NameVersion returns the "name-version" string.
func (nv NameVer) NameVersion() string {
	return fmt.Sprintf("%s-%s", nv.Name, nv.Version)
}

// Specifier returns a pip requirement specifier for this package.
func (nv NameVer) Specifier() string {
	if nv.Version == "" {
		return nv.Name
	}
	return fmt.Sprintf("%s==%s", nv.Name, nv.Version)
}

// versionNumRe captures the leading dotted numeric release segment of a
// version string; whatever follows is treated as a pre-release marker.
var versionNumRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)[.\-_]?(.*)$`)

// ParseVersion parses a Python package version into a semver version for
// ordering purposes. Python versions are not strict semver, so this coerces:
// an epoch prefix ("1!") is stripped, the numeric release segment maps to
// major.minor.patch, and any trailing marker ("b1", "rc2", "dev3") becomes a
// pre-release so it sorts before the plain release. Post-release markers
// ("post1") are folded into build metadata and compare equal to the release.
func ParseVersion(version string) (*semver.Version, error) {
	v := strings.TrimSpace(version)
	if v == "" {
		return nil, fmt.Errorf("empty version")
	}
	if i := strings.Index(v, "!"); i >= 0 {
		v = v[i+1:]
	}
	if sv, err := semver.NewVersion(v); err == nil {
		return sv, nil
	}

	m := versionNumRe.FindStringSubmatch(v)
	if m == nil {
		return nil, fmt.Errorf("unparseable version: %q", version)
	}
	nums := strings.Split(m[1], ".")
	for len(nums) < 3 {
		nums = append(nums, "0")
	}
	coerced := strings.Join(nums[:3], ".")
	if rest := m[2]; rest != "" {
		rest = strings.Trim(rest, ".-_")
		if strings.HasPrefix(rest, "post") {
			coerced += "+" + rest
		} else {
			coerced += "-" + rest
		}
	}
	return semver.NewVersion(coerced)
}

// CompareVersions totally orders two version strings. A version that cannot
// be parsed sorts before every parseable one; two unparseable versions fall
// back to lexical order so the ordering stays total.
func CompareVersions(a, b string) int {
	va, errA := ParseVersion(a)
	vb, errB := ParseVersion(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	if c := va.Compare(vb); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// Compare orders two NameVers by (normalized name, parsed version).
func (nv NameVer) Compare(other NameVer) int {
	if c := strings.Compare(nv.NormalizedName(), other.NormalizedName()); c != 0 {
		return c
	}
	return CompareVersions(nv.Version, other.Version)
}

// SortDistributions sorts distributions in place by (normalized name,
// parsed version), the canonical order used before grouping.
func SortDistributions(dists []*Distribution) {
	sort.SliceStable(dists, func(i, j int) bool {
		return dists[i].NameVer.Compare(dists[j].NameVer) < 0
	})
}
