// Package pep425 implements the PEP 425 compatibility tag model used to
// decide whether a built wheel can be installed in a target environment.
//
// https://www.python.org/dev/peps/pep-0425/
package pep425

import "strings"

// Tag is a single (python, abi, platform) compatibility triple.
// Any component may be a compressed set ("cp36.cp37") as allowed in
// wheel filenames; use Decompress to expand.
type Tag struct {
	Python   string
	ABI      string
	Platform string
}

func (t Tag) String() string {
	return t.Python + "-" + t.ABI + "-" + t.Platform
}

// Decompress expands dot-compressed components into concrete tags.
func (t Tag) Decompress() []Tag {
	var ret []Tag
	for _, x := range strings.Split(t.Python, ".") {
		for _, y := range strings.Split(t.ABI, ".") {
			for _, z := range strings.Split(t.Platform, ".") {
				ret = append(ret, Tag{x, y, z})
			}
		}
	}
	return ret
}

// Product returns every concrete tag in the cartesian product of the
// given python version, ABI and platform tag lists.
func Product(pythons, abis, platforms []string) []Tag {
	ret := make([]Tag, 0, len(pythons)*len(abis)*len(platforms))
	for _, x := range pythons {
		for _, y := range abis {
			for _, z := range platforms {
				ret = append(ret, Tag{x, y, z})
			}
		}
	}
	return ret
}

// Intersect reports whether any tag in 'a' matches any tag in 'b',
// considering compressed tag sets. A single overlapping triple is enough:
// this is the non-disjoint-set test, not a subset test.
func Intersect(a, b []Tag) bool {
	for _, a1 := range a {
		for _, a2 := range a1.Decompress() {
			for _, b1 := range b {
				for _, b2 := range b1.Decompress() {
					if a2 == b2 {
						return true
					}
				}
			}
		}
	}
	return false
}
