package pypi

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileFetcher saves the file behind a path or URL into a destination
// directory under the given filename. Implemented by fetch.Client.
type FileFetcher interface {
	FetchAndSave(pathOrURL, filename, destDir string) (string, error)
}

// Package aggregates every distribution of one (name, version): at most one
// sdist and any number of wheels. The wheel list keeps discovery order; when
// several wheels satisfy one environment the first match wins.
type Package struct {
	NameVer

	Sdist  *Distribution
	Wheels []*Distribution
}

// PackageFromDists builds a Package from distributions that must all share
// one normalized (name, version) and include at most one sdist. A violation
// is a consistency fault, not a recoverable parse error.
func PackageFromDists(dists []*Distribution) (*Package, error) {
	if len(dists) == 0 {
		return nil, fmt.Errorf("cannot build a package from no distributions")
	}
	first := dists[0]
	pkg := &Package{
		NameVer: NameVer{Name: first.NormalizedName(), Version: first.Version},
	}
	for _, dist := range dists {
		if dist.NormalizedName() != pkg.Name || dist.Version != pkg.Version {
			return nil, fmt.Errorf(
				"inconsistent package: %s-%s does not belong to %s",
				dist.Name, dist.Version, pkg.NameVersion())
		}
		switch dist.Kind {
		case KindSdist:
			if pkg.Sdist != nil {
				return nil, fmt.Errorf(
					"inconsistent package: multiple sdists for %s", pkg.NameVersion())
			}
			pkg.Sdist = dist
		case KindWheel:
			pkg.Wheels = append(pkg.Wheels, dist)
		}
	}
	return pkg, nil
}

// PackagesFromLocations parses installable artifact locations (paths or
// URLs), groups them by (normalized name, version) and returns the packages
// sorted by name then version. Locations with a filename that matches no
// grammar are skipped and logged; the batch never fails on one bad entry.
func PackagesFromLocations(locations []string, logger *slog.Logger) []*Package {
	var dists []*Distribution
	for _, location := range locations {
		if !HasAnySuffix(BaseName(location), ExtensionsInstallable) {
			continue
		}
		dist, err := FromPathOrURL(location)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping unrecognized artifact", "location", location, "error", err)
			}
			continue
		}
		dists = append(dists, dist)
	}
	return PackagesFromDists(dists)
}

// PackagesFromDists groups distributions into packages sorted by
// (normalized name, parsed version). Inconsistent groups cannot occur here:
// grouping is by the same key the Package invariant checks.
func PackagesFromDists(dists []*Distribution) []*Package {
	SortDistributions(dists)
	var packages []*Package
	var current *Package
	for _, dist := range dists {
		key := NameVer{Name: dist.NormalizedName(), Version: dist.Version}
		if current == nil || current.NameVer != key {
			current = &Package{NameVer: key}
			packages = append(packages, current)
		}
		switch dist.Kind {
		case KindSdist:
			if current.Sdist == nil {
				current.Sdist = dist
			}
		case KindWheel:
			current.Wheels = append(current.Wheels, dist)
		}
	}
	return packages
}

// PackagesWithName returns the packages whose normalized name matches,
// preserving the sorted version order.
func PackagesWithName(packages []*Package, name string) []*Package {
	normalized := NormalizeName(name)
	var out []*Package
	for _, pkg := range packages {
		if pkg.Name == normalized {
			out = append(out, pkg)
		}
	}
	return out
}

// LatestPackage returns the highest-version package with the given name, or
// nil when the name is absent.
func LatestPackage(packages []*Package, name string) *Package {
	versions := PackagesWithName(packages, name)
	if len(versions) == 0 {
		return nil
	}
	return versions[len(versions)-1]
}

// PackageWithNameVersion returns the single package matching a name and
// version. More than one match is a consistency fault in the input.
func PackageWithNameVersion(packages []*Package, name, version string) (*Package, error) {
	var found *Package
	for _, pkg := range PackagesWithName(packages, name) {
		if pkg.Version != version {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("duplicate package %s-%s", name, version)
		}
		found = pkg
	}
	return found, nil
}

// Distributions returns the sdist (if any) followed by the wheels.
func (p *Package) Distributions() []*Distribution {
	var dists []*Distribution
	if p.Sdist != nil {
		dists = append(dists, p.Sdist)
	}
	dists = append(dists, p.Wheels...)
	return dists
}

// SupportedWheels returns the wheels installable in env, in discovery order.
func (p *Package) SupportedWheels(env *Environment) []*Distribution {
	tags := env.Tags()
	var wheels []*Distribution
	for _, wheel := range p.Wheels {
		if wheel.IsSupportedByTags(tags) {
			wheels = append(wheels, wheel)
		}
	}
	return wheels
}

// URLForFilename returns the location of this package's distribution with
// the given filename, or "" when absent.
func (p *Package) URLForFilename(filename string) string {
	for _, dist := range p.Distributions() {
		if dist.Filename == filename {
			return dist.PathOrURL
		}
	}
	return ""
}

// FetchWheel fetches the first wheel of this package supported by env into
// destDir and returns its filename, or "" when no wheel matches.
func (p *Package) FetchWheel(fetcher FileFetcher, env *Environment, destDir string) (string, error) {
	for _, wheel := range p.SupportedWheels(env) {
		if _, err := fetcher.FetchAndSave(wheel.PathOrURL, wheel.Filename, destDir); err != nil {
			return "", fmt.Errorf("fetching wheel %s: %w", wheel.Filename, err)
		}
		return wheel.Filename, nil
	}
	return "", nil
}

// FetchSdist fetches this package's sdist into destDir and returns its
// filename, or "" when the package has no sdist.
func (p *Package) FetchSdist(fetcher FileFetcher, destDir string) (string, error) {
	if p.Sdist == nil {
		return "", nil
	}
	if _, err := fetcher.FetchAndSave(p.Sdist.PathOrURL, p.Sdist.Filename, destDir); err != nil {
		return "", fmt.Errorf("fetching sdist %s: %w", p.Sdist.Filename, err)
	}
	return p.Sdist.Filename, nil
}

// DeleteFiles removes every artifact of this package from dir together with
// its .ABOUT and .NOTICE companions. License text files are shared across
// packages and are never removed here; prune them separately once nothing
// references them.
func (p *Package) DeleteFiles(dir string) error {
	for _, dist := range p.Distributions() {
		names := []string{dist.Filename, dist.AboutFilename(), dist.NoticeFilename()}
		for _, name := range names {
			err := os.Remove(filepath.Join(dir, name))
			if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("deleting %s: %w", name, err)
			}
		}
	}
	return nil
}
