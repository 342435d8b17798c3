// Package repo implements the repository abstraction over the two artifact
// sources: a links repository (a local directory or one HTML links page, as
// used with pip --find-links) and the lazily-indexed PyPI simple index.
package repo

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/clean-dependency-project/wheelsync/internal/pypi"
)

// ErrLinkNotFound reports a filename with no link in a repository.
var ErrLinkNotFound = errors.New("no link found for filename")

// ContentGetter fetches the content behind a path or URL. Implemented by
// fetch.Client; repositories never talk HTTP directly.
type ContentGetter interface {
	Get(pathOrURL string) ([]byte, error)
}

// Repository is a queryable source of packages. Both lookups key on the
// normalized package name.
type Repository interface {
	// GetVersions returns every package with the given name, sorted by
	// version. The result may be empty.
	GetVersions(name string) ([]*pypi.Package, error)

	// GetPackage returns the package with the given name and version, or
	// nil when absent.
	GetPackage(name, version string) (*pypi.Package, error)

	// GetLatestVersion returns the highest-version package with the given
	// name, or nil when absent.
	GetLatestVersion(name string) (*pypi.Package, error)
}

var hrefRe = regexp.MustCompile(`href="([^"]+)"`)

// LinksRepository indexes a links page eagerly: all links are discovered and
// grouped into packages at construction time.
type LinksRepository struct {
	pathOrURL string
	links     []string
	packages  []*pypi.Package
}

// LinksConfig configures link discovery from a remote links page.
type LinksConfig struct {
	// PathOrURL is a local directory or the https URL of an HTML page whose
	// anchors link to artifacts.
	PathOrURL string

	// HrefPrefix keeps only remote links starting with this prefix.
	HrefPrefix string

	// BaseURL resolves relative remote links.
	BaseURL string

	Logger *slog.Logger
}

// NewLinksRepository discovers all artifact links behind config.PathOrURL
// and builds the package index.
func NewLinksRepository(config LinksConfig, getter ContentGetter) (*LinksRepository, error) {
	var links []string
	var err error
	if strings.HasPrefix(config.PathOrURL, "https://") {
		links, err = findLinksFromURL(getter, config.PathOrURL, config.BaseURL, config.HrefPrefix)
	} else {
		links, err = findLinksFromDir(config.PathOrURL)
	}
	if err != nil {
		return nil, err
	}
	return &LinksRepository{
		pathOrURL: config.PathOrURL,
		links:     links,
		packages:  pypi.PackagesFromLocations(links, config.Logger),
	}, nil
}

// Links returns every artifact link in this repository: installables,
// provenance records, notices and license texts alike.
func (r *LinksRepository) Links() []string {
	return r.links
}

// LinkForFilename returns the single link ending with /filename. Zero or
// multiple matches are both errors: a duplicate filename in one repository
// breaks the filename-as-identity invariant.
func (r *LinksRepository) LinkForFilename(filename string) (string, error) {
	return LinkForFilename(filename, r.links)
}

func (r *LinksRepository) GetVersions(name string) ([]*pypi.Package, error) {
	return pypi.PackagesWithName(r.packages, name), nil
}

func (r *LinksRepository) GetPackage(name, version string) (*pypi.Package, error) {
	return pypi.PackageWithNameVersion(r.packages, name, version)
}

func (r *LinksRepository) GetLatestVersion(name string) (*pypi.Package, error) {
	return pypi.LatestPackage(r.packages, name), nil
}

// PypiRepository indexes the PyPI simple index lazily: a name's index page
// is fetched and parsed on first query and memoized for the process
// lifetime. Only names that have been queried are indexed.
type PypiRepository struct {
	simpleURL string
	getter    ContentGetter
	logger    *slog.Logger

	linksByName    map[string][]string
	packagesByName map[string][]*pypi.Package
}

// NewPypiRepository creates a lazy index client for a PyPI simple URL such
// as https://pypi.org/simple.
func NewPypiRepository(simpleURL string, getter ContentGetter, logger *slog.Logger) *PypiRepository {
	return &PypiRepository{
		simpleURL:      strings.TrimRight(simpleURL, "/"),
		getter:         getter,
		logger:         logger,
		linksByName:    map[string][]string{},
		packagesByName: map[string][]*pypi.Package{},
	}
}

// GetLinks returns the download links for a package name, fetching its
// index page on first use.
func (r *PypiRepository) GetLinks(name string) ([]string, error) {
	normalized := pypi.NormalizeName(name)
	if err := r.populate(normalized); err != nil {
		return nil, err
	}
	return r.linksByName[normalized], nil
}

func (r *PypiRepository) GetVersions(name string) ([]*pypi.Package, error) {
	normalized := pypi.NormalizeName(name)
	if err := r.populate(normalized); err != nil {
		return nil, err
	}
	return r.packagesByName[normalized], nil
}

func (r *PypiRepository) GetPackage(name, version string) (*pypi.Package, error) {
	packages, err := r.GetVersions(name)
	if err != nil {
		return nil, err
	}
	return pypi.PackageWithNameVersion(packages, name, version)
}

func (r *PypiRepository) GetLatestVersion(name string) (*pypi.Package, error) {
	packages, err := r.GetVersions(name)
	if err != nil {
		return nil, err
	}
	return pypi.LatestPackage(packages, name), nil
}

func (r *PypiRepository) populate(normalized string) error {
	if _, done := r.linksByName[normalized]; done {
		return nil
	}

	links, err := findPypiLinks(r.getter, r.simpleURL, normalized)
	if err != nil {
		return err
	}
	r.linksByName[normalized] = links
	r.packagesByName[normalized] = pypi.PackagesFromLocations(links, r.logger)
	return nil
}

// findLinksFromDir returns the path of every file in directory with a known
// artifact extension.
func findLinksFromDir(directory string) ([]string, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", directory, err)
	}
	base, err := filepath.Abs(directory)
	if err != nil {
		return nil, err
	}
	var links []string
	for _, entry := range entries {
		if entry.IsDir() || !pypi.HasAnySuffix(entry.Name(), pypi.Extensions) {
			continue
		}
		links = append(links, filepath.Join(base, entry.Name()))
	}
	return links, nil
}

// findLinksFromURL scrapes anchor targets out of one HTML links page,
// keeping targets that start with prefix and carry a known extension, and
// resolving relative targets against baseURL.
func findLinksFromURL(getter ContentGetter, linksURL, baseURL, prefix string) ([]string, error) {
	content, err := getter.Get(linksURL)
	if err != nil {
		return nil, fmt.Errorf("fetching links page %s: %w", linksURL, err)
	}
	var links []string
	for _, m := range hrefRe.FindAllStringSubmatch(string(content), -1) {
		link := m[1]
		if !strings.HasPrefix(link, prefix) || !pypi.HasAnySuffix(link, pypi.Extensions) {
			continue
		}
		if !strings.HasPrefix(link, "https://") {
			link = baseURL + link
		}
		links = append(links, link)
	}
	return links, nil
}

// findPypiLinks scrapes the download links off one per-name simple index
// page, stripping any #sha256= checksum fragment before the extension
// filter.
func findPypiLinks(getter ContentGetter, simpleURL, normalizedName string) ([]string, error) {
	pageURL := simpleURL + "/" + normalizedName
	content, err := getter.Get(pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetching index page %s: %w", pageURL, err)
	}
	var links []string
	for _, m := range hrefRe.FindAllStringSubmatch(string(content), -1) {
		link, _, _ := strings.Cut(m[1], "#sha256=")
		if !pypi.HasAnySuffix(link, pypi.Extensions) {
			continue
		}
		links = append(links, link)
	}
	return links, nil
}

// LinkForFilename returns the single link in links that ends with
// /filename. It fails when the filename is missing or appears more than
// once.
func LinkForFilename(filename string, links []string) (string, error) {
	var matches []string
	for _, link := range links {
		if strings.HasSuffix(link, "/"+filename) {
			matches = append(matches, link)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrLinkNotFound, filename)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("multiple links for filename %s: %s", filename, strings.Join(matches, ", "))
}
