package pypi

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/clean-dependency-project/wheelsync/internal/pep425"
)

// Known artifact filename suffixes.
var (
	ExtensionsApp         = []string{".pyz"}
	ExtensionsSdist       = []string{".tar.gz", ".tar.bz2", ".zip", ".tar.xz"}
	ExtensionsInstallable = append(append([]string{}, ExtensionsSdist...), ".whl")
	ExtensionsAbout       = []string{".ABOUT", ".LICENSE", ".NOTICE"}
	ExtensionsSignature   = []string{".asc"}
	Extensions            = appendAll(ExtensionsInstallable, ExtensionsAbout, ExtensionsApp, ExtensionsSignature)
)

func appendAll(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// HasAnySuffix reports whether s ends with any of the given suffixes.
func HasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

// InvalidFilenameError reports a filename that matches no known
// distribution grammar. Indexing treats it as recoverable: the offending
// entry is skipped and logged, not fatal to the batch.
type InvalidFilenameError struct {
	Filename string
}

func (e InvalidFilenameError) Error() string {
	return fmt.Sprintf("invalid distribution filename: %s", e.Filename)
}

// Kind discriminates the two closed distribution variants.
type Kind string

const (
	KindSdist Kind = "sdist"
	KindWheel Kind = "wheel"
)

// LicenseEntry is one license reference in a provenance record.
type LicenseEntry struct {
	Key  string `yaml:"key,omitempty"`
	File string `yaml:"file,omitempty"`
}

// Distribution is a single installable artifact: a source distribution or a
// built wheel, identified by and created from its filename. The Kind field
// discriminates the variant; the wheel-only and sdist-only fields are only
// meaningful for their variant. Within a repository the filename is the sole
// identity key.
type Distribution struct {
	NameVer

	Kind      Kind
	Filename  string
	PathOrURL string

	Sha1 string
	Md5  string
	Size int64

	// Package identity (purl-shaped).
	Type       string
	Namespace  string
	Qualifiers string
	Subpath    string

	// Provenance.
	PrimaryLanguage   string
	Description       string
	HomepageURL       string
	Notes             string
	Copyright         string
	LicenseExpression string
	Licenses          []LicenseEntry
	NoticeText        string

	// ExtraData keeps unrecognized provenance keys losslessly.
	ExtraData map[string]string

	// Sdist only: archive extension including the leading dot.
	Extension string

	// Wheel only.
	Build          string
	PythonVersions []string
	ABIs           []string
	Platforms      []string
}

// wheelFileRe is the five-part wheel filename grammar:
// name-version(-build)?-pythontags-abitags-platformtags.whl
var wheelFileRe = regexp.MustCompile(
	`^(?P<name>.+?)-(?P<ver>.*?)` +
		`((-(?P<build>\d[^-]*?))?-(?P<pyvers>.+?)-(?P<abis>.+?)-(?P<plats>.+?)\.whl)$`)

// FromFilename parses a filename into a Distribution, selecting the sdist or
// wheel grammar by suffix. Returns an InvalidFilenameError if the filename
// matches no known grammar.
func FromFilename(filename string) (*Distribution, error) {
	switch {
	case strings.HasSuffix(filename, ".whl"):
		return wheelFromFilename(filename)
	case HasAnySuffix(filename, ExtensionsSdist):
		return sdistFromFilename(filename)
	}
	return nil, InvalidFilenameError{Filename: filename}
}

// FromPathOrURL parses the basename of a local path or URL and records the
// location the distribution was discovered at.
func FromPathOrURL(pathOrURL string) (*Distribution, error) {
	dist, err := FromFilename(BaseName(pathOrURL))
	if err != nil {
		return nil, err
	}
	dist.PathOrURL = pathOrURL
	return dist, nil
}

// BaseName returns the last path segment of a path or URL, ignoring any
// trailing slashes.
func BaseName(pathOrURL string) string {
	return path.Base("/" + strings.Trim(strings.ReplaceAll(pathOrURL, "\\", "/"), "/"))
}

func sdistFromFilename(filename string) (*Distribution, error) {
	var extension string
	for _, ext := range ExtensionsSdist {
		if strings.HasSuffix(filename, ext) {
			extension = ext
			break
		}
	}
	nameVer := strings.TrimSuffix(filename, extension)
	if extension == "" || nameVer == "" {
		return nil, InvalidFilenameError{Filename: filename}
	}

	i := strings.LastIndex(nameVer, "-")
	if i <= 0 || i == len(nameVer)-1 {
		return nil, InvalidFilenameError{Filename: filename}
	}

	return &Distribution{
		NameVer:         NameVer{Name: nameVer[:i], Version: nameVer[i+1:]},
		Kind:            KindSdist,
		Filename:        filename,
		Extension:       extension,
		Type:            "pypi",
		PrimaryLanguage: "Python",
	}, nil
}

func wheelFromFilename(filename string) (*Distribution, error) {
	m := wheelFileRe.FindStringSubmatch(filename)
	if m == nil {
		return nil, InvalidFilenameError{Filename: filename}
	}
	group := func(name string) string { return m[wheelFileRe.SubexpIndex(name)] }

	// Underscores stand in for dashes in the wheel naming scheme.
	name := strings.ReplaceAll(group("name"), "_", "-")
	version := strings.ReplaceAll(group("ver"), "_", "-")
	if name == "" || version == "" {
		return nil, InvalidFilenameError{Filename: filename}
	}

	return &Distribution{
		NameVer:         NameVer{Name: name, Version: version},
		Kind:            KindWheel,
		Filename:        filename,
		Build:           group("build"),
		PythonVersions:  strings.Split(group("pyvers"), "."),
		ABIs:            strings.Split(group("abis"), "."),
		Platforms:       strings.Split(group("plats"), "."),
		Type:            "pypi",
		PrimaryLanguage: "Python",
	}, nil
}

// ToFilename reconstructs a filename from the distribution fields. The result
// is equivalent and re-parseable but not guaranteed byte-identical to the
// original (separators are normalized).
func (d *Distribution) ToFilename() string {
	if d.Kind == KindSdist {
		return fmt.Sprintf("%s-%s%s", d.Name, d.Version, d.Extension)
	}
	build := ""
	if d.Build != "" {
		build = "-" + d.Build
	}
	return fmt.Sprintf("%s-%s%s-%s-%s-%s.whl",
		strings.ReplaceAll(d.Name, "-", "_"),
		strings.ReplaceAll(d.Version, "-", "_"),
		build,
		strings.Join(d.PythonVersions, "."),
		strings.Join(d.ABIs, "."),
		strings.Join(d.Platforms, "."),
	)
}

// Tags returns every concrete compatibility tag this wheel declares: the
// cartesian product of its python version, ABI and platform tag lists. The
// set is recomputed from the lists on each call. Empty for sdists.
func (d *Distribution) Tags() []pep425.Tag {
	if d.Kind != KindWheel {
		return nil
	}
	return pep425.Product(d.PythonVersions, d.ABIs, d.Platforms)
}

// IsSupportedByTags reports whether this wheel's tag set intersects the
// given tags. One overlapping triple is sufficient.
func (d *Distribution) IsSupportedByTags(tags []pep425.Tag) bool {
	return pep425.Intersect(d.Tags(), tags)
}

// IsSupportedBy reports whether this wheel can be installed in env.
func (d *Distribution) IsSupportedBy(env *Environment) bool {
	return d.IsSupportedByTags(env.Tags())
}

// IsPure reports whether this wheel runs on every Python 3 and every OS,
// i.e. it declares the py3-none-any wildcard triple.
func (d *Distribution) IsPure() bool {
	return d.Kind == KindWheel &&
		contains(d.PythonVersions, "py3") &&
		contains(d.ABIs, "none") &&
		contains(d.Platforms, "any")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// PackageURL returns the purl for this distribution.
func (d *Distribution) PackageURL() string {
	typ := d.Type
	if typ == "" {
		typ = "pypi"
	}
	var b strings.Builder
	b.WriteString("pkg:" + typ + "/")
	if d.Namespace != "" {
		b.WriteString(d.Namespace + "/")
	}
	b.WriteString(d.NormalizedName())
	if d.Version != "" {
		b.WriteString("@" + d.Version)
	}
	if d.Qualifiers != "" {
		b.WriteString("?" + d.Qualifiers)
	}
	if d.Subpath != "" {
		b.WriteString("#" + d.Subpath)
	}
	return b.String()
}

// AboutFilename returns the companion provenance record filename.
func (d *Distribution) AboutFilename() string {
	return d.Filename + ".ABOUT"
}

// NoticeFilename returns the companion notice text filename.
func (d *Distribution) NoticeFilename() string {
	return d.Filename + ".NOTICE"
}

// RemoteDownloadURL builds a direct download URL for a filename under the
// remote repository base URL.
func RemoteDownloadURL(baseURL, filename string) string {
	return strings.TrimRight(baseURL, "/") + "/" + filename
}

// DownloadURL returns the distribution's own URL when it was discovered
// remotely, or a URL constructed under remoteBaseURL otherwise.
func (d *Distribution) DownloadURL(remoteBaseURL string) string {
	if strings.HasPrefix(d.PathOrURL, "https://") {
		return d.PathOrURL
	}
	return RemoteDownloadURL(remoteBaseURL, d.Filename)
}

// Update merges a mapping of provenance data into the distribution and
// reports whether anything changed. For each non-blank value: a known field
// is set only when currently unset, or when overwrite is true and the values
// differ. Unknown keys are kept in ExtraData (always overwritten) when
// keepExtra is true. This is the single metadata-combination primitive used
// everywhere provenance is enriched.
func (d *Distribution) Update(data map[string]any, overwrite, keepExtra bool) bool {
	updated := false

	setString := func(target *string, v string) {
		if *target == "" || (overwrite && *target != v) {
			*target = v
			updated = true
		}
	}

	for key, raw := range data {
		if key == "licenses" {
			if entries := asLicenseEntries(raw); len(entries) > 0 {
				if len(d.Licenses) == 0 || overwrite {
					d.Licenses = entries
					updated = true
				}
			}
			continue
		}

		value := strings.TrimSpace(stringify(raw))
		if value == "" {
			continue
		}

		switch key {
		case "name":
			setString(&d.Name, value)
		case "version":
			setString(&d.Version, value)
		case "about_resource", "filename":
			setString(&d.Filename, value)
		case "download_url", "path_or_url":
			setString(&d.PathOrURL, value)
		case "sha1", "checksum_sha1":
			setString(&d.Sha1, value)
		case "md5", "checksum_md5":
			setString(&d.Md5, value)
		case "size":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				if d.Size == 0 || (overwrite && d.Size != n) {
					d.Size = n
					updated = true
				}
			}
		case "type":
			setString(&d.Type, value)
		case "namespace":
			setString(&d.Namespace, value)
		case "qualifiers":
			setString(&d.Qualifiers, value)
		case "subpath":
			setString(&d.Subpath, value)
		case "primary_language":
			setString(&d.PrimaryLanguage, value)
		case "description":
			setString(&d.Description, value)
		case "homepage_url":
			setString(&d.HomepageURL, value)
		case "notes":
			setString(&d.Notes, value)
		case "copyright":
			setString(&d.Copyright, value)
		case "license_expression":
			setString(&d.LicenseExpression, value)
		case "notice_text":
			setString(&d.NoticeText, value)
		case "package_url", "notice_file":
			// Derived fields, never stored directly.
		default:
			if keepExtra {
				if d.ExtraData == nil {
					d.ExtraData = map[string]string{}
				}
				d.ExtraData[key] = value
				updated = true
			}
		}
	}
	return updated
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asLicenseEntries(v any) []LicenseEntry {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var entries []LicenseEntry
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entries = append(entries, LicenseEntry{
			Key:  stringify(m["key"]),
			File: stringify(m["file"]),
		})
	}
	return entries
}
