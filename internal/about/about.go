// Package about reads and writes ABOUT provenance records: one flat YAML
// key/value document per artifact, stored as <artifact filename>.ABOUT next
// to the artifact, with optional .NOTICE and shared <key>.LICENSE companions.
package about

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/clean-dependency-project/wheelsync/internal/pypi"
)

// checksumKeys are stripped when deriving a record for a new artifact: the
// old checksums describe the old file.
var checksumKeys = []string{
	"checksum_md5", "checksum_sha1", "checksum_sha256", "checksum_sha512",
}

// Load parses an ABOUT YAML document into a generic mapping.
func Load(text []byte) (map[string]any, error) {
	data := map[string]any{}
	if err := yaml.Unmarshal(text, &data); err != nil {
		return nil, fmt.Errorf("parsing ABOUT data: %w", err)
	}
	return data, nil
}

// LoadFile parses the ABOUT file at path.
func LoadFile(path string) (map[string]any, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(text)
}

// Dump serializes an ABOUT mapping as flat YAML with keys in sorted order,
// dropping empty values. The sorted, filtered form is the canonical record
// layout; round-tripping a record is stable.
func Dump(data map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(data))
	for key := range data {
		if isEmptyValue(data[key]) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, key := range keys {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: key}
		valueNode := &yaml.Node{}
		if err := valueNode.Encode(data[key]); err != nil {
			return nil, fmt.Errorf("encoding ABOUT key %s: %w", key, err)
		}
		doc.Content = append(doc.Content, keyNode, valueNode)
	}
	return yaml.Marshal(doc)
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case int:
		return t == 0
	case int64:
		return t == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// ToAbout maps a distribution's fields to an ABOUT record. downloadURL is
// the URL the artifact can be fetched from; empty fields are dropped when
// the record is dumped.
func ToAbout(d *pypi.Distribution, downloadURL string) map[string]any {
	noticeFile := ""
	if strings.TrimSpace(d.NoticeText) != "" {
		noticeFile = d.NoticeFilename()
	}
	data := map[string]any{
		"about_resource":     d.Filename,
		"checksum_md5":       d.Md5,
		"checksum_sha1":      d.Sha1,
		"copyright":          d.Copyright,
		"description":        d.Description,
		"download_url":       downloadURL,
		"homepage_url":       d.HomepageURL,
		"license_expression": d.LicenseExpression,
		"name":               d.Name,
		"namespace":          d.Namespace,
		"notes":              d.Notes,
		"notice_file":        noticeFile,
		"package_url":        d.PackageURL(),
		"primary_language":   d.PrimaryLanguage,
		"qualifiers":         d.Qualifiers,
		"size":               d.Size,
		"subpath":            d.Subpath,
		"type":               d.Type,
		"version":            d.Version,
	}
	for key, value := range d.ExtraData {
		data[key] = value
	}
	return data
}

// SaveAboutAndNotice writes the distribution's .ABOUT record to destDir,
// plus its .NOTICE file when it carries notice text.
func SaveAboutAndNotice(d *pypi.Distribution, downloadURL, destDir string) error {
	text, err := Dump(ToAbout(d, downloadURL))
	if err != nil {
		return err
	}
	aboutPath := filepath.Join(destDir, d.AboutFilename())
	if err := os.WriteFile(aboutPath, text, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", aboutPath, err)
	}

	if strings.TrimSpace(d.NoticeText) != "" {
		noticePath := filepath.Join(destDir, d.NoticeFilename())
		if err := os.WriteFile(noticePath, []byte(d.NoticeText), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", noticePath, err)
		}
	}
	return nil
}

// ApplyToDistribution merges ABOUT data into a distribution. A notice_file
// reference is resolved to notice text from destDir; existing non-blank
// fields are kept, unknown keys land in ExtraData.
func ApplyToDistribution(d *pypi.Distribution, data map[string]any, destDir string) error {
	merged := make(map[string]any, len(data))
	for key, value := range data {
		merged[key] = value
	}

	if _, ok := merged["notice_text"]; !ok {
		if noticeFile, ok := merged["notice_file"].(string); ok && noticeFile != "" {
			noticeText, err := os.ReadFile(filepath.Join(destDir, noticeFile))
			if err != nil {
				return fmt.Errorf("reading notice file %s: %w", noticeFile, err)
			}
			merged["notice_text"] = string(noticeText)
		}
	}
	delete(merged, "notice_file")

	d.Update(merged, false, true)
	return nil
}

// Derive rewrites an existing ABOUT record for a new artifact of another
// name and version: checksums are stripped (they describe the old file) and
// the identity and download fields are replaced.
func Derive(aboutText []byte, newName, newVersion, newFilename, newDownloadURL string) ([]byte, error) {
	data, err := Load(aboutText)
	if err != nil {
		return nil, err
	}
	for _, key := range checksumKeys {
		delete(data, key)
	}
	data["about_resource"] = newFilename
	data["name"] = pypi.NormalizeName(newName)
	data["version"] = newVersion
	data["download_url"] = newDownloadURL
	return Dump(data)
}

// AboutFiles returns the path of every .ABOUT file in dir.
func AboutFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ABOUT") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

// AboutDatas loads every .ABOUT record in dir.
func AboutDatas(dir string) ([]map[string]any, error) {
	files, err := AboutFiles(dir)
	if err != nil {
		return nil, err
	}
	var datas []map[string]any
	for _, file := range files {
		data, err := LoadFile(file)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", file, err)
		}
		datas = append(datas, data)
	}
	return datas, nil
}

// LicenseKeys returns the sorted, deduplicated license keys referenced by
// a record: explicit license list entries first, then keys split out of the
// license expression.
func LicenseKeys(data map[string]any) []string {
	seen := map[string]bool{}
	var keys []string
	add := func(key string) {
		if key != "" && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	if licenses, ok := data["licenses"].([]any); ok {
		for _, item := range licenses {
			if entry, ok := item.(map[string]any); ok {
				key, _ := entry["key"].(string)
				add(key)
			}
		}
	}
	for _, key := range KeysFromExpression(stringValue(data, "license_expression")) {
		add(key)
	}
	sort.Strings(keys)
	return keys
}

// KeysFromExpression splits the license keys out of a license expression:
// lowercase, parentheses dropped, the and/or/with operators removed.
func KeysFromExpression(expression string) []string {
	cleaned := strings.ToLower(expression)
	cleaned = strings.ReplaceAll(cleaned, "(", " ")
	cleaned = strings.ReplaceAll(cleaned, ")", " ")
	cleaned = strings.ReplaceAll(cleaned, " and ", " ")
	cleaned = strings.ReplaceAll(cleaned, " or ", " ")
	cleaned = strings.ReplaceAll(cleaned, " with ", " ")
	return strings.Fields(cleaned)
}

// LicenseFilenames returns the <key>.LICENSE filename for every license key
// a record references.
func LicenseFilenames(data map[string]any) []string {
	var filenames []string
	for _, key := range LicenseKeys(data) {
		filenames = append(filenames, key+".LICENSE")
	}
	return filenames
}

// LicenseAndNoticeFilenames returns every license and notice filename a
// record references: derived <key>.LICENSE names, explicit license file
// entries, and the notice_file, sorted and deduplicated.
func LicenseAndNoticeFilenames(data map[string]any) []string {
	seen := map[string]bool{}
	var filenames []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			filenames = append(filenames, name)
		}
	}

	for _, name := range LicenseFilenames(data) {
		add(name)
	}
	if licenses, ok := data["licenses"].([]any); ok {
		for _, item := range licenses {
			if entry, ok := item.(map[string]any); ok {
				file, _ := entry["file"].(string)
				add(file)
			}
		}
	}
	add(stringValue(data, "notice_file"))

	sort.Strings(filenames)
	return filenames
}

func stringValue(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
