// Package requirements reads and rewrites pinned pip requirements files:
// ordered name==version lines, one requirement per line.
package requirements

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/clean-dependency-project/wheelsync/internal/pypi"
)

// ErrNotPinned reports a requirement line without an exact ==version pin.
var ErrNotPinned = errors.New("requirement is not pinned")

// Load returns the ordered (name, version) pairs of a requirements file.
// Comments, blank lines and pip option lines are skipped. When forcePinned
// is set, any requirement without an exact pin is an error; otherwise it is
// returned with an empty version.
func Load(path string, forcePinned bool) ([]pypi.NameVer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	var reqs []pypi.NameVer
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		// Drop an inline comment and any environment marker.
		if i := strings.IndexAny(line, "#;"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}

		name, version, pinned := strings.Cut(line, "==")
		name = strings.TrimSpace(name)
		version = strings.TrimSpace(version)
		if !pinned || version == "" {
			if forcePinned {
				return nil, fmt.Errorf("%w: %s", ErrNotPinned, line)
			}
			version = ""
		}
		reqs = append(reqs, pypi.NameVer{Name: name, Version: version})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return reqs, nil
}

// Update rewrites the requirements file, pinning name to version. The file
// order is preserved; an absent name is appended. Returns whether the file
// changed.
func Update(path, name, version string) (bool, error) {
	reqs, err := Load(path, false)
	if err != nil {
		return false, err
	}

	normalized := pypi.NormalizeName(name)
	changed := false
	found := false
	for i, req := range reqs {
		if req.NormalizedName() != normalized {
			continue
		}
		found = true
		if req.Version != version {
			reqs[i].Version = version
			changed = true
		}
	}
	if !found {
		reqs = append(reqs, pypi.NameVer{Name: name, Version: version})
		changed = true
	}
	if !changed {
		return false, nil
	}

	var b strings.Builder
	for _, req := range reqs {
		b.WriteString(req.Specifier())
		b.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}
