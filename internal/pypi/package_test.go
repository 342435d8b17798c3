package pypi

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustDist(t *testing.T, filename string) *Distribution {
	t.Helper()
	dist, err := FromFilename(filename)
	if err != nil {
		t.Fatalf("FromFilename(%q) error: %v", filename, err)
	}
	return dist
}

func TestPackageFromDists(t *testing.T) {
	pkg, err := PackageFromDists([]*Distribution{
		mustDist(t, "bitarray-0.8.1-cp36-cp36m-linux_x86_64.whl"),
		mustDist(t, "bitarray-0.8.1.tar.gz"),
		mustDist(t, "bitarray-0.8.1-cp37-cp37m-linux_x86_64.whl"),
	})
	if err != nil {
		t.Fatalf("PackageFromDists error: %v", err)
	}
	if pkg.Name != "bitarray" || pkg.Version != "0.8.1" {
		t.Errorf("package is %s, want bitarray-0.8.1", pkg.NameVersion())
	}
	if pkg.Sdist == nil {
		t.Error("sdist not set")
	}
	if len(pkg.Wheels) != 2 {
		t.Errorf("got %d wheels, want 2", len(pkg.Wheels))
	}
}

func TestPackageFromDistsInconsistent(t *testing.T) {
	_, err := PackageFromDists([]*Distribution{
		mustDist(t, "bitarray-0.8.1.tar.gz"),
		mustDist(t, "six-1.15.0-py2.py3-none-any.whl"),
	})
	if err == nil || !strings.Contains(err.Error(), "inconsistent package") {
		t.Errorf("mismatched names: err = %v", err)
	}

	_, err = PackageFromDists([]*Distribution{
		mustDist(t, "bitarray-0.8.1.tar.gz"),
		mustDist(t, "bitarray-0.8.1.zip"),
	})
	if err == nil || !strings.Contains(err.Error(), "multiple sdists") {
		t.Errorf("two sdists: err = %v", err)
	}
}

func TestPackagesFromDists(t *testing.T) {
	packages := PackagesFromDists([]*Distribution{
		mustDist(t, "six-1.15.0-py2.py3-none-any.whl"),
		mustDist(t, "bitarray-0.8.1.tar.gz"),
		mustDist(t, "bitarray-1.0.1.tar.gz"),
		mustDist(t, "bitarray-0.8.1-cp36-cp36m-linux_x86_64.whl"),
	})
	if len(packages) != 3 {
		t.Fatalf("got %d packages, want 3", len(packages))
	}
	// Sorted by normalized name then parsed version.
	if packages[0].NameVersion() != "bitarray-0.8.1" {
		t.Errorf("packages[0] = %s", packages[0].NameVersion())
	}
	if packages[1].NameVersion() != "bitarray-1.0.1" {
		t.Errorf("packages[1] = %s", packages[1].NameVersion())
	}
	if packages[2].NameVersion() != "six-1.15.0" {
		t.Errorf("packages[2] = %s", packages[2].NameVersion())
	}
	if packages[0].Sdist == nil || len(packages[0].Wheels) != 1 {
		t.Error("bitarray-0.8.1 grouping is wrong")
	}
}

func TestLatestPackage(t *testing.T) {
	packages := PackagesFromDists([]*Distribution{
		mustDist(t, "bitarray-0.8.1.tar.gz"),
		mustDist(t, "bitarray-1.0.10.tar.gz"),
		mustDist(t, "bitarray-1.0.2.tar.gz"),
	})
	latest := LatestPackage(packages, "BitArray")
	if latest == nil || latest.Version != "1.0.10" {
		t.Errorf("LatestPackage = %v, want 1.0.10", latest)
	}
	if LatestPackage(packages, "absent") != nil {
		t.Error("LatestPackage for an absent name should be nil")
	}
}

func TestPackageWithNameVersion(t *testing.T) {
	packages := PackagesFromDists([]*Distribution{
		mustDist(t, "bitarray-0.8.1.tar.gz"),
		mustDist(t, "bitarray-1.0.1.tar.gz"),
	})
	pkg, err := PackageWithNameVersion(packages, "bitarray", "1.0.1")
	if err != nil || pkg == nil || pkg.Version != "1.0.1" {
		t.Errorf("PackageWithNameVersion = %v, %v", pkg, err)
	}
	pkg, err = PackageWithNameVersion(packages, "bitarray", "9.9.9")
	if err != nil || pkg != nil {
		t.Errorf("absent version: got %v, %v", pkg, err)
	}

	dup := append(packages, packages[1])
	if _, err := PackageWithNameVersion(dup, "bitarray", "1.0.1"); err == nil {
		t.Error("duplicate package should be an error")
	}
}

func TestSupportedWheels(t *testing.T) {
	pkg, err := PackageFromDists([]*Distribution{
		mustDist(t, "bitarray-1.0.1-cp38-cp38-manylinux1_x86_64.whl"),
		mustDist(t, "bitarray-1.0.1-cp38-cp38-win_amd64.whl"),
		mustDist(t, "bitarray-1.0.1-cp37-cp37m-manylinux1_x86_64.whl"),
	})
	if err != nil {
		t.Fatal(err)
	}
	env, _ := NewEnvironment("38", "linux")
	wheels := pkg.SupportedWheels(env)
	if len(wheels) != 1 {
		t.Fatalf("got %d supported wheels, want 1", len(wheels))
	}
	if wheels[0].Platforms[0] != "manylinux1_x86_64" {
		t.Errorf("wrong wheel selected: %v", wheels[0].Filename)
	}
}

type recordingFetcher struct {
	fetched []string
	fail    error
}

func (f *recordingFetcher) FetchAndSave(pathOrURL, filename, destDir string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.fetched = append(f.fetched, filename)
	return filepath.Join(destDir, filename), nil
}

func TestFetchWheelFirstMatchWins(t *testing.T) {
	pkg, err := PackageFromDists([]*Distribution{
		mustDist(t, "bitarray-1.0.1-cp38-cp38-linux_x86_64.whl"),
		mustDist(t, "bitarray-1.0.1-cp38-cp38-manylinux1_x86_64.whl"),
	})
	if err != nil {
		t.Fatal(err)
	}
	env, _ := NewEnvironment("38", "linux")
	fetcher := &recordingFetcher{}
	filename, err := pkg.FetchWheel(fetcher, env, t.TempDir())
	if err != nil {
		t.Fatalf("FetchWheel error: %v", err)
	}
	if filename != "bitarray-1.0.1-cp38-cp38-linux_x86_64.whl" {
		t.Errorf("fetched %q, want the first supported wheel", filename)
	}
	if len(fetcher.fetched) != 1 {
		t.Errorf("fetched %d wheels, want 1", len(fetcher.fetched))
	}
}

func TestFetchWheelNoMatch(t *testing.T) {
	pkg, err := PackageFromDists([]*Distribution{
		mustDist(t, "bitarray-1.0.1-cp38-cp38-win_amd64.whl"),
	})
	if err != nil {
		t.Fatal(err)
	}
	env, _ := NewEnvironment("38", "linux")
	filename, err := pkg.FetchWheel(&recordingFetcher{}, env, t.TempDir())
	if err != nil || filename != "" {
		t.Errorf("FetchWheel = %q, %v, want empty with no error", filename, err)
	}
}

func TestFetchSdist(t *testing.T) {
	pkg, err := PackageFromDists([]*Distribution{
		mustDist(t, "bitarray-1.0.1.tar.gz"),
	})
	if err != nil {
		t.Fatal(err)
	}
	fetcher := &recordingFetcher{}
	filename, err := pkg.FetchSdist(fetcher, t.TempDir())
	if err != nil || filename != "bitarray-1.0.1.tar.gz" {
		t.Errorf("FetchSdist = %q, %v", filename, err)
	}

	wheelsOnly, _ := PackageFromDists([]*Distribution{
		mustDist(t, "six-1.15.0-py2.py3-none-any.whl"),
	})
	filename, err = wheelsOnly.FetchSdist(fetcher, t.TempDir())
	if err != nil || filename != "" {
		t.Errorf("FetchSdist without sdist = %q, %v, want empty with no error", filename, err)
	}
}

func TestDeleteFiles(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"six-1.15.0-py2.py3-none-any.whl",
		"six-1.15.0-py2.py3-none-any.whl.ABOUT",
		"six-1.15.0-py2.py3-none-any.whl.NOTICE",
		"mit.LICENSE",
	}
	for _, name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	pkg, err := PackageFromDists([]*Distribution{
		mustDist(t, "six-1.15.0-py2.py3-none-any.whl"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := pkg.DeleteFiles(dir); err != nil {
		t.Fatalf("DeleteFiles error: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "mit.LICENSE" {
		t.Errorf("remaining entries: %v, want only mit.LICENSE", entries)
	}
	// Deleting again is a no-op.
	if err := pkg.DeleteFiles(dir); err != nil {
		t.Errorf("second DeleteFiles error: %v", err)
	}
}

func TestPackagesFromLocations(t *testing.T) {
	packages := PackagesFromLocations([]string{
		"https://example.com/six-1.15.0-py2.py3-none-any.whl",
		"https://example.com/six-1.15.0.tar.gz",
		"https://example.com/README.txt",
		"https://example.com/broken.whl",
	}, nil)
	if len(packages) != 1 {
		t.Fatalf("got %d packages, want 1", len(packages))
	}
	pkg := packages[0]
	if pkg.Sdist == nil || len(pkg.Wheels) != 1 {
		t.Errorf("six grouping is wrong: sdist=%v wheels=%d", pkg.Sdist, len(pkg.Wheels))
	}
}

func TestURLForFilename(t *testing.T) {
	packages := PackagesFromLocations([]string{
		"https://example.com/six-1.15.0-py2.py3-none-any.whl",
	}, nil)
	pkg := packages[0]
	if got := pkg.URLForFilename("six-1.15.0-py2.py3-none-any.whl"); got != "https://example.com/six-1.15.0-py2.py3-none-any.whl" {
		t.Errorf("URLForFilename = %q", got)
	}
	if got := pkg.URLForFilename("absent.whl"); got != "" {
		t.Errorf("URLForFilename for absent file = %q, want empty", got)
	}
}
