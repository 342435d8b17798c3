package sync

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/gopenpgp/v2/crypto"

	"github.com/clean-dependency-project/wheelsync/internal/about"
	"github.com/clean-dependency-project/wheelsync/internal/fetch"
	"github.com/clean-dependency-project/wheelsync/internal/pypi"
	"github.com/clean-dependency-project/wheelsync/internal/repo"
	"github.com/clean-dependency-project/wheelsync/internal/requirements"
	"github.com/clean-dependency-project/wheelsync/internal/storage"
	"github.com/clean-dependency-project/wheelsync/internal/verify"
)

// fakeStore records fetch audits in memory.
type fakeStore struct {
	records []*storage.Fetch
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) RecordFetch(record *storage.Fetch) error {
	f.records = append(f.records, record)
	return nil
}

func (f *fakeStore) GetFetch(filename string) (*storage.Fetch, error) {
	for _, record := range f.records {
		if record.Filename == filename {
			return record, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) IsAlreadyFetched(filename string) (bool, error) {
	_, err := f.GetFetch(filename)
	return err == nil, nil
}

func (f *fakeStore) UpdateChecksums(id uint, md5, sha1 string, size int64) error {
	return nil
}

func (f *fakeStore) ListAll() ([]*storage.Fetch, error) { return f.records, nil }

func (f *fakeStore) ListByName(name string) ([]*storage.Fetch, error) { return nil, nil }

func (f *fakeStore) ListByNameVersion(name, version string) ([]*storage.Fetch, error) {
	return nil, nil
}

func (f *fakeStore) GetStats() (map[string]interface{}, error) { return nil, nil }

// newTestSyncer builds a syncer over a directory-backed remote repository.
// Local paths go straight through the fetcher, so no network is involved.
func newTestSyncer(t *testing.T, remoteDir string) *Syncer {
	t.Helper()
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	remote, err := repo.NewLinksRepository(repo.LinksConfig{PathOrURL: remoteDir}, nil)
	if err != nil {
		t.Fatalf("NewLinksRepository error: %v", err)
	}
	return &Syncer{
		DestDir: t.TempDir(),
		Remote:  remote,
		Fetcher: fetch.NewClient(fetch.Config{CacheDir: t.TempDir()}),
		Stdout:  discard,
		Stderr:  discard,
	}
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func fileExists(t *testing.T, dir, name string) bool {
	t.Helper()
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func TestLocalPackages(t *testing.T) {
	s := newTestSyncer(t, t.TempDir())
	writeFiles(t, s.DestDir, map[string]string{
		"six-1.15.0-py2.py3-none-any.whl": "wheel",
		"six-1.15.0.tar.gz":               "sdist",
		"bitarray-1.0.1.tar.gz":           "sdist",
		"mit.LICENSE":                     "license",
	})
	packages, err := s.LocalPackages()
	if err != nil {
		t.Fatalf("LocalPackages error: %v", err)
	}
	if len(packages) != 2 {
		t.Fatalf("LocalPackages = %d packages, want 2", len(packages))
	}
}

func TestAddMissingSources(t *testing.T) {
	remoteDir := t.TempDir()
	writeFiles(t, remoteDir, map[string]string{
		"six-1.15.0.tar.gz":               "six sdist",
		"six-1.15.0-py2.py3-none-any.whl": "six wheel",
	})

	s := newTestSyncer(t, remoteDir)
	writeFiles(t, s.DestDir, map[string]string{
		"six-1.15.0-py2.py3-none-any.whl":        "six wheel",
		"orphan-9.9-py2.py3-none-any.whl":        "orphan wheel",
		"bitarray-1.0.1-cp38-cp38-win_amd64.whl": "bitarray wheel",
	})

	notFound, err := s.AddMissingSources()
	if err != nil {
		t.Fatalf("AddMissingSources error: %v", err)
	}
	if !fileExists(t, s.DestDir, "six-1.15.0.tar.gz") {
		t.Error("six sdist not fetched")
	}
	if len(notFound) != 2 {
		t.Fatalf("notFound = %v, want 2 entries", notFound)
	}
}

func TestAddMissingSourcesAlreadyPresent(t *testing.T) {
	s := newTestSyncer(t, t.TempDir())
	writeFiles(t, s.DestDir, map[string]string{
		"six-1.15.0.tar.gz": "six sdist",
	})
	notFound, err := s.AddMissingSources()
	if err != nil || len(notFound) != 0 {
		t.Errorf("AddMissingSources = %v, %v, want no misses", notFound, err)
	}
}

func TestFetchMissingWheels(t *testing.T) {
	remoteDir := t.TempDir()
	writeFiles(t, remoteDir, map[string]string{
		"six-1.15.0-py2.py3-none-any.whl": "six wheel",
	})

	s := newTestSyncer(t, remoteDir)
	writeFiles(t, s.DestDir, map[string]string{
		"six-1.15.0.tar.gz":     "six sdist",
		"bitarray-1.0.1.tar.gz": "bitarray sdist",
	})

	missing, err := s.FetchMissingWheels([]string{"38"}, []string{"linux", "windows"})
	if err != nil {
		t.Fatalf("FetchMissingWheels error: %v", err)
	}
	if !fileExists(t, s.DestDir, "six-1.15.0-py2.py3-none-any.whl") {
		t.Error("six wheel not fetched")
	}
	// bitarray has no wheel in any repository: one miss per environment.
	if len(missing) != 2 {
		t.Fatalf("missing = %d combinations, want 2", len(missing))
	}
	for _, m := range missing {
		if m.Package.Name != "bitarray" {
			t.Errorf("unexpected miss for %s", m.Package.NameVersion())
		}
	}
}

func TestAddMissingSourcesContinuesAfterFetchFault(t *testing.T) {
	remoteDir := t.TempDir()
	writeFiles(t, remoteDir, map[string]string{
		"alpha-1.0.tar.gz": "alpha sdist",
		"omega-2.0.tar.gz": "omega sdist",
	})

	s := newTestSyncer(t, remoteDir)
	// Both sdists are indexed; losing one afterwards makes its fetch fail.
	if err := os.Remove(filepath.Join(remoteDir, "alpha-1.0.tar.gz")); err != nil {
		t.Fatal(err)
	}
	writeFiles(t, s.DestDir, map[string]string{
		"alpha-1.0-py2.py3-none-any.whl": "alpha wheel",
		"omega-2.0-py2.py3-none-any.whl": "omega wheel",
	})

	notFound, err := s.AddMissingSources()
	if err != nil {
		t.Fatalf("AddMissingSources error: %v", err)
	}
	if len(notFound) != 1 || notFound[0].Name != "alpha" {
		t.Errorf("notFound = %v, want only alpha-1.0", notFound)
	}
	if !fileExists(t, s.DestDir, "omega-2.0.tar.gz") {
		t.Error("omega sdist not fetched after the alpha fault")
	}
}

func TestFetchMissingWheelsContinuesAfterFetchFault(t *testing.T) {
	remoteDir := t.TempDir()
	writeFiles(t, remoteDir, map[string]string{
		"alpha-1.0-py3-none-any.whl": "alpha wheel",
		"omega-2.0-py3-none-any.whl": "omega wheel",
	})

	s := newTestSyncer(t, remoteDir)
	if err := os.Remove(filepath.Join(remoteDir, "alpha-1.0-py3-none-any.whl")); err != nil {
		t.Fatal(err)
	}
	writeFiles(t, s.DestDir, map[string]string{
		"alpha-1.0.tar.gz": "alpha sdist",
		"omega-2.0.tar.gz": "omega sdist",
	})

	missing, err := s.FetchMissingWheels([]string{"38"}, []string{"linux"})
	if err != nil {
		t.Fatalf("FetchMissingWheels error: %v", err)
	}
	if len(missing) != 1 || missing[0].Package.Name != "alpha" {
		t.Errorf("missing = %v, want only the alpha combination", missing)
	}
	if !fileExists(t, s.DestDir, "omega-2.0-py3-none-any.whl") {
		t.Error("omega wheel not fetched after the alpha fault")
	}
}

func TestFetchMissingWheelsSatisfiedLocally(t *testing.T) {
	s := newTestSyncer(t, t.TempDir())
	writeFiles(t, s.DestDir, map[string]string{
		"six-1.15.0-py2.py3-none-any.whl": "six wheel",
	})
	missing, err := s.FetchMissingWheels([]string{"36", "39"}, []string{"linux", "macos", "windows"})
	if err != nil || len(missing) != 0 {
		t.Errorf("FetchMissingWheels = %v, %v, want no misses for a pure wheel", missing, err)
	}
}

func TestFetchMissingWheelsBadMatrix(t *testing.T) {
	s := newTestSyncer(t, t.TempDir())
	if _, err := s.FetchMissingWheels([]string{"27"}, []string{"linux"}); err == nil {
		t.Error("expected an error for an unsupported python version")
	}
}

func TestFetchAbouts(t *testing.T) {
	remoteDir := t.TempDir()
	writeFiles(t, remoteDir, map[string]string{
		"six-1.15.0.tar.gz":       "six sdist",
		"six-1.15.0.tar.gz.ABOUT": "name: six\nversion: 1.15.0\n",
	})

	s := newTestSyncer(t, remoteDir)
	writeFiles(t, s.DestDir, map[string]string{
		"six-1.15.0.tar.gz":     "six sdist",
		"bitarray-1.0.1.tar.gz": "bitarray sdist",
	})

	errs := s.FetchAbouts()
	if !fileExists(t, s.DestDir, "six-1.15.0.tar.gz.ABOUT") {
		t.Error("six ABOUT not fetched")
	}
	// bitarray has no ABOUT in the remote repository.
	if len(errs) != 1 || !strings.Contains(errs[0], "bitarray-1.0.1.tar.gz.ABOUT") {
		t.Errorf("errs = %v", errs)
	}
}

func TestAddMissingAboutFilesSkinnyRecord(t *testing.T) {
	s := newTestSyncer(t, t.TempDir())
	s.RemoteBaseURL = "https://example.com/releases"
	writeFiles(t, s.DestDir, map[string]string{
		"six-1.15.0.tar.gz": "six sdist",
	})

	if err := s.AddMissingAboutFiles(); err != nil {
		t.Fatalf("AddMissingAboutFiles error: %v", err)
	}
	data, err := about.LoadFile(filepath.Join(s.DestDir, "six-1.15.0.tar.gz.ABOUT"))
	if err != nil {
		t.Fatalf("skinny record not written: %v", err)
	}
	if data["name"] != "six" || data["version"] != "1.15.0" {
		t.Errorf("record = %v", data)
	}
	if data["download_url"] != "https://example.com/releases/six-1.15.0.tar.gz" {
		t.Errorf("download_url = %v", data["download_url"])
	}
	if data["primary_language"] != "Python" {
		t.Errorf("primary_language = %v", data["primary_language"])
	}
}

func TestFixAboutChecksums(t *testing.T) {
	s := newTestSyncer(t, t.TempDir())
	aboutText, err := about.Dump(map[string]any{
		"about_resource": "six-1.15.0.tar.gz",
		"name":           "six",
		"version":        "1.15.0",
		"checksum_md5":   "stale",
		"checksum_sha1":  "stale",
	})
	if err != nil {
		t.Fatal(err)
	}
	writeFiles(t, s.DestDir, map[string]string{
		"six-1.15.0.tar.gz":       "abc",
		"six-1.15.0.tar.gz.ABOUT": string(aboutText),
	})

	if err := s.FixAboutChecksums(); err != nil {
		t.Fatalf("FixAboutChecksums error: %v", err)
	}
	data, err := about.LoadFile(filepath.Join(s.DestDir, "six-1.15.0.tar.gz.ABOUT"))
	if err != nil {
		t.Fatal(err)
	}
	if data["checksum_md5"] != "900150983cd24fb0d6963f7d28e17f72" {
		t.Errorf("checksum_md5 = %v", data["checksum_md5"])
	}
	if data["checksum_sha1"] != "a9993e364706816aba3e25717850c26c9cd0d89d" {
		t.Errorf("checksum_sha1 = %v", data["checksum_sha1"])
	}
}

func TestFetchLicensesAndNotices(t *testing.T) {
	remoteDir := t.TempDir()
	writeFiles(t, remoteDir, map[string]string{
		"mit.LICENSE": "MIT license text",
	})

	s := newTestSyncer(t, remoteDir)
	aboutText, err := about.Dump(map[string]any{
		"about_resource":     "six-1.15.0.tar.gz",
		"name":               "six",
		"license_expression": "mit",
	})
	if err != nil {
		t.Fatal(err)
	}
	writeFiles(t, s.DestDir, map[string]string{
		"six-1.15.0.tar.gz":       "six sdist",
		"six-1.15.0.tar.gz.ABOUT": string(aboutText),
	})

	errs := s.FetchLicensesAndNotices()
	if len(errs) != 0 {
		t.Errorf("errs = %v", errs)
	}
	content, err := os.ReadFile(filepath.Join(s.DestDir, "mit.LICENSE"))
	if err != nil {
		t.Fatal("mit.LICENSE not fetched")
	}
	if string(content) != "MIT license text" {
		t.Errorf("license content = %q", content)
	}
}

func TestDeleteOutdatedPackages(t *testing.T) {
	s := newTestSyncer(t, t.TempDir())
	writeFiles(t, s.DestDir, map[string]string{
		"bitarray-0.8.1.tar.gz":        "old sdist",
		"bitarray-0.8.1.tar.gz.ABOUT":  "name: bitarray\n",
		"bitarray-0.8.1.tar.gz.NOTICE": "old notice",
		"bitarray-1.0.1.tar.gz":        "new sdist",
		"bitarray-1.0.1.tar.gz.ABOUT":  "name: bitarray\n",
		"six-1.15.0.tar.gz":            "six sdist",
		"mit.LICENSE":                  "license",
	})

	if err := s.DeleteOutdatedPackages(); err != nil {
		t.Fatalf("DeleteOutdatedPackages error: %v", err)
	}
	for _, gone := range []string{
		"bitarray-0.8.1.tar.gz",
		"bitarray-0.8.1.tar.gz.ABOUT",
		"bitarray-0.8.1.tar.gz.NOTICE",
	} {
		if fileExists(t, s.DestDir, gone) {
			t.Errorf("%s not deleted", gone)
		}
	}
	for _, kept := range []string{
		"bitarray-1.0.1.tar.gz",
		"bitarray-1.0.1.tar.gz.ABOUT",
		"six-1.15.0.tar.gz",
		"mit.LICENSE",
	} {
		if !fileExists(t, s.DestDir, kept) {
			t.Errorf("%s should have been kept", kept)
		}
	}
}

func TestDeleteUnusedLicenses(t *testing.T) {
	s := newTestSyncer(t, t.TempDir())
	aboutText, err := about.Dump(map[string]any{
		"about_resource":     "six-1.15.0.tar.gz",
		"license_expression": "mit",
	})
	if err != nil {
		t.Fatal(err)
	}
	writeFiles(t, s.DestDir, map[string]string{
		"six-1.15.0.tar.gz":       "six sdist",
		"six-1.15.0.tar.gz.ABOUT": string(aboutText),
		"mit.LICENSE":             "referenced",
		"gpl-2.0.LICENSE":         "unreferenced",
	})

	if err := s.DeleteUnusedLicenses(); err != nil {
		t.Fatalf("DeleteUnusedLicenses error: %v", err)
	}
	if !fileExists(t, s.DestDir, "mit.LICENSE") {
		t.Error("referenced license deleted")
	}
	if fileExists(t, s.DestDir, "gpl-2.0.LICENSE") {
		t.Error("unreferenced license kept")
	}
}

func TestFetchRequiredSources(t *testing.T) {
	remoteDir := t.TempDir()
	writeFiles(t, remoteDir, map[string]string{
		"six-1.15.0.tar.gz":                       "six sdist",
		"typed_ast-1.4.1-cp38-cp38-win_amd64.whl": "wheel only",
	})

	s := newTestSyncer(t, remoteDir)
	reqFile := filepath.Join(t.TempDir(), "requirements.txt")
	err := os.WriteFile(reqFile, []byte("six==1.15.0\ntyped_ast==1.4.1\nabsent==1.0\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	reports, err := s.FetchRequiredSources(reqFile)
	if err != nil {
		t.Fatalf("FetchRequiredSources error: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("reports = %d, want 3", len(reports))
	}
	if reports[0].Error != "" {
		t.Errorf("six: %s", reports[0].Error)
	}
	if reports[1].Error != "missing sdist in links" {
		t.Errorf("typed_ast: %q", reports[1].Error)
	}
	if reports[2].Error != "missing package in remote repo" {
		t.Errorf("absent: %q", reports[2].Error)
	}
	if !fileExists(t, s.DestDir, "six-1.15.0.tar.gz") {
		t.Error("six sdist not fetched")
	}
}

func TestFetchRequiredWheels(t *testing.T) {
	remoteDir := t.TempDir()
	writeFiles(t, remoteDir, map[string]string{
		"six-1.15.0-py2.py3-none-any.whl":        "pure wheel",
		"bitarray-1.0.1-cp38-cp38-win_amd64.whl": "windows wheel",
	})

	s := newTestSyncer(t, remoteDir)
	reqFile := filepath.Join(t.TempDir(), "requirements.txt")
	err := os.WriteFile(reqFile, []byte("six==1.15.0\nbitarray==1.0.1\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	env, err := pypi.NewEnvironment("38", "linux")
	if err != nil {
		t.Fatal(err)
	}
	reports, err := s.FetchRequiredWheels(reqFile, env)
	if err != nil {
		t.Fatalf("FetchRequiredWheels error: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	if reports[0].Error != "" {
		t.Errorf("six: %s", reports[0].Error)
	}
	if reports[1].Error != "no supported wheel" {
		t.Errorf("bitarray: %q", reports[1].Error)
	}
	if !fileExists(t, s.DestDir, "six-1.15.0-py2.py3-none-any.whl") {
		t.Error("six wheel not fetched")
	}
}

func TestFetchRequiredSourcesContinuesAfterFetchFault(t *testing.T) {
	remoteDir := t.TempDir()
	writeFiles(t, remoteDir, map[string]string{
		"alpha-1.0.tar.gz": "alpha sdist",
		"omega-2.0.tar.gz": "omega sdist",
	})

	s := newTestSyncer(t, remoteDir)
	if err := os.Remove(filepath.Join(remoteDir, "alpha-1.0.tar.gz")); err != nil {
		t.Fatal(err)
	}
	reqFile := filepath.Join(t.TempDir(), "requirements.txt")
	if err := os.WriteFile(reqFile, []byte("alpha==1.0\nomega==2.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reports, err := s.FetchRequiredSources(reqFile)
	if err != nil {
		t.Fatalf("FetchRequiredSources error: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	if reports[0].Error == "" {
		t.Error("alpha fetch fault not reported")
	}
	if reports[1].Error != "" {
		t.Errorf("omega: %s", reports[1].Error)
	}
	if !fileExists(t, s.DestDir, "omega-2.0.tar.gz") {
		t.Error("omega sdist not fetched after the alpha fault")
	}
}

func TestFetchRequiredWheelsContinuesAfterFetchFault(t *testing.T) {
	remoteDir := t.TempDir()
	writeFiles(t, remoteDir, map[string]string{
		"alpha-1.0-py3-none-any.whl": "alpha wheel",
		"omega-2.0-py3-none-any.whl": "omega wheel",
	})

	s := newTestSyncer(t, remoteDir)
	if err := os.Remove(filepath.Join(remoteDir, "alpha-1.0-py3-none-any.whl")); err != nil {
		t.Fatal(err)
	}
	reqFile := filepath.Join(t.TempDir(), "requirements.txt")
	if err := os.WriteFile(reqFile, []byte("alpha==1.0\nomega==2.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	env, err := pypi.NewEnvironment("38", "linux")
	if err != nil {
		t.Fatal(err)
	}
	reports, err := s.FetchRequiredWheels(reqFile, env)
	if err != nil {
		t.Fatalf("FetchRequiredWheels error: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	if reports[0].Error == "" {
		t.Error("alpha fetch fault not reported")
	}
	if reports[1].Error != "" {
		t.Errorf("omega: %s", reports[1].Error)
	}
	if !fileExists(t, s.DestDir, "omega-2.0-py3-none-any.whl") {
		t.Error("omega wheel not fetched after the alpha fault")
	}
}

func TestFetchRequiredWheelsUnpinned(t *testing.T) {
	s := newTestSyncer(t, t.TempDir())
	reqFile := filepath.Join(t.TempDir(), "requirements.txt")
	if err := os.WriteFile(reqFile, []byte("six\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	env, _ := pypi.NewEnvironment("38", "linux")
	if _, err := s.FetchRequiredWheels(reqFile, env); err == nil {
		t.Error("expected an error for an unpinned requirement")
	}
}

// signArtifact generates a throwaway key, signs content with it and returns
// the armored public key with the armored detached signature.
func signArtifact(t *testing.T, content []byte) (publicKey, signature string) {
	t.Helper()
	key, err := crypto.GenerateKey("wheelsync test", "test@example.com", "x25519", 0)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	signingRing, err := crypto.NewKeyRing(key)
	if err != nil {
		t.Fatalf("building signing keyring: %v", err)
	}
	sig, err := signingRing.SignDetached(crypto.NewPlainMessage(content))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	signature, err = sig.GetArmored()
	if err != nil {
		t.Fatalf("armoring signature: %v", err)
	}
	publicKey, err = key.GetArmoredPublicKey()
	if err != nil {
		t.Fatalf("armoring public key: %v", err)
	}
	return publicKey, signature
}

func TestFetchRequiredSourcesRecordsSignatureOutcome(t *testing.T) {
	sixContent := "six sdist"
	publicKey, signature := signArtifact(t, []byte(sixContent))

	remoteDir := t.TempDir()
	writeFiles(t, remoteDir, map[string]string{
		"six-1.15.0.tar.gz":     sixContent,
		"six-1.15.0.tar.gz.asc": signature,
		"bitarray-1.0.1.tar.gz": "bitarray sdist",
	})

	s := newTestSyncer(t, remoteDir)
	store := &fakeStore{}
	s.Store = store
	verifier, err := verify.NewVerifier([]string{publicKey})
	if err != nil {
		t.Fatal(err)
	}
	s.Verifier = verifier

	reqFile := filepath.Join(t.TempDir(), "requirements.txt")
	if err := os.WriteFile(reqFile, []byte("six==1.15.0\nbitarray==1.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reports, err := s.FetchRequiredSources(reqFile)
	if err != nil {
		t.Fatalf("FetchRequiredSources error: %v", err)
	}
	for _, report := range reports {
		if report.Error != "" {
			t.Errorf("%s: %s", report.NameVer.Specifier(), report.Error)
		}
	}

	six, err := store.GetFetch("six-1.15.0.tar.gz")
	if err != nil {
		t.Fatal("six fetch not recorded")
	}
	if !six.SignatureVerified {
		t.Error("six record not marked signature-verified")
	}
	if !strings.HasSuffix(six.SignatureURL, "six-1.15.0.tar.gz.asc") {
		t.Errorf("six SignatureURL = %q", six.SignatureURL)
	}

	// No published signature: recorded, but not as verified.
	bitarray, err := store.GetFetch("bitarray-1.0.1.tar.gz")
	if err != nil {
		t.Fatal("bitarray fetch not recorded")
	}
	if bitarray.SignatureVerified || bitarray.SignatureURL != "" {
		t.Errorf("bitarray record = %+v, want unverified", bitarray)
	}
}

func TestFetchRequiredSourcesBadSignature(t *testing.T) {
	_, signature := signArtifact(t, []byte("other content"))

	remoteDir := t.TempDir()
	writeFiles(t, remoteDir, map[string]string{
		"six-1.15.0.tar.gz":     "six sdist",
		"six-1.15.0.tar.gz.asc": signature,
	})

	s := newTestSyncer(t, remoteDir)
	store := &fakeStore{}
	s.Store = store
	otherKey, _ := signArtifact(t, []byte("unrelated"))
	verifier, err := verify.NewVerifier([]string{otherKey})
	if err != nil {
		t.Fatal(err)
	}
	s.Verifier = verifier

	reqFile := filepath.Join(t.TempDir(), "requirements.txt")
	if err := os.WriteFile(reqFile, []byte("six==1.15.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reports, err := s.FetchRequiredSources(reqFile)
	if err != nil {
		t.Fatalf("FetchRequiredSources error: %v", err)
	}
	if len(reports) != 1 || reports[0].Error == "" {
		t.Errorf("reports = %v, want a verification failure", reports)
	}
	if len(store.records) != 0 {
		t.Errorf("records = %v, want none for a failed verification", store.records)
	}
}

func TestPinRequirements(t *testing.T) {
	remoteDir := t.TempDir()
	writeFiles(t, remoteDir, map[string]string{
		"six-1.14.0.tar.gz": "old sdist",
		"six-1.15.0.tar.gz": "new sdist",
	})

	s := newTestSyncer(t, remoteDir)
	reqFile := filepath.Join(t.TempDir(), "requirements.txt")
	if err := os.WriteFile(reqFile, []byte("six==1.14.0\nabsent==1.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	updated, err := s.PinRequirements(reqFile)
	if err != nil {
		t.Fatalf("PinRequirements error: %v", err)
	}
	if len(updated) != 1 || updated[0].Name != "six" || updated[0].Version != "1.15.0" {
		t.Errorf("updated = %v, want six pinned to 1.15.0", updated)
	}

	reqs, err := requirements.Load(reqFile, true)
	if err != nil {
		t.Fatal(err)
	}
	want := []pypi.NameVer{
		{Name: "six", Version: "1.15.0"},
		{Name: "absent", Version: "1.0"},
	}
	if len(reqs) != len(want) {
		t.Fatalf("reqs = %v", reqs)
	}
	for i, req := range reqs {
		if req != want[i] {
			t.Errorf("reqs[%d] = %v, want %v", i, req, want[i])
		}
	}

	// Already pinned to the latest: nothing to do.
	updated, err = s.PinRequirements(reqFile)
	if err != nil || len(updated) != 0 {
		t.Errorf("second pin = %v, %v, want no changes", updated, err)
	}
}

func TestBestDownloadURL(t *testing.T) {
	remoteDir := t.TempDir()
	writeFiles(t, remoteDir, map[string]string{
		"six-1.15.0.tar.gz": "six sdist",
	})
	s := newTestSyncer(t, remoteDir)

	dist, err := pypi.FromFilename("six-1.15.0.tar.gz")
	if err != nil {
		t.Fatal(err)
	}
	url := s.BestDownloadURL(dist)
	if !strings.HasSuffix(url, "six-1.15.0.tar.gz") || url == "" {
		t.Errorf("BestDownloadURL = %q", url)
	}

	absent, _ := pypi.FromFilename("absent-1.0.tar.gz")
	if got := s.BestDownloadURL(absent); got != "" {
		t.Errorf("BestDownloadURL for absent file = %q, want empty", got)
	}
}

func TestFileChecksums(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	md5Sum, sha1Sum, size, err := FileChecksums(path)
	if err != nil {
		t.Fatalf("FileChecksums error: %v", err)
	}
	if md5Sum != "900150983cd24fb0d6963f7d28e17f72" {
		t.Errorf("md5 = %s", md5Sum)
	}
	if sha1Sum != "a9993e364706816aba3e25717850c26c9cd0d89d" {
		t.Errorf("sha1 = %s", sha1Sum)
	}
	if size != 3 {
		t.Errorf("size = %d", size)
	}

	if _, _, _, err := FileChecksums(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
