// Package sync implements the reconciliation procedures that keep a local
// thirdparty directory complete and consistent: every package carries its
// sdist, its wheels for the supported environment matrix, an ABOUT record
// with correct checksums, and the license and notice texts those records
// reference.
package sync

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clean-dependency-project/wheelsync/internal/about"
	"github.com/clean-dependency-project/wheelsync/internal/fetch"
	"github.com/clean-dependency-project/wheelsync/internal/pypi"
	"github.com/clean-dependency-project/wheelsync/internal/repo"
	"github.com/clean-dependency-project/wheelsync/internal/requirements"
	"github.com/clean-dependency-project/wheelsync/internal/storage"
	"github.com/clean-dependency-project/wheelsync/internal/verify"
)

// Syncer wires the repositories, the fetch cache and the optional fetch
// audit store and signature verifier into the reconciliation procedures.
// All repository instances are passed in explicitly; nothing here holds
// global state.
type Syncer struct {
	// DestDir is the local thirdparty directory being reconciled.
	DestDir string

	// Remote is the operator's own links repository; Pypi is the public
	// simple index. Gap filling consults Remote first, then Pypi.
	Remote *repo.LinksRepository
	Pypi   *repo.PypiRepository

	Fetcher *fetch.Client

	// RemoteBaseURL builds direct download URLs for files assumed to be
	// published in the remote repository.
	RemoteBaseURL string

	// LicenseDBURL is the base URL of the license text service serving
	// <key>.LICENSE files.
	LicenseDBURL string

	// Store, when set, records every artifact fetch. Verifier, when set,
	// checks detached signatures on fetched artifacts that have one in the
	// remote repository.
	Store    storage.Store
	Verifier *verify.Verifier

	Stdout *slog.Logger
	Stderr *slog.Logger
}

// MissingWheel is one (package, environment) combination no repository
// could satisfy; the list of these is the worklist for an external build
// step.
type MissingWheel struct {
	Package     *pypi.Package
	Environment *pypi.Environment
}

// FetchReport is the outcome of one requirement-driven fetch.
type FetchReport struct {
	NameVer pypi.NameVer
	Error   string
}

// LocalPackages returns the package aggregates found in the destination
// directory.
func (s *Syncer) LocalPackages() ([]*pypi.Package, error) {
	entries, err := os.ReadDir(s.DestDir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.DestDir, err)
	}
	var locations []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		locations = append(locations, filepath.Join(s.DestDir, entry.Name()))
	}
	return pypi.PackagesFromLocations(locations, s.Stderr), nil
}

// AddMissingSources fetches an sdist for every local package that lacks
// one, trying the remote repository first and PyPI second. A fetch fault
// aborts only the faulting package; it is reported as unresolved and the
// procedure continues. Returns the (name, version) pairs for which no
// repository could deliver sources.
func (s *Syncer) AddMissingSources() ([]pypi.NameVer, error) {
	local, err := s.LocalPackages()
	if err != nil {
		return nil, err
	}

	var notFound []pypi.NameVer
	for _, pkg := range local {
		if pkg.Sdist != nil {
			continue
		}
		s.Stdout.Info("finding sources", "package", pkg.NameVersion())

		fetched, source, err := s.fetchSdistFromRepos(pkg)
		if err != nil {
			s.Stderr.Warn("fetching sources failed",
				"package", pkg.NameVersion(), "error", err)
			notFound = append(notFound, pkg.NameVer)
			continue
		}
		if fetched == "" {
			s.Stdout.Info("no sources found", "package", pkg.NameVersion())
			notFound = append(notFound, pkg.NameVer)
			continue
		}
		s.Stdout.Info("fetched sources", "filename", fetched, "repository", source)
	}

	for _, nv := range notFound {
		s.Stderr.Warn("sdist not found", "requirement", nv.Specifier())
	}
	return notFound, nil
}

// fetchSdistFromRepos tries each repository in precedence order for a
// package's sdist. Returns the fetched filename and which repository served
// it, or "" when neither has sources.
func (s *Syncer) fetchSdistFromRepos(pkg *pypi.Package) (string, string, error) {
	candidates := []struct {
		repo repo.Repository
		name string
	}{
		{s.Remote, "remote"},
		{s.Pypi, "pypi"},
	}
	for _, candidate := range candidates {
		if candidate.repo == nil || isNilRepo(candidate.repo) {
			continue
		}
		found, err := candidate.repo.GetPackage(pkg.Name, pkg.Version)
		if err != nil {
			return "", "", err
		}
		if found == nil || found.Sdist == nil {
			continue
		}
		filename, err := found.FetchSdist(s.Fetcher, s.DestDir)
		if err != nil {
			return "", "", err
		}
		if filename != "" {
			s.recordFetch(found.Sdist, candidate.name, "")
			return filename, candidate.name, nil
		}
	}
	return "", "", nil
}

func isNilRepo(r repo.Repository) bool {
	switch t := r.(type) {
	case *repo.LinksRepository:
		return t == nil
	case *repo.PypiRepository:
		return t == nil
	}
	return false
}

// FetchMissingWheels fetches, for the cartesian product of the given python
// versions and operating systems, a supported wheel for every local package
// that does not already satisfy that environment. Returns the worklist of
// combinations no repository satisfied.
func (s *Syncer) FetchMissingWheels(pythonVersions, operatingSystems []string) ([]MissingWheel, error) {
	local, err := s.LocalPackages()
	if err != nil {
		return nil, err
	}

	var environments []*pypi.Environment
	for _, pyver := range pythonVersions {
		for _, opsys := range operatingSystems {
			env, err := pypi.NewEnvironment(pyver, opsys)
			if err != nil {
				return nil, err
			}
			environments = append(environments, env)
		}
	}

	var missing []MissingWheel
	for _, pkg := range local {
		for _, env := range environments {
			filename, err := s.fetchWheelFromRepos(pkg, env)
			if err != nil {
				// Fault on one combination; keep going and report it
				// unsatisfied.
				s.Stderr.Warn("fetching wheel failed",
					"requirement", pkg.Specifier(),
					"os", env.OperatingSystem,
					"python", env.PythonVersion,
					"error", err,
				)
				missing = append(missing, MissingWheel{Package: pkg, Environment: env})
				continue
			}
			if filename == "" {
				s.Stdout.Info("wheel not found",
					"requirement", pkg.Specifier(),
					"os", env.OperatingSystem,
					"python", env.PythonVersion,
				)
				missing = append(missing, MissingWheel{Package: pkg, Environment: env})
			}
		}
	}
	return missing, nil
}

// fetchWheelFromRepos fetches a wheel of pkg supported by env: the local
// aggregate's own wheels first (a pure wheel covers every environment),
// then the remote repository, then PyPI.
func (s *Syncer) fetchWheelFromRepos(pkg *pypi.Package, env *pypi.Environment) (string, error) {
	if wheels := pkg.SupportedWheels(env); len(wheels) > 0 {
		// Already satisfied locally.
		return wheels[0].Filename, nil
	}

	candidates := []struct {
		repo repo.Repository
		name string
	}{
		{s.Remote, "remote"},
		{s.Pypi, "pypi"},
	}
	for _, candidate := range candidates {
		if candidate.repo == nil || isNilRepo(candidate.repo) {
			continue
		}
		found, err := candidate.repo.GetPackage(pkg.Name, pkg.Version)
		if err != nil {
			return "", err
		}
		if found == nil {
			continue
		}
		filename, err := found.FetchWheel(s.Fetcher, env, s.DestDir)
		if err != nil {
			return "", err
		}
		if filename != "" {
			for _, wheel := range found.SupportedWheels(env) {
				if wheel.Filename == filename {
					s.recordFetch(wheel, candidate.name, "")
					break
				}
			}
			return filename, nil
		}
	}
	return "", nil
}

// FetchAbouts fetches the companion .ABOUT file for every aboutable file in
// the destination directory from the remote repository's links. Returns
// per-file error messages; one missing record never fails the batch.
func (s *Syncer) FetchAbouts() []string {
	entries, err := os.ReadDir(s.DestDir)
	if err != nil {
		return []string{err.Error()}
	}

	var errs []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || pypi.HasAnySuffix(name, pypi.ExtensionsAbout) {
			continue
		}
		aboutFile := name + ".ABOUT"
		link, err := s.Remote.LinkForFilename(aboutFile)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if _, err := s.Fetcher.FetchAndSave(link, aboutFile, s.DestDir); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// AddMissingAboutFiles ensures every local distribution has an ABOUT
// record: fetch available records from the remote repository first, then
// derive a record from the same package in the remote repository, and
// finally create a skinny record as a last resort.
func (s *Syncer) AddMissingAboutFiles() error {
	for _, msg := range s.FetchAbouts() {
		s.Stderr.Warn("about fetch", "error", msg)
	}

	local, err := s.LocalPackages()
	if err != nil {
		return err
	}

	for _, pkg := range local {
		remotePkg, err := s.Remote.GetPackage(pkg.Name, pkg.Version)
		if err != nil {
			return err
		}
		for _, dist := range pkg.Distributions() {
			aboutPath := filepath.Join(s.DestDir, dist.AboutFilename())
			if _, err := os.Stat(aboutPath); err == nil {
				continue
			}
			downloadURL := s.BestDownloadURL(dist)
			if err := s.createOrDeriveAbout(remotePkg, dist, downloadURL); err != nil {
				s.Stderr.Warn("unable to create ABOUT file",
					"filename", dist.AboutFilename(), "error", err)
			}
		}
	}
	return nil
}

// createOrDeriveAbout derives a record from any distribution of the same
// package in the remote repository, or writes a minimal record when none is
// available.
func (s *Syncer) createOrDeriveAbout(remotePkg *pypi.Package, dist *pypi.Distribution, downloadURL string) error {
	if downloadURL == "" {
		// Locally built artifact: assume later publication to the remote
		// repository.
		downloadURL = pypi.RemoteDownloadURL(s.RemoteBaseURL, dist.Filename)
	}

	if remotePkg != nil {
		for _, remoteDist := range remotePkg.Distributions() {
			if s.deriveAboutFromDist(remoteDist, dist, downloadURL) {
				return nil
			}
		}
	}

	// Skinny record with the minimum known data.
	data := map[string]any{
		"about_resource":   dist.Filename,
		"name":             dist.NormalizedName(),
		"version":          dist.Version,
		"download_url":     downloadURL,
		"primary_language": "Python",
	}
	text, err := about.Dump(data)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.DestDir, dist.AboutFilename()), text, 0o644)
}

// deriveAboutFromDist fetches the ABOUT record of a remote distribution and
// rewrites it for dist, fetching and renaming the referenced NOTICE file
// along with it. Reports whether a record was written.
func (s *Syncer) deriveAboutFromDist(remoteDist, dist *pypi.Distribution, downloadURL string) bool {
	aboutURL := pypi.RemoteDownloadURL(s.RemoteBaseURL, remoteDist.AboutFilename())
	aboutText, err := s.Fetcher.Get(aboutURL)
	if err != nil || len(aboutText) == 0 {
		return false
	}

	derived, err := about.Derive(aboutText, dist.Name, dist.Version, dist.Filename, downloadURL)
	if err != nil {
		return false
	}
	aboutPath := filepath.Join(s.DestDir, dist.AboutFilename())
	if err := os.WriteFile(aboutPath, derived, 0o644); err != nil {
		return false
	}

	// Carry the notice over under the new artifact's name.
	data, err := about.Load(aboutText)
	if err != nil {
		return true
	}
	noticeFile, _ := data["notice_file"].(string)
	if noticeFile == "" {
		return true
	}
	derivedNotice := filepath.Join(s.DestDir, dist.NoticeFilename())
	if noticeText, err := os.ReadFile(filepath.Join(s.DestDir, noticeFile)); err == nil {
		_ = os.WriteFile(derivedNotice, noticeText, 0o644)
	} else {
		noticeURL := pypi.RemoteDownloadURL(s.RemoteBaseURL, noticeFile)
		_, _ = s.Fetcher.FetchAndSave(noticeURL, dist.NoticeFilename(), s.DestDir)
	}
	return true
}

// BestDownloadURL returns the best known URL for a distribution: a PyPI
// URL when the index has the exact file, then the remote repository's URL.
func (s *Syncer) BestDownloadURL(dist *pypi.Distribution) string {
	if s.Pypi != nil {
		if pkg, err := s.Pypi.GetPackage(dist.Name, dist.Version); err == nil && pkg != nil {
			if url := pkg.URLForFilename(dist.Filename); url != "" {
				return url
			}
		}
	}
	if s.Remote != nil {
		if pkg, err := s.Remote.GetPackage(dist.Name, dist.Version); err == nil && pkg != nil {
			if url := pkg.URLForFilename(dist.Filename); url != "" {
				return url
			}
		}
	}
	return ""
}

// FixAboutChecksums recomputes the md5 and sha1 checksums of every ABOUT
// record's artifact and rewrites records whose stored values differ.
func (s *Syncer) FixAboutChecksums() error {
	files, err := about.AboutFiles(s.DestDir)
	if err != nil {
		return err
	}
	for _, aboutPath := range files {
		artifactPath := strings.TrimSuffix(aboutPath, ".ABOUT")
		md5Sum, sha1Sum, _, err := FileChecksums(artifactPath)
		if err != nil {
			s.Stderr.Warn("cannot checksum artifact", "path", artifactPath, "error", err)
			continue
		}
		data, err := about.LoadFile(aboutPath)
		if err != nil {
			return err
		}
		if data["checksum_md5"] == md5Sum && data["checksum_sha1"] == sha1Sum {
			continue
		}
		data["checksum_md5"] = md5Sum
		data["checksum_sha1"] = sha1Sum
		text, err := about.Dump(data)
		if err != nil {
			return err
		}
		if err := os.WriteFile(aboutPath, text, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// FetchLicensesAndNotices downloads every license and notice file the local
// ABOUT records reference: from the remote repository links first, then the
// remaining license texts by key from the license text service. Returns
// per-file error messages.
func (s *Syncer) FetchLicensesAndNotices() []string {
	var errs []string

	datas, err := about.AboutDatas(s.DestDir)
	if err != nil {
		return []string{err.Error()}
	}

	for _, data := range datas {
		for _, filename := range about.LicenseAndNoticeFilenames(data) {
			if _, err := os.Stat(filepath.Join(s.DestDir, filename)); err == nil {
				continue
			}
			link, err := s.Remote.LinkForFilename(filename)
			if err != nil {
				errs = append(errs, err.Error())
				continue
			}
			if _, err := s.Fetcher.FetchAndSave(link, filename, s.DestDir); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	// Anything still missing comes from the license text service by key.
	for _, data := range datas {
		for _, key := range about.LicenseKeys(data) {
			filename := key + ".LICENSE"
			if _, err := os.Stat(filepath.Join(s.DestDir, filename)); err == nil {
				continue
			}
			url := strings.TrimRight(s.LicenseDBURL, "/") + "/" + filename
			if _, err := s.Fetcher.FetchAndSave(url, filename, s.DestDir); err != nil {
				errs = append(errs, fmt.Sprintf("no text for license %s: %v", key, err))
			}
		}
	}
	return errs
}

// DeleteOutdatedPackages keeps only the latest version of every package in
// the destination directory, deleting older versions' artifacts and their
// ABOUT and NOTICE companions.
func (s *Syncer) DeleteOutdatedPackages() error {
	local, err := s.LocalPackages()
	if err != nil {
		return err
	}

	byName := map[string][]*pypi.Package{}
	var names []string
	for _, pkg := range local {
		if _, seen := byName[pkg.Name]; !seen {
			names = append(names, pkg.Name)
		}
		byName[pkg.Name] = append(byName[pkg.Name], pkg)
	}

	for _, name := range names {
		versions := byName[name]
		for _, outdated := range versions[:len(versions)-1] {
			s.Stdout.Info("deleting outdated package files",
				"package", outdated.NameVersion())
			if err := outdated.DeleteFiles(s.DestDir); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteUnusedLicenses removes every .LICENSE file in the destination
// directory that no ABOUT record references.
func (s *Syncer) DeleteUnusedLicenses() error {
	entries, err := os.ReadDir(s.DestDir)
	if err != nil {
		return err
	}
	licenseFiles := map[string]bool{}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".LICENSE") {
			licenseFiles[entry.Name()] = true
		}
	}

	datas, err := about.AboutDatas(s.DestDir)
	if err != nil {
		return err
	}
	for _, data := range datas {
		for _, referenced := range about.LicenseAndNoticeFilenames(data) {
			delete(licenseFiles, referenced)
		}
	}

	for unused := range licenseFiles {
		s.Stdout.Info("deleting unused license file", "filename", unused)
		if err := os.Remove(filepath.Join(s.DestDir, unused)); err != nil {
			return err
		}
	}
	return nil
}

// FetchRequiredWheels fetches, for every pinned requirement, a wheel
// supported by env from the remote repository exclusively. Returns one
// report per requirement.
func (s *Syncer) FetchRequiredWheels(requirementsFile string, env *pypi.Environment) ([]FetchReport, error) {
	reqs, err := requirements.Load(requirementsFile, true)
	if err != nil {
		return nil, err
	}

	var reports []FetchReport
	for _, req := range reqs {
		report := FetchReport{NameVer: req}
		pkg, err := s.Remote.GetPackage(req.Name, req.Version)
		switch {
		case err != nil:
			report.Error = err.Error()
		case pkg == nil:
			report.Error = "missing package in remote repo"
		default:
			filename, err := pkg.FetchWheel(s.Fetcher, env, s.DestDir)
			switch {
			case err != nil:
				report.Error = err.Error()
			case filename == "":
				report.Error = "no supported wheel"
			default:
				if err := s.verifyAndRecord(pkg, filename, "remote"); err != nil {
					report.Error = err.Error()
				}
			}
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// FetchRequiredSources fetches the sdist of every pinned requirement from
// the remote repository exclusively.
func (s *Syncer) FetchRequiredSources(requirementsFile string) ([]FetchReport, error) {
	reqs, err := requirements.Load(requirementsFile, true)
	if err != nil {
		return nil, err
	}

	var reports []FetchReport
	for _, req := range reqs {
		report := FetchReport{NameVer: req}
		pkg, err := s.Remote.GetPackage(req.Name, req.Version)
		switch {
		case err != nil:
			report.Error = err.Error()
		case pkg == nil:
			report.Error = "missing package in remote repo"
		case pkg.Sdist == nil:
			report.Error = "missing sdist in links"
		default:
			if _, err := pkg.FetchSdist(s.Fetcher, s.DestDir); err != nil {
				report.Error = err.Error()
			} else if err := s.verifyAndRecord(pkg, pkg.Sdist.Filename, "remote"); err != nil {
				report.Error = err.Error()
			}
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// PinRequirements rewrites the requirements file so every listed package is
// pinned to the latest version the remote repository carries. A name the
// repository does not know is left untouched. Returns the requirements
// whose pins changed.
func (s *Syncer) PinRequirements(requirementsFile string) ([]pypi.NameVer, error) {
	reqs, err := requirements.Load(requirementsFile, false)
	if err != nil {
		return nil, err
	}

	var updated []pypi.NameVer
	for _, req := range reqs {
		latest, err := s.Remote.GetLatestVersion(req.Name)
		if err != nil || latest == nil {
			s.Stderr.Warn("no version in remote repo", "name", req.Name)
			continue
		}
		if latest.Version == req.Version {
			continue
		}
		changed, err := requirements.Update(requirementsFile, req.Name, latest.Version)
		if err != nil {
			return nil, err
		}
		if changed {
			s.Stdout.Info("pinned requirement",
				"name", req.Name, "version", latest.Version)
			updated = append(updated, pypi.NameVer{Name: req.Name, Version: latest.Version})
		}
	}
	return updated, nil
}

// verifyAndRecord checks the artifact's detached signature when the remote
// repository publishes one, and records the fetch with its verification
// outcome in the audit store.
func (s *Syncer) verifyAndRecord(pkg *pypi.Package, filename, repository string) error {
	for _, dist := range pkg.Distributions() {
		if dist.Filename != filename {
			continue
		}
		signatureURL, err := s.verifySignature(dist)
		if err != nil {
			return err
		}
		s.recordFetch(dist, repository, signatureURL)
		return nil
	}
	return nil
}

// verifySignature fetches and checks the <filename>.asc companion if the
// remote repository has one, returning the signature link on success.
// Absence of a signature is not an error; the empty return marks the
// artifact unverified.
func (s *Syncer) verifySignature(dist *pypi.Distribution) (string, error) {
	if s.Verifier == nil || s.Remote == nil {
		return "", nil
	}
	sigName := verify.SignatureFilename(dist.Filename)
	link, err := s.Remote.LinkForFilename(sigName)
	if err != nil {
		return "", nil
	}
	signature, err := s.Fetcher.Get(link)
	if err != nil {
		return "", fmt.Errorf("fetching signature %s: %w", sigName, err)
	}
	artifact, err := os.ReadFile(filepath.Join(s.DestDir, dist.Filename))
	if err != nil {
		return "", err
	}
	if err := s.Verifier.VerifyDetached(artifact, signature); err != nil {
		return "", fmt.Errorf("artifact %s: %w", dist.Filename, err)
	}
	s.Stdout.Info("signature verified", "filename", dist.Filename)
	return link, nil
}

// recordFetch writes a fetch-audit record; auditing is best effort and
// never fails the fetch itself. A non-empty signatureURL marks the artifact
// as signature-verified against that link.
func (s *Syncer) recordFetch(dist *pypi.Distribution, repository, signatureURL string) {
	if s.Store == nil {
		return
	}
	md5Sum, sha1Sum, size, err := FileChecksums(filepath.Join(s.DestDir, dist.Filename))
	if err != nil {
		s.Stderr.Warn("cannot checksum fetched artifact",
			"filename", dist.Filename, "error", err)
	}
	record := &storage.Fetch{
		Name:              dist.NormalizedName(),
		Version:           dist.Version,
		Kind:              string(dist.Kind),
		Filename:          dist.Filename,
		FileSize:          size,
		Md5:               md5Sum,
		Sha1:              sha1Sum,
		SourceURL:         dist.PathOrURL,
		Repository:        repository,
		FetchedAt:         time.Now().UTC(),
		SignatureVerified: signatureURL != "",
		SignatureURL:      signatureURL,
	}
	if err := s.Store.RecordFetch(record); err != nil {
		s.Stderr.Warn("cannot record fetch", "filename", dist.Filename, "error", err)
	}
}

// FileChecksums returns the hex md5 and sha1 digests and the size of the
// file at path.
func FileChecksums(path string) (md5Hex, sha1Hex string, size int64, err error) {
	file, err := os.Open(path)
	if err != nil {
		return "", "", 0, err
	}
	defer func() {
		_ = file.Close()
	}()

	md5Hash := md5.New()
	sha1Hash := sha1.New()
	size, err = io.Copy(io.MultiWriter(md5Hash, sha1Hash), file)
	if err != nil {
		return "", "", 0, err
	}
	return hex.EncodeToString(md5Hash.Sum(nil)), hex.EncodeToString(sha1Hash.Sum(nil)), size, nil
}
