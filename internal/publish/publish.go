// Package publish uploads local thirdparty artifacts and their provenance
// companions to the GitHub release backing the remote links repository.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/clean-dependency-project/wheelsync/internal/pypi"
)

// Sentinel errors for publish operations.
var (
	ErrEmptyToken      = errors.New("github token cannot be empty")
	ErrInvalidRepo     = errors.New("repository must be in format 'owner/repo'")
	ErrReleaseNotFound = errors.New("release not found")
)

// Publisher uploads files as assets of one GitHub release.
type Publisher struct {
	client *github.Client
	owner  string
	repo   string
	tag    string
	logger *slog.Logger
}

// NewPublisher creates a publisher for the release tagged tag in the given
// "owner/repo" repository. Token must carry repo permissions.
func NewPublisher(token, repository, tag string, logger *slog.Logger) (*Publisher, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	owner, repo, err := parseRepository(repository)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		client: github.NewClient(nil).WithAuthToken(token),
		owner:  owner,
		repo:   repo,
		tag:    tag,
		logger: logger,
	}, nil
}

// releaseTitle renders a human release name from the tag, e.g.
// "pypi" -> "Pypi Thirdparty Packages".
func releaseTitle(tag string) string {
	title := cases.Title(language.English)
	return title.String(strings.ReplaceAll(tag, "-", " ")) + " Thirdparty Packages"
}

// EnsureRelease returns the release for the publisher's tag, creating it
// when absent.
func (p *Publisher) EnsureRelease(ctx context.Context) (*github.RepositoryRelease, error) {
	release, resp, err := p.client.Repositories.GetReleaseByTag(ctx, p.owner, p.repo, p.tag)
	if err == nil {
		return release, nil
	}
	if resp == nil || resp.StatusCode != 404 {
		return nil, fmt.Errorf("failed to get release %s: %w", p.tag, err)
	}

	created, _, err := p.client.Repositories.CreateRelease(ctx, p.owner, p.repo, &github.RepositoryRelease{
		TagName: github.String(p.tag),
		Name:    github.String(releaseTitle(p.tag)),
		Body:    github.String("Thirdparty package artifacts and provenance files."),
		Draft:   github.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create release %s: %w", p.tag, err)
	}
	return created, nil
}

// UploadFile uploads one file as a release asset and returns its download
// URL.
func (p *Publisher) UploadFile(ctx context.Context, releaseID int64, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file %s: %w", path, err)
	}

	opts := &github.UploadOptions{Name: info.Name()}
	asset, _, err := p.client.Repositories.UploadReleaseAsset(ctx, p.owner, p.repo, releaseID, opts, file)
	if err != nil {
		return "", fmt.Errorf("failed to upload asset %s: %w", info.Name(), err)
	}
	if asset.BrowserDownloadURL == nil {
		return "", nil
	}
	return *asset.BrowserDownloadURL, nil
}

// PublishDirectory uploads every artifact, ABOUT, LICENSE and NOTICE file
// in dir that the release does not already carry as an asset. Returns the
// uploaded filenames.
func (p *Publisher) PublishDirectory(ctx context.Context, dir string) ([]string, error) {
	release, err := p.EnsureRelease(ctx)
	if err != nil {
		return nil, err
	}

	existing := map[string]bool{}
	listOpts := &github.ListOptions{PerPage: 100}
	for {
		assets, resp, err := p.client.Repositories.ListReleaseAssets(
			ctx, p.owner, p.repo, release.GetID(), listOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to list release assets: %w", err)
		}
		for _, asset := range assets {
			existing[asset.GetName()] = true
		}
		if resp.NextPage == 0 {
			break
		}
		listOpts.Page = resp.NextPage
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var uploaded []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !pypi.HasAnySuffix(name, pypi.Extensions) {
			continue
		}
		if existing[name] {
			continue
		}
		url, err := p.UploadFile(ctx, release.GetID(), filepath.Join(dir, name))
		if err != nil {
			return uploaded, err
		}
		p.logger.Info("uploaded asset", "filename", name, "url", url)
		uploaded = append(uploaded, name)
	}
	return uploaded, nil
}

// parseRepository splits a repository string into owner and repo.
func parseRepository(repository string) (owner, repo string, err error) {
	if repository == "" {
		return "", "", ErrInvalidRepo
	}
	parts := strings.Split(repository, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: got %s", ErrInvalidRepo, repository)
	}
	owner = strings.TrimSpace(parts[0])
	repo = strings.TrimSpace(parts[1])
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("%w: owner or repo is empty", ErrInvalidRepo)
	}
	return owner, repo, nil
}
