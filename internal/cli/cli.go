// Package cli provides the command-line interface for the thirdparty
// artifact sync system. It wires the configuration, the repositories, the
// fetch cache, the audit store and the sync procedures into commands.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/clean-dependency-project/wheelsync/internal/config"
	"github.com/clean-dependency-project/wheelsync/internal/fetch"
	"github.com/clean-dependency-project/wheelsync/internal/logger"
	"github.com/clean-dependency-project/wheelsync/internal/publish"
	"github.com/clean-dependency-project/wheelsync/internal/pypi"
	"github.com/clean-dependency-project/wheelsync/internal/repo"
	"github.com/clean-dependency-project/wheelsync/internal/storage"
	syncpkg "github.com/clean-dependency-project/wheelsync/internal/sync"
	"github.com/clean-dependency-project/wheelsync/internal/verify"
)

// NewApp creates and configures the main CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:     "wheelsync",
		Usage:    "Sync a local thirdparty directory of Python sdists, wheels and provenance files",
		Version:  "1.0.0",
		Compiled: time.Now(),
		Authors: []*cli.Author{
			{
				Name:  "Clean Dependency Project",
				Email: "info@example.com",
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "wheelsync.yaml",
				Usage:   "path to configuration file",
				EnvVars: []string{"WHEELSYNC_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"WHEELSYNC_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "log format (text, json)",
				EnvVars: []string{"WHEELSYNC_LOG_FORMAT"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "wheels",
				Usage:  "Fetch missing wheels for every local package across the environment matrix",
				Action: wheelsCommand,
			},
			{
				Name:   "sources",
				Usage:  "Fetch missing source distributions for every local package",
				Action: sourcesCommand,
			},
			{
				Name:   "abouts",
				Usage:  "Fetch, derive or create missing ABOUT files for local artifacts",
				Action: aboutsCommand,
			},
			{
				Name:   "licenses",
				Usage:  "Fetch license and notice files referenced by local ABOUT files",
				Action: licensesCommand,
			},
			{
				Name:   "fix-checksums",
				Usage:  "Recompute and fix checksums recorded in local ABOUT files",
				Action: fixChecksumsCommand,
			},
			{
				Name:   "prune",
				Usage:  "Delete outdated package versions and unused license files",
				Action: pruneCommand,
			},
			{
				Name:  "fetch",
				Usage: "Fetch wheels or sdists for pinned requirements from the remote repository",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "requirements",
						Aliases: []string{"r"},
						Value:   "requirements.txt",
						Usage:   "pinned requirements file",
					},
					&cli.BoolFlag{
						Name:  "sdists",
						Usage: "fetch source distributions instead of wheels",
					},
					&cli.StringFlag{
						Name:  "python-version",
						Value: "38",
						Usage: "target python version for wheels (36, 37, 38, 39)",
					},
					&cli.StringFlag{
						Name:  "os",
						Value: "linux",
						Usage: "target operating system for wheels (linux, macos, windows)",
					},
				},
				Action: fetchCommand,
			},
			{
				Name:  "pin",
				Usage: "Pin every requirement to the latest version in the remote repository",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "requirements",
						Aliases: []string{"r"},
						Value:   "requirements.txt",
						Usage:   "requirements file to rewrite",
					},
				},
				Action: pinCommand,
			},
			{
				Name:   "publish",
				Usage:  "Upload new local files to the GitHub release backing the remote repository",
				Action: publishCommand,
			},
			{
				Name:   "stats",
				Usage:  "Show fetch-audit statistics",
				Action: statsCommand,
			},
		},
	}
}

// initSyncer builds a Syncer from the configuration: fetch cache,
// repositories, optional audit store and optional verifier. The returned
// cleanup function closes the store.
func initSyncer(c *cli.Context, needPypi bool) (*syncpkg.Syncer, func(), error) {
	stdout, stderr, err := logger.NewPair(c.String("log-level"), c.String("log-format"))
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DestDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	fetcher := fetch.NewClient(fetch.Config{
		CacheDir: cfg.CacheDir,
		Logger:   stderr,
	})

	remote, err := repo.NewLinksRepository(repo.LinksConfig{
		PathOrURL:  cfg.Remote.LinksURL,
		HrefPrefix: cfg.Remote.HrefPrefix,
		BaseURL:    cfg.Remote.BaseURL,
		Logger:     stderr,
	}, fetcher)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to index remote repository: %w", err)
	}

	var pypiRepo *repo.PypiRepository
	if needPypi {
		pypiRepo = repo.NewPypiRepository(cfg.Pypi.SimpleURL, fetcher, stderr)
	}

	cleanup := func() {}
	var store storage.Store
	if cfg.Storage.DatabasePath != "" {
		db, err := storage.InitDB(storage.Config{
			DatabasePath: cfg.Storage.DatabasePath,
			LogLevel:     cfg.Storage.LogLevel,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		store = db
		cleanup = func() {
			if closeErr := db.Close(); closeErr != nil {
				stderr.Warn("failed to close database", "error", closeErr)
			}
		}
	}

	var verifier *verify.Verifier
	if cfg.Verification.Enabled {
		verifier, err = verify.NewVerifierFromDir(cfg.Verification.KeysDir)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to load verification keys: %w", err)
		}
	}

	syncer := &syncpkg.Syncer{
		DestDir:       cfg.DestDir,
		Remote:        remote,
		Pypi:          pypiRepo,
		Fetcher:       fetcher,
		RemoteBaseURL: cfg.Remote.DownloadBaseURL,
		LicenseDBURL:  cfg.LicenseDB.URL,
		Store:         store,
		Verifier:      verifier,
		Stdout:        stdout,
		Stderr:        stderr,
	}
	return syncer, cleanup, nil
}

func loadMatrix(c *cli.Context) (*config.Config, error) {
	return config.LoadConfig(c.String("config"))
}

// wheelsCommand fetches missing wheels across the environment matrix and
// reports the combinations left for an external build step.
func wheelsCommand(c *cli.Context) error {
	syncer, cleanup, err := initSyncer(c, true)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg, err := loadMatrix(c)
	if err != nil {
		return err
	}

	missing, err := syncer.FetchMissingWheels(cfg.Matrix.PythonVersions, cfg.Matrix.OperatingSystems)
	if err != nil {
		return err
	}
	for _, m := range missing {
		syncer.Stdout.Info("wheel left to build",
			"requirement", m.Package.Specifier(),
			"python", m.Environment.PythonVersion,
			"os", m.Environment.OperatingSystem,
		)
	}
	syncer.Stdout.Info("wheel sync completed", "missing", len(missing))
	return nil
}

// sourcesCommand fetches missing sdists for local packages.
func sourcesCommand(c *cli.Context) error {
	syncer, cleanup, err := initSyncer(c, true)
	if err != nil {
		return err
	}
	defer cleanup()

	notFound, err := syncer.AddMissingSources()
	if err != nil {
		return err
	}
	syncer.Stdout.Info("source sync completed", "missing", len(notFound))
	return nil
}

// aboutsCommand ensures every local artifact has an ABOUT record.
func aboutsCommand(c *cli.Context) error {
	syncer, cleanup, err := initSyncer(c, true)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := syncer.AddMissingAboutFiles(); err != nil {
		return err
	}
	syncer.Stdout.Info("about sync completed")
	return nil
}

// licensesCommand fetches referenced license and notice texts.
func licensesCommand(c *cli.Context) error {
	syncer, cleanup, err := initSyncer(c, false)
	if err != nil {
		return err
	}
	defer cleanup()

	errs := syncer.FetchLicensesAndNotices()
	for _, msg := range errs {
		syncer.Stderr.Warn("license fetch", "error", msg)
	}
	syncer.Stdout.Info("license sync completed", "errors", len(errs))
	return nil
}

// fixChecksumsCommand rewrites stale checksums in ABOUT records.
func fixChecksumsCommand(c *cli.Context) error {
	syncer, cleanup, err := initSyncer(c, false)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := syncer.FixAboutChecksums(); err != nil {
		return err
	}
	syncer.Stdout.Info("checksums fixed")
	return nil
}

// pruneCommand removes outdated versions and unreferenced license files.
func pruneCommand(c *cli.Context) error {
	syncer, cleanup, err := initSyncer(c, false)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := syncer.DeleteOutdatedPackages(); err != nil {
		return err
	}
	if err := syncer.DeleteUnusedLicenses(); err != nil {
		return err
	}
	syncer.Stdout.Info("prune completed")
	return nil
}

// fetchCommand fetches artifacts for pinned requirements from the remote
// repository exclusively.
func fetchCommand(c *cli.Context) error {
	syncer, cleanup, err := initSyncer(c, false)
	if err != nil {
		return err
	}
	defer cleanup()

	var reports []syncpkg.FetchReport
	if c.Bool("sdists") {
		reports, err = syncer.FetchRequiredSources(c.String("requirements"))
	} else {
		var env *pypi.Environment
		env, err = pypi.NewEnvironment(c.String("python-version"), c.String("os"))
		if err != nil {
			return err
		}
		reports, err = syncer.FetchRequiredWheels(c.String("requirements"), env)
	}
	if err != nil {
		return err
	}

	failed := 0
	for _, report := range reports {
		if report.Error != "" {
			failed++
			syncer.Stderr.Error("fetch failed",
				"requirement", report.NameVer.Specifier(),
				"error", report.Error)
		}
	}
	syncer.Stdout.Info("fetch completed", "total", len(reports), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d requirements failed", failed, len(reports))
	}
	return nil
}

// pinCommand rewrites the requirements file against the remote repository's
// latest versions.
func pinCommand(c *cli.Context) error {
	syncer, cleanup, err := initSyncer(c, false)
	if err != nil {
		return err
	}
	defer cleanup()

	updated, err := syncer.PinRequirements(c.String("requirements"))
	if err != nil {
		return err
	}
	syncer.Stdout.Info("pin completed", "updated", len(updated))
	return nil
}

// publishCommand uploads new local files as assets of the configured
// GitHub release.
func publishCommand(c *cli.Context) error {
	stdout, _, err := logger.NewPair(c.String("log-level"), c.String("log-format"))
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateForPublish(); err != nil {
		return err
	}

	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return fmt.Errorf("GITHUB_TOKEN environment variable is required for publishing")
	}

	publisher, err := publish.NewPublisher(token, cfg.Remote.Repository, cfg.Remote.ReleaseTag, stdout)
	if err != nil {
		return err
	}

	uploaded, err := publisher.PublishDirectory(c.Context, cfg.DestDir)
	if err != nil {
		return err
	}
	stdout.Info("publish completed", "uploaded", len(uploaded))
	return nil
}

// statsCommand prints fetch-audit statistics from the store.
func statsCommand(c *cli.Context) error {
	stdout, _, err := logger.NewPair(c.String("log-level"), c.String("log-format"))
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Storage.DatabasePath == "" {
		return fmt.Errorf("storage database_path is not configured")
	}

	db, err := storage.InitDB(storage.Config{
		DatabasePath: cfg.Storage.DatabasePath,
		LogLevel:     "silent",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() { _ = db.Close() }()

	stats, err := db.GetStats()
	if err != nil {
		return err
	}
	stdout.Info("fetch statistics", "stats", stats)
	return nil
}
