// Package config provides configuration management for the thirdparty
// artifact sync system: repository endpoints, local directories, the
// supported environment matrix and verification settings.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clean-dependency-project/wheelsync/internal/pypi"
)

// Sentinel errors for configuration validation
var (
	ErrDestDirRequired       = errors.New("dest_dir is required")
	ErrCacheDirRequired      = errors.New("cache_dir is required")
	ErrLinksURLRequired      = errors.New("remote links_url is required")
	ErrRepositoryRequired    = errors.New("remote repository is required when publishing is enabled")
	ErrReleaseTagRequired    = errors.New("remote release_tag is required when publishing is enabled")
	ErrKeysDirRequired       = errors.New("keys_dir is required when verification is enabled")
	ErrUnknownPythonVersion  = errors.New("unknown python version in matrix")
	ErrUnknownOperatingSytem = errors.New("unknown operating system in matrix")
)

// Default endpoints matching the public repository layout.
const (
	DefaultPypiSimpleURL = "https://pypi.org/simple"
	DefaultLicenseDBURL  = "https://scancode-licensedb.aboutcode.org"
	DefaultDestDir       = "thirdparty"
	DefaultCacheDir      = ".cache/wheelsync"
)

// Config represents the top-level configuration structure.
type Config struct {
	DestDir  string `yaml:"dest_dir"`
	CacheDir string `yaml:"cache_dir"`

	Remote       RemoteConfig       `yaml:"remote"`
	Pypi         PypiConfig         `yaml:"pypi"`
	LicenseDB    LicenseDBConfig    `yaml:"licensedb"`
	Matrix       MatrixConfig       `yaml:"matrix"`
	Storage      StorageConfig      `yaml:"storage"`
	Verification VerificationConfig `yaml:"verification"`
}

// RemoteConfig describes the operator's own links repository: a links page
// to scrape and the GitHub release backing it for publishing.
type RemoteConfig struct {
	// LinksURL is the links page URL or a local directory path.
	LinksURL string `yaml:"links_url"`

	// BaseURL resolves relative hrefs on the links page; HrefPrefix filters
	// which hrefs belong to the repository.
	BaseURL    string `yaml:"base_url"`
	HrefPrefix string `yaml:"href_prefix"`

	// DownloadBaseURL is the direct download URL prefix for files published
	// in the repository.
	DownloadBaseURL string `yaml:"download_base_url"`

	// Repository ("owner/repo") and ReleaseTag identify the GitHub release
	// assets are published to.
	Repository string `yaml:"repository"`
	ReleaseTag string `yaml:"release_tag"`
}

// PypiConfig describes the public index.
type PypiConfig struct {
	SimpleURL string `yaml:"simple_url"`
}

// LicenseDBConfig describes the license text service.
type LicenseDBConfig struct {
	URL string `yaml:"url"`
}

// MatrixConfig is the environment matrix wheels are synced for.
type MatrixConfig struct {
	PythonVersions   []string `yaml:"python_versions"`
	OperatingSystems []string `yaml:"operating_systems"`
}

// StorageConfig represents storage configuration for fetch tracking.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	LogLevel     string `yaml:"log_level"`
}

// VerificationConfig enables detached-signature checks on fetched
// artifacts.
type VerificationConfig struct {
	Enabled bool   `yaml:"enabled"`
	KeysDir string `yaml:"keys_dir"`
}

// LoadConfig reads, parses and validates a YAML configuration file.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// DefaultConfig returns a configuration with every defaultable field
// filled in. The remote links URL still has to be set by the operator.
func DefaultConfig() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.DestDir == "" {
		c.DestDir = DefaultDestDir
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.Pypi.SimpleURL == "" {
		c.Pypi.SimpleURL = DefaultPypiSimpleURL
	}
	if c.LicenseDB.URL == "" {
		c.LicenseDB.URL = DefaultLicenseDBURL
	}
	if len(c.Matrix.PythonVersions) == 0 {
		c.Matrix.PythonVersions = append([]string{}, pypi.PythonVersions...)
	}
	if len(c.Matrix.OperatingSystems) == 0 {
		c.Matrix.OperatingSystems = append([]string{}, pypi.OperatingSystems...)
	}
}

// Validate validates the configuration structure and required fields.
func (c *Config) Validate() error {
	if c.DestDir == "" {
		return ErrDestDirRequired
	}
	if c.CacheDir == "" {
		return ErrCacheDirRequired
	}
	if c.Remote.LinksURL == "" {
		return ErrLinksURLRequired
	}
	if err := c.Matrix.Validate(); err != nil {
		return err
	}
	if c.Verification.Enabled && c.Verification.KeysDir == "" {
		return ErrKeysDirRequired
	}
	return nil
}

// Validate checks the matrix against the supported environment tables.
func (m *MatrixConfig) Validate() error {
	for _, pyver := range m.PythonVersions {
		if _, ok := pypi.ABIsByPythonVersion[pyver]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPythonVersion, pyver)
		}
	}
	for _, opsys := range m.OperatingSystems {
		if _, ok := pypi.PlatformsByOS[opsys]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownOperatingSytem, opsys)
		}
	}
	return nil
}

// ValidateForPublish checks the additional fields publishing needs.
func (c *Config) ValidateForPublish() error {
	if c.Remote.Repository == "" {
		return ErrRepositoryRequired
	}
	if c.Remote.ReleaseTag == "" {
		return ErrReleaseTagRequired
	}
	return nil
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(config *Config, filePath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filePath, err)
	}
	return nil
}
