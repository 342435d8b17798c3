// Package storage provides fetch tracking using GORM and SQLite
package storage

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Sentinel errors following Dave Cheney's principle: define errors as values
var (
	ErrNilFetch = errors.New("fetch cannot be nil")
	ErrNotFound = errors.New("fetch not found")
)

// Fetch represents one artifact fetched into the destination directory.
type Fetch struct {
	ID uint `gorm:"primaryKey"`

	// What was fetched
	Name     string `gorm:"not null;index:idx_name_version;uniqueIndex:idx_unique_fetch"`
	Version  string `gorm:"not null;index:idx_name_version;uniqueIndex:idx_unique_fetch"`
	Kind     string `gorm:"not null;index"`
	Filename string `gorm:"not null;uniqueIndex:idx_unique_fetch"`
	FileSize int64
	Md5      string
	Sha1     string

	// Where it came from
	SourceURL  string `gorm:"not null"`
	Repository string `gorm:"type:varchar(20)"` // "remote" or "pypi"

	// When
	FetchedAt time.Time `gorm:"not null"`

	// Signature verification
	SignatureVerified bool `gorm:"not null;default:false"`
	SignatureURL      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store defines the interface for fetch storage operations
type Store interface {
	Close() error
	RecordFetch(*Fetch) error
	GetFetch(filename string) (*Fetch, error)
	IsAlreadyFetched(filename string) (bool, error)
	UpdateChecksums(id uint, md5, sha1 string, size int64) error
	ListAll() ([]*Fetch, error)
	ListByName(name string) ([]*Fetch, error)
	ListByNameVersion(name, version string) ([]*Fetch, error)
	GetStats() (map[string]interface{}, error)
}

// DB wraps gorm.DB with our fetch operations
type DB struct {
	db *gorm.DB
}

// Config holds database configuration
type Config struct {
	DatabasePath string
	LogLevel     string // silent, error, warn, info
}

// InitDB initializes the database connection and runs migrations
func InitDB(cfg Config) (*DB, error) {
	logLevel := logger.Silent
	switch cfg.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto-migrate schema
	if err := db.AutoMigrate(&Fetch{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}

// RecordFetch creates a new fetch record
func (d *DB) RecordFetch(fetch *Fetch) error {
	if fetch == nil {
		return ErrNilFetch
	}
	if err := d.db.Create(fetch).Error; err != nil {
		return fmt.Errorf("failed to record fetch: %w", err)
	}
	return nil
}

// GetFetch retrieves a fetch record by artifact filename
func (d *DB) GetFetch(filename string) (*Fetch, error) {
	var fetch Fetch
	err := d.db.Where("filename = ?", filename).First(&fetch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fetch: %w", err)
	}
	return &fetch, nil
}

// IsAlreadyFetched checks if an artifact filename was already fetched
func (d *DB) IsAlreadyFetched(filename string) (bool, error) {
	var count int64
	err := d.db.Model(&Fetch{}).Where("filename = ?", filename).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check if already fetched: %w", err)
	}
	return count > 0, nil
}

// UpdateChecksums updates the checksum and size fields of a fetch record
func (d *DB) UpdateChecksums(id uint, md5, sha1 string, size int64) error {
	if err := d.db.Model(&Fetch{}).Where("id = ?", id).Updates(map[string]interface{}{
		"md5":       md5,
		"sha1":      sha1,
		"file_size": size,
	}).Error; err != nil {
		return fmt.Errorf("failed to update checksums for fetch %d: %w", id, err)
	}
	return nil
}

// ListAll returns all fetch records
func (d *DB) ListAll() ([]*Fetch, error) {
	var fetches []*Fetch
	if err := d.db.Order("fetched_at DESC").Find(&fetches).Error; err != nil {
		return nil, fmt.Errorf("failed to list all fetches: %w", err)
	}
	return fetches, nil
}

// ListByName returns all fetch records for a package name
func (d *DB) ListByName(name string) ([]*Fetch, error) {
	var fetches []*Fetch
	if err := d.db.Where("name = ?", name).Order("fetched_at DESC").Find(&fetches).Error; err != nil {
		return nil, fmt.Errorf("failed to list fetches for %s: %w", name, err)
	}
	return fetches, nil
}

// ListByNameVersion returns all fetch records for a package name and version
func (d *DB) ListByNameVersion(name, version string) ([]*Fetch, error) {
	var fetches []*Fetch
	if err := d.db.Where("name = ? AND version = ?", name, version).
		Order("fetched_at DESC").Find(&fetches).Error; err != nil {
		return nil, fmt.Errorf("failed to list fetches for %s==%s: %w", name, version, err)
	}
	return fetches, nil
}

// GetStats returns fetch statistics
func (d *DB) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int64
	if err := d.db.Model(&Fetch{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count total fetches: %w", err)
	}
	stats["total_fetches"] = total

	var kindCounts []struct {
		Kind  string
		Count int64
	}
	if err := d.db.Model(&Fetch{}).Select("kind, COUNT(*) as count").
		Group("kind").Scan(&kindCounts).Error; err != nil {
		return nil, fmt.Errorf("failed to get kind counts: %w", err)
	}
	stats["by_kind"] = kindCounts

	var repoCounts []struct {
		Repository string
		Count      int64
	}
	if err := d.db.Model(&Fetch{}).Select("repository, COUNT(*) as count").
		Group("repository").Scan(&repoCounts).Error; err != nil {
		return nil, fmt.Errorf("failed to get repository counts: %w", err)
	}
	stats["by_repository"] = repoCounts

	return stats, nil
}
