package database

import (
	"strings"
	"sync"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	handleOnce sync.Once
	handle     *gorm.DB
	handleErr  error
)

// Handle returns the process-wide connection, opening it on first use. Every
// request shares this one handle; there is no per-request teardown.
func Handle(databaseURL string) (*gorm.DB, error) {
	handleOnce.Do(func() {
		handle, handleErr = Open(databaseURL)
	})
	return handle, handleErr
}

func Open(databaseURL string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if strings.HasPrefix(databaseURL, "file:") || strings.HasSuffix(databaseURL, ".db") {
		return gorm.Open(sqlite.Open(databaseURL), cfg)
	}
	return gorm.Open(postgres.Open(databaseURL), cfg)
}
