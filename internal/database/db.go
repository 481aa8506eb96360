package database

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"time"

	"domainwarden/internal/models"

	"github.com/labstack/gommon/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the sqlite database and migrates the schema.
//
// The pool is limited to one connection: jobs run concurrently and sqlite
// allows a single writer, so callers queue at the driver instead of failing
// with SQLITE_BUSY.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn(dbPath)), &gorm.Config{
		Logger: logger.New(stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	log.Info("Migrating database...")
	err = db.AutoMigrate(
		&models.Project{},
		&models.EntryDomain{},
		&models.LandingDomain{},
		&models.DomainStatusLog{},
		&models.TrafficStats{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return db, nil
}

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000&_foreign_keys=off"
}
