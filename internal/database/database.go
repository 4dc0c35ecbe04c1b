package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gluk-w/termspace/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DataPath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := Open(dbPath)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open opens the sqlite database at path and migrates the schema.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	} else if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&Account{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return db, nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Account helpers

// RecordLogin upserts the account for username and bumps its login
// counters.
func RecordLogin(username, subject, email, displayName string, at time.Time) (*Account, error) {
	var acct Account
	err := DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("username = ?", username).
			Attrs(Account{Subject: subject}).
			FirstOrCreate(&acct).Error; err != nil {
			return err
		}
		return tx.Model(&acct).Updates(map[string]interface{}{
			"email":         email,
			"display_name":  displayName,
			"login_count":   gorm.Expr("login_count + 1"),
			"last_login_at": at,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("record login for %s: %w", username, err)
	}
	return GetAccount(username)
}

func GetAccount(username string) (*Account, error) {
	var a Account
	if err := DB.Where("username = ?", username).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func ListAccounts() ([]Account, error) {
	var accounts []Account
	if err := DB.Order("id").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func AccountCount() (int64, error) {
	var count int64
	err := DB.Model(&Account{}).Count(&count).Error
	return count, err
}
