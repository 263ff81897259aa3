package database

import (
	"fmt"
	"time"

	"github.com/damoang/angple-social/internal/config"
	"github.com/damoang/angple-social/internal/domain"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the configured database and applies pool settings
func Open(cfg *config.Config) (*gorm.DB, error) {
	logMode := gormlogger.Warn
	if cfg.IsDevelopment() {
		logMode = gormlogger.Info
	}
	gormCfg := &gorm.Config{
		Logger:  gormlogger.Default.LogMode(logMode),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "sqlite":
		path := cfg.Database.Path
		if path == "" {
			path = "angple-social.db"
		}
		dialector = sqlite.Open(path)
	default:
		mysqlCfg, err := mysqldriver.ParseDSN(cfg.Database.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("parse DSN: %w", err)
		}
		if mysqlCfg.Params == nil {
			mysqlCfg.Params = map[string]string{}
		}
		mysqlCfg.Params["time_zone"] = "'+00:00'"
		dialector = mysql.Open(mysqlCfg.FormatDSN())
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if cfg.Database.Driver == "sqlite" {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}

	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	return db, nil
}

// Migrate creates or updates the chat schema. The users table belongs to
// the account service and is only created outside production.
func Migrate(db *gorm.DB, includeUsers bool) error {
	if err := db.AutoMigrate(&domain.Message{}); err != nil {
		return fmt.Errorf("migrate chat_messages: %w", err)
	}
	if includeUsers {
		if err := db.AutoMigrate(&domain.UserProfile{}); err != nil {
			return fmt.Errorf("migrate users: %w", err)
		}
	}
	return nil
}
