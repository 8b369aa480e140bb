package model

import (
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"

	"github.com/Laisky/gemini-balance/common/config"
	"github.com/Laisky/gemini-balance/common/logger"
)

// DB is the shared log database handle. Nil when persistence is disabled.
var DB *gorm.DB

// InitDB opens the log database selected by SQL_DSN and migrates the log
// tables. SQL_DSN "none" disables persistence; empty falls back to sqlite.
func InitDB() error {
	if strings.EqualFold(config.SQLDsn, "none") {
		logger.Logger.Info("log persistence disabled")
		return nil
	}

	dialector, kind := chooseDialector()

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return errors.Wrapf(err, "open %s log database", kind)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql.DB")
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.Use(gormtracing.NewPlugin(gormtracing.WithoutMetrics())); err != nil {
		return errors.Wrap(err, "attach gorm tracing plugin")
	}

	if err := db.AutoMigrate(&RequestLog{}, &ErrorLog{}); err != nil {
		return errors.Wrap(err, "migrate log tables")
	}

	DB = db
	logger.Logger.Info("log database ready", zap.String("kind", kind))
	return nil
}

func chooseDialector() (gorm.Dialector, string) {
	dsn := config.SQLDsn
	switch {
	case dsn == "":
		return sqlite.Open(config.SQLitePath), "sqlite"
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn), "postgres"
	default:
		return mysql.Open(dsn), "mysql"
	}
}

// CloseDB closes the underlying connection pool.
func CloseDB() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return errors.Wrap(err, "get sql.DB")
	}
	return errors.Wrap(sqlDB.Close(), "close log database")
}
