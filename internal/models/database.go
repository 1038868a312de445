package models

import (
	"fmt"
	"time"

	"github.com/aistory-app/aistory/backend/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open connects to the configured database without touching the global handle.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	logLevel := logger.Warn
	if cfg.LogSQL {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		// unique violations surface as gorm.ErrDuplicatedKey on every driver
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// one writer; concurrent spends queue on the pool instead of failing with SQLITE_BUSY
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

func InitDB(cfg *config.DatabaseConfig) error {
	db, err := Open(cfg)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// AllModels lists every table owned by the application, in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&RefreshToken{},
		&Project{},
		&ProjectMember{},
		&CreditBalance{},
		&CreditTransaction{},
		&LLMConfig{},
		&SystemConfig{},
		&SystemLog{},
		&SchedulerLock{},
		&CostReport{},
	}
}

func AutoMigrate() error {
	return Migrate(DB)
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}

func GetDB() *gorm.DB {
	return DB
}

// Close releases the global connection pool.
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SeedDefaultData creates default system configs if they do not exist
func SeedDefaultData() error {
	return Seed(DB)
}

func Seed(db *gorm.DB) error {
	for _, cfg := range DefaultSystemConfigs() {
		if err := db.Where(&SystemConfig{Key: cfg.Key}).FirstOrCreate(&cfg).Error; err != nil {
			return err
		}
	}
	return nil
}
