package database

import (
	"log/slog"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"pocketwebanalytics/internal/aggregation"
	"pocketwebanalytics/internal/config"
	"pocketwebanalytics/internal/dimensions"
	"pocketwebanalytics/internal/exports"
	"pocketwebanalytics/internal/hits"
	"pocketwebanalytics/internal/settings"
	"pocketwebanalytics/internal/sites"
	"pocketwebanalytics/internal/users"
)

// DBManager wraps cartridge's sqlite.Manager with migration methods.
type DBManager struct {
	*sqlite.Manager
	logger *slog.Logger
}

// NewDBManager creates a new database manager using cartridge's sqlite.Manager.
func NewDBManager(cfg *config.Config, logger *slog.Logger) *DBManager {
	sqliteCfg := sqlite.Config{
		Path:         cfg.DatabaseName,
		MaxOpenConns: cfg.GetMaxOpenConns(),
		MaxIdleConns: cfg.GetMaxIdleConns(),
		Logger:       logger,
		EnableWAL:    true,
		TxImmediate:  true,
		BusyTimeout:  5000,
	}

	return &DBManager{
		Manager: sqlite.NewManager(sqliteCfg),
		logger:  logger,
	}
}

// Init initializes the database connection.
func (dm *DBManager) Init() error {
	_, err := dm.Manager.Connect()
	return err
}

// Models returns every persisted model in dependency order.
func Models() []any {
	models := []any{
		&cache.CacheRecord{},
		&sites.Site{},
	}
	models = append(models, dimensions.All()...)
	models = append(models, &hits.Hit{})
	models = append(models, aggregation.Models()...)
	models = append(models,
		&users.User{},
		&settings.Setting{},
		&exports.Export{},
	)
	return models
}

// MigrateDatabase creates or updates every table.
func (dm *DBManager) MigrateDatabase() error {
	db := dm.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(Models()...)
	})
	if err != nil {
		dm.logger.Error("Failed to auto-migrate database", slog.Any("error", err))
		return err
	}

	if err := settings.SetupDefaultSettings(db, dm.logger); err != nil {
		return err
	}

	if err := dm.CheckpointWAL("FULL"); err != nil {
		dm.logger.Warn("Failed to checkpoint WAL after migration", slog.Any("error", err))
	}

	dm.logger.Info("Database migration completed successfully")
	return nil
}
