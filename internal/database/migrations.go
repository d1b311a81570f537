package database

import (
	"errors"
	"time"

	"github.com/castplanhq/castplan/internal/cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationPruneOrphanReadinessFlags = "2026-08-20_prune_orphan_readiness_flags"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationPruneOrphanReadinessFlags, apply: pruneOrphanReadinessFlags},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// pruneOrphanReadinessFlags drops readiness flags whose record no longer
// exists in the cached upcoming set; earlier builds never cleaned them up.
func pruneOrphanReadinessFlags(db *gorm.DB) error {
	return db.
		Where("record_id NOT IN (?)", db.Model(&cache.CachedRecord{}).Select("record_id")).
		Delete(&cache.ReadinessFlag{}).Error
}
