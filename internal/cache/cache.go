package cache

import (
	"context"
	"errors"
	"time"

	"github.com/castplanhq/castplan/internal/schedule"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("cache: database handle is required")

// CachedRecord persists one upcoming live-broadcast record so the auto-start
// feature can pick it up again after a process restart.
type CachedRecord struct {
	RecordID       string `gorm:"column:record_id;primaryKey;size:190;not null"`
	Title          string `gorm:"column:title;type:text;not null"`
	Date           string `gorm:"column:date;size:10;not null"`
	StartTime      string `gorm:"column:start_time;size:5;not null"`
	EndTime        string `gorm:"column:end_time;size:5;not null"`
	Description    string `gorm:"column:description;type:text;not null;default:''"`
	Category       string `gorm:"column:category;size:32;not null"`
	RemoteID       string `gorm:"column:remote_id;size:190;not null;default:''"`
	Origin         string `gorm:"column:origin;size:16;not null"`
	SavedAtSeconds int64  `gorm:"column:saved_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CachedRecord) TableName() string {
	return "cached_upcoming"
}

// ReadinessFlag persists per-record broadcast readiness keyed by record id.
type ReadinessFlag struct {
	RecordID         string `gorm:"column:record_id;primaryKey;size:190;not null"`
	Ready            bool   `gorm:"column:ready;not null;default:false"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ReadinessFlag) TableName() string {
	return "readiness_flags"
}

type CacheConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Cache is the persisted key-value side-channel for the engine.
type Cache struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

func NewCache(cfg CacheConfig) (*Cache, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{db: cfg.Database, clock: clock, logger: logger}, nil
}

// SaveUpcoming replaces the persisted upcoming subset.
func (c *Cache) SaveUpcoming(ctx context.Context, records []schedule.Record) error {
	savedAt := c.clock().UTC().Unix()
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&CachedRecord{}).Error; err != nil {
			return err
		}
		for _, record := range records {
			cached := CachedRecord{
				RecordID:       record.ID,
				Title:          record.Title,
				Date:           record.Date.String(),
				StartTime:      record.StartTime.String(),
				EndTime:        record.EndTime.String(),
				Description:    record.Description,
				Category:       string(record.Category),
				RemoteID:       record.RemoteID,
				Origin:         string(record.Origin),
				SavedAtSeconds: savedAt,
			}
			if err := tx.Create(&cached).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadUpcoming restores the persisted upcoming subset. Rows that no longer
// parse are skipped with a warning rather than failing the whole load.
func (c *Cache) LoadUpcoming(ctx context.Context) ([]schedule.Record, error) {
	var rows []CachedRecord
	if err := c.db.WithContext(ctx).Order("date, start_time").Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]schedule.Record, 0, len(rows))
	for _, row := range rows {
		record, err := row.toRecord()
		if err != nil {
			c.logger.Warn("skipping corrupt cached record",
				zap.String("record_id", row.RecordID), zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// SetReadiness upserts the readiness flag for a record.
func (c *Cache) SetReadiness(ctx context.Context, recordID string, ready bool) error {
	flag := ReadinessFlag{
		RecordID:         recordID,
		Ready:            ready,
		UpdatedAtSeconds: c.clock().UTC().Unix(),
	}
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"ready", "updated_at_s"}),
		}).
		Create(&flag).Error
}

// GetReadiness reports the persisted readiness flag; absent means not ready.
func (c *Cache) GetReadiness(ctx context.Context, recordID string) (bool, error) {
	var flag ReadinessFlag
	err := c.db.WithContext(ctx).Where("record_id = ?", recordID).Take(&flag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return flag.Ready, nil
}

func (row CachedRecord) toRecord() (schedule.Record, error) {
	date, err := schedule.ParseDate(row.Date)
	if err != nil {
		return schedule.Record{}, err
	}
	startTime, err := schedule.ParseClockTime(row.StartTime)
	if err != nil {
		return schedule.Record{}, err
	}
	endTime, err := schedule.ParseClockTime(row.EndTime)
	if err != nil {
		return schedule.Record{}, err
	}
	category, err := schedule.ParseCategory(row.Category)
	if err != nil {
		return schedule.Record{}, err
	}
	return schedule.Record{
		ID:          row.RecordID,
		Title:       row.Title,
		Date:        date,
		StartTime:   startTime,
		EndTime:     endTime,
		Description: row.Description,
		Category:    category,
		RemoteID:    row.RemoteID,
		Origin:      schedule.Origin(row.Origin),
	}, nil
}
