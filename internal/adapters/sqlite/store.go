// Package sqlite is the embedded detection store, built on gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sqlitedriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"roadscan/internal/domain"
	"roadscan/internal/ports"
)

// detectionRow mirrors the detections table shared with the postgres store.
type detectionRow struct {
	ID         string    `gorm:"primaryKey;size:36"`
	CreatedAt  time.Time `gorm:"not null;index:idx_detections_created_at"`
	Latitude   *float64
	Longitude  *float64
	ImageRef   string  `gorm:"size:64;not null;index:idx_detections_image_ref"`
	DamageCode string  `gorm:"size:16;not null;index:idx_detections_damage_code"`
	DamageName string  `gorm:"size:64;not null"`
	Confidence float64 `gorm:"not null"`
	BBoxX1     float64 `gorm:"column:bbox_x1;not null"`
	BBoxY1     float64 `gorm:"column:bbox_y1;not null"`
	BBoxX2     float64 `gorm:"column:bbox_x2;not null"`
	BBoxY2     float64 `gorm:"column:bbox_y2;not null"`
	Notes      *string `gorm:"type:text"`
}

func (detectionRow) TableName() string { return "detections" }

func toRow(r domain.DetectionRecord) detectionRow {
	row := detectionRow{
		ID:         r.ID,
		CreatedAt:  r.Timestamp.UTC(),
		ImageRef:   r.ImageRef,
		DamageCode: r.DamageCode,
		DamageName: r.DamageName,
		Confidence: r.Confidence,
		BBoxX1:     r.Box.X1,
		BBoxY1:     r.Box.Y1,
		BBoxX2:     r.Box.X2,
		BBoxY2:     r.Box.Y2,
		Notes:      r.Notes,
	}
	if r.Geotag != nil {
		lat, lon := r.Geotag.Latitude, r.Geotag.Longitude
		row.Latitude, row.Longitude = &lat, &lon
	}
	return row
}

func (row detectionRow) record() domain.DetectionRecord {
	r := domain.DetectionRecord{
		ID:         row.ID,
		Timestamp:  row.CreatedAt.UTC(),
		ImageRef:   row.ImageRef,
		DamageCode: row.DamageCode,
		DamageName: row.DamageName,
		Confidence: row.Confidence,
		Box:        domain.BBox{X1: row.BBoxX1, Y1: row.BBoxY1, X2: row.BBoxX2, Y2: row.BBoxY2},
		Notes:      row.Notes,
	}
	if row.Latitude != nil && row.Longitude != nil {
		r.Geotag = &domain.Geotag{Latitude: *row.Latitude, Longitude: *row.Longitude}
	}
	return r
}

type Store struct {
	db *gorm.DB
}

var (
	_ ports.DetectionRepository = (*Store)(nil)
	_ ports.ImageReferences     = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and migrates the
// schema. ":memory:" gives a private in-memory database.
func Open(path string, log *slog.Logger) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		dsn = path + "?_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := gorm.Open(sqlitedriver.Open(dsn), &gorm.Config{Logger: newGormLogger(log)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one writer at a time; also keeps a :memory: database on a single connection
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&detectionRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, op, err)
}

type tx struct {
	db   *gorm.DB
	done bool
}

func (s *Store) Begin(ctx context.Context) (ports.DetectionTx, error) {
	t := s.db.WithContext(ctx).Begin()
	if t.Error != nil {
		return nil, persistErr("begin", t.Error)
	}
	return &tx{db: t}, nil
}

func (t *tx) Add(ctx context.Context, rec domain.DetectionRecord) error {
	row := toRow(rec)
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return persistErr("insert detection", err)
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return persistErr("commit", errors.New("transaction already finished"))
	}
	t.done = true
	if err := t.db.Commit().Error; err != nil {
		return persistErr("commit", err)
	}
	return nil
}

// Rollback is a no-op after Commit.
func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.db.Rollback().Error; err != nil {
		return persistErr("rollback", err)
	}
	return nil
}

const newestFirst = "created_at DESC, id DESC"

func (s *Store) Page(ctx context.Context, limit, offset int) ([]domain.DetectionRecord, int64, error) {
	var (
		rows  []detectionRow
		total int64
	)
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Model(&detectionRow{}).Count(&total).Error; err != nil {
			return err
		}
		if limit == 0 {
			return nil
		}
		return db.Order(newestFirst).Limit(limit).Offset(offset).Find(&rows).Error
	})
	if err != nil {
		return nil, 0, persistErr("page detections", err)
	}
	return records(rows), total, nil
}

func (s *Store) Geotagged(ctx context.Context) ([]domain.DetectionRecord, error) {
	var rows []detectionRow
	err := s.db.WithContext(ctx).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Order(newestFirst).
		Find(&rows).Error
	if err != nil {
		return nil, persistErr("list geotagged", err)
	}
	return records(rows), nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.DetectionRecord, error) {
	var row detectionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.DetectionRecord{}, fmt.Errorf("%w: detection %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.DetectionRecord{}, persistErr("get detection", err)
	}
	return row.record(), nil
}

func (s *Store) Summary(ctx context.Context) ([]domain.CodeCount, error) {
	var out []domain.CodeCount
	err := s.db.WithContext(ctx).Model(&detectionRow{}).
		Select("damage_code AS code, COUNT(*) AS count, COALESCE(SUM(confidence), 0) AS confidence_sum").
		Group("damage_code").
		Order("damage_code").
		Scan(&out).Error
	if err != nil {
		return nil, persistErr("summarize detections", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&detectionRow{})
	if res.Error != nil {
		return persistErr("delete detection", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: detection %s", domain.ErrNotFound, id)
	}
	return nil
}

func (s *Store) UpdateNotes(ctx context.Context, id string, notes *string) error {
	res := s.db.WithContext(ctx).Model(&detectionRow{}).Where("id = ?", id).Update("notes", notes)
	if res.Error != nil {
		return persistErr("update notes", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: detection %s", domain.ErrNotFound, id)
	}
	return nil
}

func (s *Store) ImageReferenced(ctx context.Context, ref string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&detectionRow{}).Where("image_ref = ?", ref).Count(&n).Error; err != nil {
		return false, persistErr("check image reference", err)
	}
	return n > 0, nil
}

func records(rows []detectionRow) []domain.DetectionRecord {
	out := make([]domain.DetectionRecord, len(rows))
	for i, row := range rows {
		out[i] = row.record()
	}
	return out
}

// gormLogger routes gorm messages into slog. SQL traces are logged at debug
// level; query errors other than record-not-found at warn.
type gormLogger struct {
	log *slog.Logger
}

func newGormLogger(log *slog.Logger) gormlogger.Interface {
	if log == nil {
		return gormlogger.Default.LogMode(gormlogger.Silent)
	}
	return gormLogger{log: log.With("component", "sqlite")}
}

func (g gormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return g }

func (g gormLogger) Info(ctx context.Context, msg string, data ...any) {
	g.log.DebugContext(ctx, fmt.Sprintf(msg, data...))
}

func (g gormLogger) Warn(ctx context.Context, msg string, data ...any) {
	g.log.WarnContext(ctx, fmt.Sprintf(msg, data...))
}

func (g gormLogger) Error(ctx context.Context, msg string, data ...any) {
	g.log.ErrorContext(ctx, fmt.Sprintf(msg, data...))
}

func (g gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	sql, rows := fc()
	elapsed := time.Since(begin)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		g.log.WarnContext(ctx, "query error", "sql", sql, "rows", rows, "duration", elapsed, "error", err)
		return
	}
	g.log.DebugContext(ctx, "query", "sql", sql, "rows", rows, "duration", elapsed)
}
