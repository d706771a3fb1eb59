package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"roadscan/internal/domain"
	"roadscan/internal/ports"
)

var (
	_ ports.DetectionRepository = (*DB)(nil)
	_ ports.ImageReferences     = (*DB)(nil)
)

const detectionColumns = `id, created_at, latitude, longitude, image_ref, damage_code, damage_name,
	confidence, bbox_x1, bbox_y1, bbox_x2, bbox_y2, notes`

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, op, err)
}

func scanDetection(row pgx.Row) (domain.DetectionRecord, error) {
	var (
		r        domain.DetectionRecord
		lat, lon *float64
	)
	err := row.Scan(&r.ID, &r.Timestamp, &lat, &lon, &r.ImageRef, &r.DamageCode, &r.DamageName,
		&r.Confidence, &r.Box.X1, &r.Box.Y1, &r.Box.X2, &r.Box.Y2, &r.Notes)
	if err != nil {
		return r, err
	}
	r.Timestamp = r.Timestamp.UTC()
	if lat != nil && lon != nil {
		r.Geotag = &domain.Geotag{Latitude: *lat, Longitude: *lon}
	}
	return r, nil
}

func collectDetections(rows pgx.Rows) ([]domain.DetectionRecord, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DetectionRecord, error) {
		return scanDetection(row)
	})
}

// Page reads the count and the page inside one read-only snapshot so that
// total and records agree.
func (db *DB) Page(ctx context.Context, limit, offset int) (records []domain.DetectionRecord, total int64, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, 0, persistErr("begin read", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err = tx.QueryRow(ctx, `SELECT count(*) FROM detections`).Scan(&total); err != nil {
		return nil, 0, persistErr("count detections", err)
	}
	if limit == 0 {
		return []domain.DetectionRecord{}, total, nil
	}
	rows, err := tx.Query(ctx, `
		SELECT `+detectionColumns+`
		FROM detections
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, persistErr("page detections", err)
	}
	records, err = collectDetections(rows)
	if err != nil {
		return nil, 0, persistErr("scan detections", err)
	}
	return records, total, nil
}

func (db *DB) Geotagged(ctx context.Context) ([]domain.DetectionRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+detectionColumns+`
		FROM detections
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, persistErr("list geotagged", err)
	}
	recs, err := collectDetections(rows)
	if err != nil {
		return nil, persistErr("scan geotagged", err)
	}
	return recs, nil
}

func (db *DB) Get(ctx context.Context, id string) (domain.DetectionRecord, error) {
	rec, err := scanDetection(db.Pool.QueryRow(ctx, `SELECT `+detectionColumns+` FROM detections WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DetectionRecord{}, fmt.Errorf("%w: detection %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.DetectionRecord{}, persistErr("get detection", err)
	}
	return rec, nil
}

func (db *DB) Summary(ctx context.Context) ([]domain.CodeCount, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT damage_code, count(*), COALESCE(sum(confidence), 0)
		FROM detections
		GROUP BY damage_code
		ORDER BY damage_code
	`)
	if err != nil {
		return nil, persistErr("summarize detections", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CodeCount, error) {
		var c domain.CodeCount
		err := row.Scan(&c.Code, &c.Count, &c.ConfidenceSum)
		return c, err
	})
	if err != nil {
		return nil, persistErr("scan summary", err)
	}
	return out, nil
}

func (db *DB) Delete(ctx context.Context, id string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM detections WHERE id = $1`, id)
	if err != nil {
		return persistErr("delete detection", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: detection %s", domain.ErrNotFound, id)
	}
	return nil
}

func (db *DB) UpdateNotes(ctx context.Context, id string, notes *string) error {
	tag, err := db.Pool.Exec(ctx, `UPDATE detections SET notes = $2 WHERE id = $1`, id, notes)
	if err != nil {
		return persistErr("update notes", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: detection %s", domain.ErrNotFound, id)
	}
	return nil
}

func (db *DB) ImageReferenced(ctx context.Context, ref string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM detections WHERE image_ref = $1)`, ref).Scan(&exists)
	if err != nil {
		return false, persistErr("check image reference", err)
	}
	return exists, nil
}
