package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"roadscan/internal/domain"
	"roadscan/internal/ports"
)

// detectionTx queues inserts and sends them in one round trip on Commit,
// inside a single database transaction.
type detectionTx struct {
	tx    pgx.Tx
	batch pgx.Batch
	done  bool
}

func (db *DB) Begin(ctx context.Context) (ports.DetectionTx, error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, persistErr("begin", err)
	}
	return &detectionTx{tx: tx}, nil
}

func (t *detectionTx) Add(ctx context.Context, r domain.DetectionRecord) error {
	if t.done {
		return persistErr("add", errors.New("transaction already finished"))
	}
	var lat, lon *float64
	if r.Geotag != nil {
		lat, lon = &r.Geotag.Latitude, &r.Geotag.Longitude
	}
	t.batch.Queue(`
		INSERT INTO detections (`+detectionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, r.ID, r.Timestamp.UTC(), lat, lon, r.ImageRef, r.DamageCode, r.DamageName,
		r.Confidence, r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2, r.Notes)
	return nil
}

// Commit sends the queued inserts and commits. On any failure the
// transaction is rolled back before returning.
func (t *detectionTx) Commit(ctx context.Context) (err error) {
	if t.done {
		return persistErr("commit", errors.New("transaction already finished"))
	}
	t.done = true
	defer func() {
		if err != nil {
			_ = t.tx.Rollback(ctx)
		}
	}()

	if n := t.batch.Len(); n > 0 {
		br := t.tx.SendBatch(ctx, &t.batch)
		for i := range n {
			if _, err = br.Exec(); err != nil {
				br.Close()
				return persistErr(fmt.Sprintf("insert detection %d/%d", i+1, n), err)
			}
		}
		if err = br.Close(); err != nil {
			return persistErr("close batch", err)
		}
	}
	if err = t.tx.Commit(ctx); err != nil {
		return persistErr("commit", err)
	}
	return nil
}

func (t *detectionTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return persistErr("rollback", err)
	}
	return nil
}
