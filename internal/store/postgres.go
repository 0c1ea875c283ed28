package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"time"

	_ "github.com/lib/pq"

	"cian-tracker/internal/models"
)

// PostgresArchive keeps a per-run history of listings in PostgreSQL. It is
// additive only: the CSV dataset stays the source of truth, the archive
// exists for ad-hoc SQL over past runs.
type PostgresArchive struct {
	db *sql.DB
}

// OpenPostgresArchive connects and ensures the schema exists.
func OpenPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to archive database: %w", err)
	}

	a := &PostgresArchive{db: db}
	if err := a.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *PostgresArchive) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listing_runs (
		id          SERIAL PRIMARY KEY,
		run_at      TIMESTAMPTZ NOT NULL,
		new_count   INTEGER NOT NULL,
		removed     INTEGER NOT NULL,
		price_chgs  INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS listing_snapshots (
		run_id           INTEGER NOT NULL REFERENCES listing_runs(id),
		offer_id         TEXT NOT NULL,
		title            TEXT,
		address          TEXT,
		price            TEXT,
		price_value      DOUBLE PRECISION,
		cian_estimation  TEXT,
		distance_km      DOUBLE PRECISION,
		status           TEXT NOT NULL,
		unpublished_date TEXT,
		updated_time     TEXT,
		PRIMARY KEY (run_id, offer_id)
	);`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// ArchiveRun stores one run's statistics and listing snapshot.
func (a *PostgresArchive) ArchiveRun(ctx context.Context, runAt time.Time, listings []models.Listing, stats models.Stats) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start archive transaction: %w", err)
	}
	defer tx.Rollback()

	var runID int
	err = tx.QueryRowContext(ctx,
		`INSERT INTO listing_runs (run_at, new_count, removed, price_chgs) VALUES ($1, $2, $3, $4) RETURNING id`,
		runAt, stats.New, stats.Removed, stats.PriceChanges).Scan(&runID)
	if err != nil {
		return fmt.Errorf("failed to insert run record: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO listing_snapshots
		 (run_id, offer_id, title, address, price, price_value, cian_estimation, distance_km, status, unpublished_date, updated_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (run_id, offer_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for i := range listings {
		l := &listings[i]
		_, err := stmt.ExecContext(ctx, runID, l.OfferID, l.Title, l.Address, l.Price,
			nullFloat(l.PriceValue), l.CianEstimation, nullFloat(l.DistanceKm),
			string(l.Status), l.UnpublishedDate, l.UpdatedTime)
		if err != nil {
			return fmt.Errorf("failed to archive listing %s: %w", l.OfferID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive run: %w", err)
	}
	log.Printf("[Store] archived run %d with %d listings", runID, len(listings))
	return nil
}

// Close releases the database connection.
func (a *PostgresArchive) Close() error {
	return a.db.Close()
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
