package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"pinharvest/internal/domain"
)

const (
	findByLinkQuery = `SELECT id FROM pins WHERE pin_link = ? LIMIT 1`

	// Pins without a permalink are stored with a NULL pin_link and matched on
	// their image, or on their title when they have no image either.
	findByImageQuery = `SELECT id FROM pins WHERE pin_link IS NULL AND image_url = ? LIMIT 1`
	findByTitleQuery = `SELECT id FROM pins WHERE pin_link IS NULL AND image_url = '' AND title = ? LIMIT 1`

	upsertQuery = `INSERT OR REPLACE INTO pins
		(id, title, description, image_url, pin_link, board_name, author, save_count, scraped_at, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	statsQuery = `SELECT COUNT(*) AS total,
		COUNT(NULLIF(image_url, '')) AS with_images,
		AVG(save_count) AS average
		FROM pins`

	sampleQuery = `SELECT title, COALESCE(author, '') AS author, COALESCE(save_count, 0) AS save_count
		FROM pins ORDER BY id LIMIT ?`
)

// SQLiteRepository implements PinRepository on a single-file SQLite database.
type SQLiteRepository struct {
	db         *sqlx.DB
	sampleSize int
	now        func() time.Time
	log        logrus.FieldLogger
}

// NewSQLiteRepository opens the database at dbPath, creating the file and its
// directory if needed, and ensures the pins schema exists.
func NewSQLiteRepository(ctx context.Context, dbPath string, sampleSize int, logger logrus.FieldLogger) (*SQLiteRepository, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		logger.WithError(err).Error("Failed to open SQLite store")
		return nil, fmt.Errorf("failed to open sqlite db at %s: %w", dbPath, err)
	}
	version, dirty, err := runMigrations(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	// One writer; the stage owns the connection for its whole lifetime.
	db.SetMaxOpenConns(1)
	logger.WithFields(logrus.Fields{
		"path":    dbPath,
		"version": version,
		"dirty":   dirty,
	}).Info("SQLite store opened")

	return newSQLiteRepository(db, sampleSize, logger), nil
}

func newSQLiteRepository(db *sqlx.DB, sampleSize int, logger logrus.FieldLogger) *SQLiteRepository {
	return &SQLiteRepository{
		db:         db,
		sampleSize: sampleSize,
		now:        time.Now,
		log:        logger.WithField("component", "repository"),
	}
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	if err := r.db.Close(); err != nil {
		r.log.WithError(err).Error("Error closing SQLite store")
		return err
	}
	r.log.Debug("SQLite store closed")
	return nil
}

// Upsert writes pins in one transaction. Every row written by the call gets
// the same loaded_at.
func (r *SQLiteRepository) Upsert(ctx context.Context, pins []domain.Pin) (UpsertResult, error) {
	var result UpsertResult
	loadedAt := r.now().UTC().Format(time.RFC3339Nano)
	r.log.WithField("records", len(pins)).Info("Starting data load")

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.log.WithError(err).Error("Failed to begin load transaction")
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	for _, pin := range pins {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		log := r.log.WithField("pin_link", pin.PinLink)
		existing, err := r.lookup(ctx, tx, pin)
		if err != nil {
			log.WithError(err).Error("Failed to classify record")
			result.Errors++
			continue
		}

		pin.LoadedAt = loadedAt
		if err := r.write(ctx, tx, existing, pin); err != nil {
			if isUniqueViolation(err) {
				log.WithError(err).Warn("Unique constraint violation")
			} else {
				log.WithError(err).Error("Failed to write record")
			}
			result.Errors++
			continue
		}

		if existing.Valid {
			result.Updated++
		} else {
			result.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		r.log.WithError(err).Error("Failed to commit load transaction")
		return result, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"inserted": result.Inserted,
		"updated":  result.Updated,
		"errors":   result.Errors,
	}).Info("Data load completed")
	return result, nil
}

// lookup finds the id of the stored row that pin would replace.
func (r *SQLiteRepository) lookup(ctx context.Context, tx *sqlx.Tx, pin domain.Pin) (sql.NullInt64, error) {
	var id sql.NullInt64
	var err error
	switch {
	case pin.PinLink != "":
		err = tx.GetContext(ctx, &id, findByLinkQuery, pin.PinLink)
	case pin.ImageURL != "":
		err = tx.GetContext(ctx, &id, findByImageQuery, pin.ImageURL)
	default:
		err = tx.GetContext(ctx, &id, findByTitleQuery, pin.Title)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return sql.NullInt64{}, nil
	}
	return id, err
}

func (r *SQLiteRepository) write(ctx context.Context, tx *sqlx.Tx, id sql.NullInt64, pin domain.Pin) error {
	link := sql.NullString{String: pin.PinLink, Valid: pin.PinLink != ""}
	_, err := tx.ExecContext(ctx, upsertQuery,
		id,
		pin.Title,
		pin.Description,
		pin.ImageURL,
		link,
		pin.BoardName,
		pin.Author,
		pin.SaveCount,
		pin.ScrapedAt,
		pin.LoadedAt,
	)
	return err
}

type statsRow struct {
	Total      int             `db:"total"`
	WithImages int             `db:"with_images"`
	Average    sql.NullFloat64 `db:"average"`
}

// Verify reads row counts, the mean save count and a small sample.
func (r *SQLiteRepository) Verify(ctx context.Context) (domain.Stats, error) {
	var row statsRow
	if err := r.db.GetContext(ctx, &row, statsQuery); err != nil {
		r.log.WithError(err).Error("Failed to read store statistics")
		return domain.Stats{}, fmt.Errorf("failed to read statistics: %w", err)
	}

	samples := []domain.Sample{}
	if err := r.db.SelectContext(ctx, &samples, sampleQuery, r.sampleSize); err != nil {
		r.log.WithError(err).Error("Failed to read sample rows")
		return domain.Stats{}, fmt.Errorf("failed to read sample rows: %w", err)
	}

	stats := domain.Stats{
		TotalRecords:      row.Total,
		RecordsWithImages: row.WithImages,
		AverageSaveCount:  math.Round(row.Average.Float64*100) / 100,
		SampleRecords:     samples,
	}
	r.log.WithFields(logrus.Fields{
		"total_records":       stats.TotalRecords,
		"records_with_images": stats.RecordsWithImages,
		"average_save_count":  stats.AverageSaveCount,
	}).Info("Store verification completed")
	return stats, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
