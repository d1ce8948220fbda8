package storage

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinharvest/internal/domain"
	"pinharvest/internal/logging"
)

// setupTestStore opens a fresh SQLite file in a temporary directory.
func setupTestStore(t *testing.T) *SQLiteRepository {
	t.Helper()

	path := filepath.Join(t.TempDir(), "nested", "output.db")
	repo, err := NewSQLiteRepository(context.Background(), path, 5, logging.Discard())
	require.NoError(t, err, "Failed to create test SQLite repository")

	t.Cleanup(func() {
		assert.NoError(t, repo.Close())
	})
	return repo
}

func testPins() []domain.Pin {
	return []domain.Pin{
		{
			Title:     "Neural nets",
			ImageURL:  "https://i.example.com/1.jpg",
			PinLink:   "https://www.pinterest.com/pin/1/",
			BoardName: "ML",
			Author:    "ana",
			SaveCount: 1200,
			ScrapedAt: "2024-05-01T10:00:00Z",
		},
		{
			Title:     "Pandas tips",
			PinLink:   "https://www.pinterest.com/pin/2/",
			BoardName: domain.DefaultBoard,
			Author:    domain.DefaultAuthor,
			SaveCount: 0,
			ScrapedAt: "2024-05-01T10:00:01Z",
		},
		{
			Title:     "No link",
			ImageURL:  "https://i.example.com/3.jpg",
			BoardName: domain.DefaultBoard,
			Author:    "bo",
			SaveCount: 3,
			ScrapedAt: "2024-05-01T10:00:02Z",
		},
	}
}

func TestSQLiteRepository_UpsertIsIdempotent(t *testing.T) {
	repo := setupTestStore(t)
	ctx := context.Background()
	pins := testPins()

	first, err := repo.Upsert(ctx, pins)
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Inserted: 3}, first)

	before, err := repo.Verify(ctx)
	require.NoError(t, err)

	second, err := repo.Upsert(ctx, pins)
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Updated: 3}, second)

	after, err := repo.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "second application leaves the store unchanged")
}

func TestSQLiteRepository_LatestValuesWin(t *testing.T) {
	repo := setupTestStore(t)
	ctx := context.Background()

	pin := testPins()[0]
	_, err := repo.Upsert(ctx, []domain.Pin{pin})
	require.NoError(t, err)

	pin.SaveCount = 5000
	result, err := repo.Upsert(ctx, []domain.Pin{pin})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	stats, err := repo.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRecords)
	require.Len(t, stats.SampleRecords, 1)
	assert.Equal(t, 5000, stats.SampleRecords[0].SaveCount)
}

func TestSQLiteRepository_SharedLoadedAt(t *testing.T) {
	repo := setupTestStore(t)
	ctx := context.Background()
	stamp := time.Date(2024, 5, 2, 3, 4, 5, 0, time.UTC)
	repo.now = func() time.Time { return stamp }

	_, err := repo.Upsert(ctx, testPins())
	require.NoError(t, err)

	var stamps []string
	require.NoError(t, repo.db.SelectContext(ctx, &stamps, `SELECT DISTINCT loaded_at FROM pins`))
	assert.Equal(t, []string{stamp.Format(time.RFC3339Nano)}, stamps)

	var nullLinks int
	require.NoError(t, repo.db.GetContext(ctx, &nullLinks, `SELECT COUNT(*) FROM pins WHERE pin_link IS NULL`))
	assert.Equal(t, 1, nullLinks, "empty permalinks are stored as NULL")
}

func TestSQLiteRepository_Verify(t *testing.T) {
	repo := setupTestStore(t)
	ctx := context.Background()

	empty, err := repo.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalRecords)
	assert.Equal(t, 0.0, empty.AverageSaveCount)
	assert.Empty(t, empty.SampleRecords)

	_, err = repo.Upsert(ctx, testPins())
	require.NoError(t, err)

	stats, err := repo.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRecords)
	assert.Equal(t, 2, stats.RecordsWithImages)
	assert.Equal(t, 401.0, stats.AverageSaveCount)
	assert.Equal(t, []domain.Sample{
		{Title: "Neural nets", Author: "ana", SaveCount: 1200},
		{Title: "Pandas tips", Author: domain.DefaultAuthor, SaveCount: 0},
		{Title: "No link", Author: "bo", SaveCount: 3},
	}, stats.SampleRecords)
}

func TestSQLiteRepository_VerifyRoundsMean(t *testing.T) {
	repo := setupTestStore(t)
	ctx := context.Background()

	pins := testPins()
	pins[0].SaveCount = 1
	pins[1].SaveCount = 1
	pins[2].SaveCount = 0
	_, err := repo.Upsert(ctx, pins)
	require.NoError(t, err)

	stats, err := repo.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.67, stats.AverageSaveCount)
}

func TestSQLiteRepository_ReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.db")
	ctx := context.Background()

	repo, err := NewSQLiteRepository(ctx, path, 5, logging.Discard())
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, testPins())
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = NewSQLiteRepository(ctx, path, 5, logging.Discard())
	require.NoError(t, err)
	defer repo.Close()

	result, err := repo.Upsert(ctx, testPins())
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Updated: 3}, result, "each stage reopens the same store")
}

func TestSQLiteRepository_PerRecordErrorsDoNotAbort(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := newSQLiteRepository(sqlx.NewDb(db, "sqlite"), 5, logging.Discard())
	pins := testPins()[:2]

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(findByLinkQuery)).
		WithArgs(pins[0].PinLink).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectQuery(regexp.QuoteMeta(findByLinkQuery)).
		WithArgs(pins[1].PinLink).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta(upsertQuery)).
		WithArgs(sqlmock.AnyArg(), pins[1].Title, pins[1].Description, pins[1].ImageURL,
			sqlmock.AnyArg(), pins[1].BoardName, pins[1].Author, pins[1].SaveCount,
			pins[1].ScrapedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	result, err := repo.Upsert(context.Background(), pins)
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Updated: 1, Errors: 1}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRepository_WriteErrorIsCounted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := newSQLiteRepository(sqlx.NewDb(db, "sqlite"), 5, logging.Discard())
	pin := testPins()[0]

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(findByLinkQuery)).
		WithArgs(pin.PinLink).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta(upsertQuery)).
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectCommit()

	result, err := repo.Upsert(context.Background(), []domain.Pin{pin})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Errors: 1}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRepository_BeginFailureIsFatal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := newSQLiteRepository(sqlx.NewDb(db, "sqlite"), 5, logging.Discard())
	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	_, err = repo.Upsert(context.Background(), testPins())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRepository_VerifyQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := newSQLiteRepository(sqlx.NewDb(db, "sqlite"), 5, logging.Discard())
	mock.ExpectQuery(regexp.QuoteMeta(statsQuery)).WillReturnError(errors.New("no such table: pins"))

	_, err = repo.Verify(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
