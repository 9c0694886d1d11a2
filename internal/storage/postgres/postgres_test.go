package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigiauto/vigiauto/internal/domain"
	"github.com/vigiauto/vigiauto/internal/storage"
)

var baseTime = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func newAnnonceRepoForTest(t *testing.T) (storage.AnnonceRepo, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	return NewAnnonceRepo(db, 5*time.Second), mock
}

// annonceRows builds result rows with a representative column subset,
// newest first to mirror the created_at DESC ordering of the queries.
func annonceRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "source", "fingerprint", "fingerprint_soft", "titre", "prix", "score_total", "created_at"})
	for i, id := range ids {
		rows.AddRow(id, "leboncoin", "fp-"+id, "soft-fp", "Peugeot 207 1.6 HDi", 2800, 78, baseTime.Add(-time.Duration(i)*time.Hour))
	}
	return rows
}

func TestBuildUpsertSQL(t *testing.T) {
	query := buildUpsertSQL()

	assert.Contains(t, query, "INSERT INTO annonces")
	assert.Contains(t, query, "ON CONFLICT (fingerprint) DO UPDATE SET")
	assert.Contains(t, query, "RETURNING id, created_at")

	// Refreshed on every save.
	assert.Contains(t, query, "updated_at = EXCLUDED.updated_at")
	assert.Contains(t, query, "prix = EXCLUDED.prix")
	assert.Contains(t, query, "score_total = EXCLUDED.score_total")

	// Identity columns must keep the stored row's values.
	assert.NotContains(t, query, "EXCLUDED.id")
	assert.NotContains(t, query, "fingerprint = EXCLUDED.fingerprint")
	assert.NotContains(t, query, "created_at = EXCLUDED.created_at")
}

func TestSave_SyncsIdentityFromStoredRow(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	storedCreated := baseTime.Add(-48 * time.Hour)
	mock.ExpectQuery(`INSERT INTO annonces .*ON CONFLICT \(fingerprint\) DO UPDATE SET.*RETURNING id, created_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("original-uuid", storedCreated))

	a := &domain.Annonce{
		ID:          "candidate-uuid",
		Source:      domain.SourceLeboncoin,
		URL:         "https://www.leboncoin.fr/ad/1",
		Fingerprint: "fp-1",
		Titre:       "Peugeot 207 1.6 HDi",
	}
	require.NoError(t, repo.Save(context.Background(), a))

	// A duplicate save adopts the first row's identity.
	assert.Equal(t, "original-uuid", a.ID)
	assert.True(t, a.CreatedAt.Equal(storedCreated))
	assert.False(t, a.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_WrapsUniqueViolation(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	mock.ExpectQuery(`INSERT INTO annonces`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	err := repo.Save(context.Background(), &domain.Annonce{Fingerprint: "fp-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicting annonce row")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestByID_NilWhenAbsent(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	mock.ExpectQuery(`FROM annonces WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(annonceRows())

	a, err := repo.ByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestByFingerprint_DecodesJSONColumns(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	rows := sqlmock.NewRows([]string{"id", "source", "fingerprint", "titre", "prix", "images_urls", "keywords_risque", "score_breakdown", "created_at"}).
		AddRow("a1", "leboncoin", "fp-a1", "Peugeot 207", 2800,
			[]byte(`["https://img/1.jpg","https://img/2.jpg"]`),
			[]byte(`["ct_refuse"]`),
			[]byte(`{"total":61,"margin_min":400,"margin_max":1400,"repair_cost_estimate":400}`),
			baseTime)

	mock.ExpectQuery(`FROM annonces WHERE fingerprint = \$1`).
		WithArgs("fp-a1").
		WillReturnRows(rows)

	a, err := repo.ByFingerprint(context.Background(), "fp-a1")
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.Equal(t, "a1", a.ID)
	require.NotNil(t, a.Prix)
	assert.Equal(t, 2800, *a.Prix)
	assert.Equal(t, []string{"https://img/1.jpg", "https://img/2.jpg"}, a.ImagesURLs)
	assert.Equal(t, []string{"ct_refuse"}, a.KeywordsRisque)
	assert.Equal(t, 61, a.ScoreBreakdown.Total)
	assert.Equal(t, 400, a.ScoreBreakdown.MarginMin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestByURL_MatchesCanonicalToo(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	mock.ExpectQuery(`FROM annonces WHERE url = \$1 OR url_canonique = \$1 LIMIT 1`).
		WithArgs("https://www.leboncoin.fr/ad/1").
		WillReturnRows(annonceRows("a1"))

	a, err := repo.ByURL(context.Background(), "https://www.leboncoin.fr/ad/1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "a1", a.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBySourceListing_EmptyIDShortCircuits(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	a, err := repo.BySourceListing(context.Background(), domain.SourceLeboncoin, "")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExists_FingerprintHitSkipsURLQuery(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	mock.ExpectQuery(`SELECT 1 FROM annonces WHERE fingerprint = \$1 LIMIT 1`).
		WithArgs("fp-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	found, err := repo.Exists(context.Background(), "fp-1", "https://www.leboncoin.fr/ad/1")
	require.NoError(t, err)
	assert.True(t, found)
	// No url query was registered: reaching it would have failed the test.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExists_FallsBackToURL(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	mock.ExpectQuery(`SELECT 1 FROM annonces WHERE fingerprint = \$1 LIMIT 1`).
		WithArgs("fp-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectQuery(`SELECT 1 FROM annonces WHERE url = \$1 OR url_canonique = \$1 LIMIT 1`).
		WithArgs("https://www.leboncoin.fr/ad/1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	found, err := repo.Exists(context.Background(), "fp-1", "https://www.leboncoin.fr/ad/1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExists_Absent(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	mock.ExpectQuery(`SELECT 1 FROM annonces WHERE fingerprint = \$1 LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectQuery(`SELECT 1 FROM annonces WHERE url = \$1 OR url_canonique = \$1 LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	found, err := repo.Exists(context.Background(), "fp-1", "https://www.leboncoin.fr/ad/1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_UnknownOrderFallsBackToScore(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	mock.ExpectQuery(`FROM annonces ORDER BY score_total DESC LIMIT \$1 OFFSET \$2`).
		WithArgs(100, 0).
		WillReturnRows(annonceRows("a1", "a2"))

	list, err := repo.List(context.Background(), storage.Filter{OrderBy: "prix; DROP TABLE annonces"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a1", list[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_FilterComposition(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	minScore := 60
	mock.ExpectQuery(`FROM annonces WHERE source = \$1 AND score_total >= \$2 AND notified = FALSE ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("leboncoin", 60, 10, 5).
		WillReturnRows(annonceRows("a1"))

	list, err := repo.List(context.Background(), storage.Filter{
		Source:      domain.SourceLeboncoin,
		MinScore:    &minScore,
		NotNotified: true,
		OrderBy:     "created_at DESC",
		Limit:       10,
		Offset:      5,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCount_AppliesFilter(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM annonces WHERE alert_level = \$1`).
		WithArgs("urgent").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.Count(context.Background(), storage.Filter{AlertLevel: domain.AlertUrgent})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotified(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	mock.ExpectExec(`UPDATE annonces SET notified = TRUE, notified_at = \$1, notify_channels = \$2, updated_at = \$1 WHERE id = \$3`).
		WithArgs(sqlmock.AnyArg(), []byte(`["discord"]`), "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkNotified(context.Background(), "a1", []string{"discord"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	mock.ExpectExec(`UPDATE annonces SET status = \$1, ignore_reason = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs("ignore", "trop cher", sqlmock.AnyArg(), "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "a1", domain.StatusIgnore, "trop cher")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	mock.ExpectExec(`DELETE FROM annonces WHERE id = \$1`).
		WithArgs("a1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "a1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsNearDuplicate_SkipsOwnRow(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	mock.ExpectQuery(`FROM annonces WHERE fingerprint_soft = \$1 ORDER BY created_at DESC`).
		WithArgs("soft-fp").
		WillReturnRows(annonceRows("self", "other"))

	candidate := &domain.Annonce{ID: "self", FingerprintSoft: "soft-fp"}
	dup, match, err := repo.IsNearDuplicate(context.Background(), candidate)
	require.NoError(t, err)
	assert.True(t, dup)
	require.NotNil(t, match)
	assert.Equal(t, "other", match.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsNearDuplicate_EmptySoftFingerprint(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	dup, match, err := repo.IsNearDuplicate(context.Background(), &domain.Annonce{ID: "a1"})
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Nil(t, match)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentFingerprints(t *testing.T) {
	repo, mock := newAnnonceRepoForTest(t)

	rows := sqlmock.NewRows([]string{"source", "source_listing_id", "url_canonique", "fingerprint"}).
		AddRow("leboncoin", "123", "https://www.leboncoin.fr/ad/123", "fp-1").
		AddRow("autoscout24", "456", "https://www.autoscout24.fr/ad/456", "fp-2")

	mock.ExpectQuery(`FROM annonces WHERE created_at >= \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs(sqlmock.AnyArg(), 5000).
		WillReturnRows(rows)

	keys, err := repo.RecentFingerprints(context.Background(), 24*time.Hour, 0)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, domain.SourceLeboncoin, keys[0].Source)
	assert.Equal(t, "fp-2", keys[1].Fingerprint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanLog_StartAndEnd(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewScanLogRepo(db, 5*time.Second)

	mock.ExpectQuery(`INSERT INTO scan_history \(source, started_at, status\) VALUES \(\$1, \$2, \$3\) RETURNING id`).
		WithArgs("leboncoin", sqlmock.AnyArg(), "running").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := repo.Start(context.Background(), domain.SourceLeboncoin)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	mock.ExpectExec(`UPDATE scan_history SET .*duration_seconds = EXTRACT\(EPOCH FROM \(\$1::timestamptz - started_at\)\) WHERE id = \$7`).
		WithArgs(sqlmock.AnyArg(), "ok", 25, 3, 0, "", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.End(context.Background(), id, 25, 3, 0, storage.ScanStatusOK, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanLog_OneShot(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewScanLogRepo(db, 5*time.Second)

	finished := baseTime.Add(42 * time.Second)
	mock.ExpectExec(`INSERT INTO scan_history \(source, started_at, finished_at, status, listings_found, listings_new, errors_count, error_message, duration_seconds\)`).
		WithArgs("marketplace", baseTime, &finished, "error", 10, 0, 2, "blocked", 42.0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Log(context.Background(), storage.ScanRecord{
		Source:          domain.SourceMarketplace,
		StartedAt:       baseTime,
		FinishedAt:      &finished,
		Status:          storage.ScanStatusError,
		ListingsFound:   10,
		ErrorsCount:     2,
		ErrorMessage:    "blocked",
		DurationSeconds: 42.0,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanLog_Recent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewScanLogRepo(db, 5*time.Second)

	finished := baseTime.Add(30 * time.Second)
	rows := sqlmock.NewRows([]string{"id", "source", "started_at", "finished_at", "status", "listings_found", "listings_new", "errors_count", "error_message", "duration_seconds"}).
		AddRow(int64(2), "leboncoin", baseTime, &finished, "ok", 25, 3, 0, "", 30.0).
		AddRow(int64(1), "autoscout24", baseTime.Add(-time.Hour), nil, "running", 0, 0, 0, "", 0.0)

	mock.ExpectQuery(`FROM scan_history ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(20).
		WillReturnRows(rows)

	recs, err := repo.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(2), recs[0].ID)
	assert.Equal(t, storage.ScanStatusOK, recs[0].Status)
	require.NotNil(t, recs[0].FinishedAt)
	assert.Nil(t, recs[1].FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStats_Global(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewStatsRepo(db, 5*time.Second)

	rows := sqlmock.NewRows([]string{"total", "urgent", "interessant", "surveiller", "archive", "avg_score", "notified", "last_24h"}).
		AddRow(42, 2, 7, 11, 22, 63.5, 9, 5)
	mock.ExpectQuery(`FROM v_stats`).WillReturnRows(rows)

	stats, err := repo.Global(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storage.GlobalStats{
		Total: 42, Urgent: 2, Interessant: 7, Surveiller: 11, Archive: 22,
		AvgScore: 63.5, Notified: 9, Last24h: 5,
	}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStats_BySource(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewStatsRepo(db, 5*time.Second)

	rows := sqlmock.NewRows([]string{"source", "total", "avg_score", "urgent", "last_scraped_at"}).
		AddRow("autoscout24", 12, 55.0, 1, baseTime).
		AddRow("leboncoin", 30, 64.2, 1, nil)
	mock.ExpectQuery(`FROM v_stats_par_source`).WillReturnRows(rows)

	activity, err := repo.BySource(context.Background())
	require.NoError(t, err)
	require.Len(t, activity, 2)
	assert.Equal(t, "autoscout24", activity[0].Source)
	require.NotNil(t, activity[0].LastScrapedAt)
	assert.Nil(t, activity[1].LastScrapedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS annonces")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, EnsureSchema(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarshalList_EmptyNeverNull(t *testing.T) {
	data, err := marshalList(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	items, err := unmarshalList(nil)
	require.NoError(t, err)
	assert.Nil(t, items)
}

func TestBuildFilter_Empty(t *testing.T) {
	where, args := buildFilter(storage.Filter{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}
