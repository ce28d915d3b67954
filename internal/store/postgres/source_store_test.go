package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Unix(1_700_000_000, 0).UTC()

func newMockStore(t *testing.T) (*SourceStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewSourceStoreWithPool(mock, fixedClock{now: testNow})
	require.NoError(t, err)
	return store, mock
}

func TestCreateSourceInsertsRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	src := ingest.Source{
		ID:         "src-1",
		AgentID:    "agent-1",
		ProjectID:  "proj-1",
		Type:       ingest.SourceTypeWebsite,
		Status:     ingest.SourceStatusQueued,
		WebsiteURL: "https://example.com",
		CreatedAt:  testNow,
	}

	mock.ExpectExec("INSERT INTO sources").
		WithArgs(
			src.ID, src.AgentID, src.ProjectID, "website", "queued",
			src.WebsiteURL, []byte(`[]`), 0, []byte(`{}`), testNow, testNow,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateSource(context.Background(), src))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSource_RequiresID(t *testing.T) {
	t.Parallel()
	store, _ := newMockStore(t)

	require.Error(t, store.CreateSource(context.Background(), ingest.Source{}))
}

func TestUpdateSource_StatusOnly(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	status := ingest.SourceStatusProcessing
	mock.ExpectExec(`UPDATE sources SET updated_at = \$2, status = \$3 WHERE id = \$1`).
		WithArgs("src-1", testNow, "processing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateSource(context.Background(), "src-1", ingest.SourceUpdate{Status: &status})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSource_MissingRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	status := ingest.SourceStatusReady
	mock.ExpectExec(`UPDATE sources`).
		WithArgs("ghost", testNow, "ready").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateSource(context.Background(), "ghost", ingest.SourceUpdate{Status: &status})
	require.ErrorIs(t, err, ingest.ErrSourceNotFound)
}

func TestUpdateSourceIf_PredicateNoLongerHolds(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	status := ingest.SourceStatusError
	mock.ExpectExec(`UPDATE sources SET .+ AND status = ANY\(\$4\)`).
		WithArgs("src-1", testNow, "error", []string{"processing", "queued"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	applied, err := store.UpdateSourceIf(
		context.Background(),
		"src-1",
		[]ingest.SourceStatus{ingest.SourceStatusProcessing, ingest.SourceStatusQueued},
		ingest.SourceUpdate{Status: &status},
	)
	require.NoError(t, err)
	require.False(t, applied, "a source that moved on must not be overwritten")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSource_NotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM sources WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetSource(context.Background(), "missing")
	require.ErrorIs(t, err, ingest.ErrSourceNotFound)
}

func TestListSources_FilterByStatus(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "agent_id", "project_id", "type", "status", "website_url",
		"links", "chunk_count", "metadata", "created_at", "updated_at",
	}).AddRow(
		"src-1", "agent-1", "proj-1", "website", "processing", "https://example.com",
		[]byte(`[{"id":"l1","text":"Docs","url":"https://example.com/docs","verified":true}]`),
		3, []byte(`{"note":"x"}`), testNow, testNow,
	)

	mock.ExpectQuery(`SELECT .+ FROM sources WHERE status = ANY\(\$1\)`).
		WithArgs([]string{"processing", "queued"}).
		WillReturnRows(rows)

	got, err := store.ListSources(context.Background(), ingest.SourceFilter{
		Statuses: []ingest.SourceStatus{ingest.SourceStatusProcessing, ingest.SourceStatusQueued},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, ingest.SourceStatusProcessing, got[0].Status)
	require.Len(t, got[0].Links, 1)
	require.Equal(t, "https://example.com/docs", got[0].Links[0].URL)
	require.Equal(t, "x", got[0].Metadata["note"])
}
