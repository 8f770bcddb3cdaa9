package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/outreachforge/engine/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestLeaseClaimsAndMarksProcessing(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "company_id", "channel", "status", "priority"}).
		AddRow(1, 10, "email", "pending", 0).
		AddRow(2, 10, "email", "pending", 0)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.|\n)* FROM queue_items").WillReturnRows(rows)
	mock.ExpectExec("UPDATE queue_items SET status").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	items, err := s.Lease(ctx, 10, models.ChannelEmail, "worker-1", 10, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		require.Equal(t, models.QueueStatusProcessing, it.Status)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseEmptyCommitsWithoutUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "company_id", "channel", "status", "priority"})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.|\n)* FROM queue_items").WillReturnRows(rows)
	mock.ExpectCommit()

	items, err := s.Lease(ctx, 10, models.ChannelEmail, "worker-1", 10, 5*time.Minute)
	require.NoError(t, err)
	require.Empty(t, items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDrainCheckTrueCompletesRun(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("UPDATE campaign_runs SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	done, err := s.DrainCheck(ctx, 10, 99)
	require.NoError(t, err)
	require.True(t, done)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDrainCheckFalseWhenPendingRemains(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	done, err := s.DrainCheck(ctx, 10, 99)
	require.NoError(t, err)
	require.False(t, done)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseStaleLeasesReturnsCount(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE queue_items").WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.ReleaseStaleLeases(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeenWebhookEventFirstTimeTrue(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO webhook_events").WillReturnResult(sqlmock.NewResult(1, 1))

	seen, err := s.SeenWebhookEvent(ctx, "stripe", "evt_123")
	require.NoError(t, err)
	require.True(t, seen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueReturnsExistingIDOnDedupConflict(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("WITH ins AS").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	id, err := s.Enqueue(ctx, &models.QueueItem{CompanyID: 1, CampaignID: 2, LeadID: 3, Channel: models.ChannelEmail, Stage: models.StageInitial})
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunPopulatesCountsByStatus(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	runRows := sqlmock.NewRows([]string{"id", "company_id", "campaign_id", "status", "leads_total", "leads_processed"}).
		AddRow(99, 10, 1, models.RunStatusRunning, 3, 1)
	mock.ExpectQuery("SELECT (.|\n)* FROM campaign_runs").WillReturnRows(runRows)

	countRows := sqlmock.NewRows([]string{"status", "n"}).
		AddRow(models.QueueStatusSent, 1).
		AddRow(models.QueueStatusPending, 2)
	mock.ExpectQuery("SELECT status, COUNT").WillReturnRows(countRows)

	run, err := s.GetRun(ctx, 10, 99)
	require.NoError(t, err)
	require.Equal(t, 1, run.CountsByStatus[models.QueueStatusSent])
	require.Equal(t, 2, run.CountsByStatus[models.QueueStatusPending])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileBounceFailsPendingEmailItems(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE leads SET email_bounced").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE queue_items").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := s.ReconcileBounce(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
