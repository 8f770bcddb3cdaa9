package reminder

import (
	"context"
	"testing"
	"time"

	null "gopkg.in/volatiletech/null.v6"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreachforge/engine/internal/models"
	"github.com/outreachforge/engine/internal/obs"
)

type fakeStore struct {
	companies  []models.Company
	campaign   models.Campaign
	candidates map[string][]models.Log // keyed by prior stage ("" for r1)
	enqueued   []*models.QueueItem
}

func (f *fakeStore) ListActiveCompanies(ctx context.Context) ([]models.Company, error) {
	return f.companies, nil
}
func (f *fakeStore) GetCampaign(ctx context.Context, companyID, campaignID int64) (*models.Campaign, error) {
	c := f.campaign
	return &c, nil
}
func (f *fakeStore) ListReminderCandidates(ctx context.Context, companyID int64, channel models.Channel, priorStage string) ([]models.Log, error) {
	if channel != models.ChannelEmail {
		return nil, nil
	}
	return f.candidates[priorStage], nil
}
func (f *fakeStore) Enqueue(ctx context.Context, q *models.QueueItem) (int64, error) {
	f.enqueued = append(f.enqueued, q)
	return int64(len(f.enqueued)), nil
}

func TestSweepEnqueuesDueReminderWithStrategy(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		companies: []models.Company{{ID: 1, Status: models.CompanyStatusActive}},
		campaign:  models.Campaign{ID: 7, NReminders: 2, DaysBetween: 3},
		candidates: map[string][]models.Log{
			"": {{ID: 100, CampaignID: 7, LeadID: 5, SentAt: now.Add(-4 * 24 * time.Hour)}},
		},
	}
	s := New(fs, obs.NewNop())

	require.NoError(t, s.Sweep(context.Background(), now))
	require.Len(t, fs.enqueued, 1)
	assert.Equal(t, "r1", fs.enqueued[0].Stage)
	assert.Equal(t, "gentle", fs.enqueued[0].Strategy.String)
	assert.Equal(t, int64(100), fs.enqueued[0].ParentLogID.Int)
	assert.False(t, fs.enqueued[0].RunID.Valid)
}

func TestSweepSkipsNotYetDueReminder(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		companies: []models.Company{{ID: 1, Status: models.CompanyStatusActive}},
		campaign:  models.Campaign{ID: 7, NReminders: 2, DaysBetween: 3},
		candidates: map[string][]models.Log{
			"": {{ID: 100, CampaignID: 7, LeadID: 5, SentAt: now.Add(-1 * 24 * time.Hour)}},
		},
	}
	s := New(fs, obs.NewNop())

	require.NoError(t, s.Sweep(context.Background(), now))
	assert.Empty(t, fs.enqueued)
}

func TestSweepSkipsStagesBeyondNReminders(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		companies: []models.Company{{ID: 1, Status: models.CompanyStatusActive}},
		campaign:  models.Campaign{ID: 7, NReminders: 1, DaysBetween: 1},
		candidates: map[string][]models.Log{
			"r1": {{ID: 101, CampaignID: 7, LeadID: 6, SentAt: now.Add(-10 * 24 * time.Hour)}},
		},
	}
	s := New(fs, obs.NewNop())

	require.NoError(t, s.Sweep(context.Background(), now))
	assert.Empty(t, fs.enqueued)
}

func TestSweepSecondStageCadenceMeasuredFromLastReminder(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		companies: []models.Company{{ID: 1, Status: models.CompanyStatusActive}},
		campaign:  models.Campaign{ID: 7, NReminders: 2, DaysBetween: 2},
		candidates: map[string][]models.Log{
			// Original send was 6 days ago (long past r1's 2d cadence), but
			// r1 was only actually sent 1 day ago — r2 (2d cadence from r1)
			// must not be due yet.
			"r1": {{
				ID: 200, CampaignID: 7, LeadID: 9,
				SentAt:             now.Add(-6 * 24 * time.Hour),
				LastReminderSent:   null.StringFrom("r1"),
				LastReminderSentAt: null.TimeFrom(now.Add(-1 * 24 * time.Hour)),
			}},
		},
	}
	s := New(fs, obs.NewNop())

	require.NoError(t, s.Sweep(context.Background(), now))
	assert.Empty(t, fs.enqueued)
}
