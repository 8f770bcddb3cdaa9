package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	null "gopkg.in/volatiletech/null.v6"
)

func TestCompanyIsActive(t *testing.T) {
	c := &Company{Status: CompanyStatusActive}
	assert.True(t, c.IsActive())

	c.Status = CompanyStatusSuspended
	assert.False(t, c.IsActive())
}

func TestLeadHasContact(t *testing.T) {
	l := &Lead{Email: null.StringFrom("a@b.com")}
	assert.True(t, l.HasContact(ChannelEmail))
	assert.False(t, l.HasContact(ChannelCall))

	l.EmailBounced = true
	assert.False(t, l.HasContact(ChannelEmail))

	l2 := &Lead{Phone: null.StringFrom("+15551234567")}
	assert.True(t, l2.HasContact(ChannelCall))

	l3 := &Lead{LinkedInID: null.StringFrom("abc123")}
	assert.True(t, l3.HasContact(ChannelLinkedIn))
}

func TestCampaignCadenceFor(t *testing.T) {
	c := &Campaign{DaysBetween: 5}
	assert.Equal(t, 5*24*time.Hour, c.CadenceFor(1))
	assert.Equal(t, 5*24*time.Hour, c.CadenceFor(3))

	c.ReminderCadence = []time.Duration{2 * 24 * time.Hour, 7 * 24 * time.Hour}
	assert.Equal(t, 2*24*time.Hour, c.CadenceFor(1))
	assert.Equal(t, 7*24*time.Hour, c.CadenceFor(2))
	assert.Equal(t, 5*24*time.Hour, c.CadenceFor(3))

	empty := &Campaign{}
	assert.Equal(t, 3*24*time.Hour, empty.CadenceFor(1))
}

func TestCampaignHasChannel(t *testing.T) {
	c := &Campaign{Channels: []Channel{ChannelEmail, ChannelCall}}
	assert.True(t, c.HasChannel(ChannelEmail))
	assert.False(t, c.HasChannel(ChannelLinkedIn))
}

func TestQueueItemIsTerminal(t *testing.T) {
	q := &QueueItem{Status: QueueStatusPending}
	assert.False(t, q.IsTerminal())
	q.Status = QueueStatusSent
	assert.True(t, q.IsTerminal())
	q.Status = QueueStatusCancelled
	assert.True(t, q.IsTerminal())
}

func TestJSONMapScanValue(t *testing.T) {
	m := JSONMap{"foo": "bar"}
	v, err := m.Value()
	assert.NoError(t, err)

	var out JSONMap
	assert.NoError(t, out.Scan(v))
	assert.Equal(t, "bar", out["foo"])

	var nilMap JSONMap
	assert.NoError(t, nilMap.Scan(nil))
	assert.Nil(t, nilMap)
}

func TestReminderStage(t *testing.T) {
	assert.Equal(t, "r1", ReminderStage(1))
	assert.Equal(t, "r2", ReminderStage(2))
}

func TestProductIsDeleted(t *testing.T) {
	p := &Product{}
	assert.False(t, p.IsDeleted())
	p.DeletedAt = null.TimeFrom(time.Now())
	assert.True(t, p.IsDeleted())
}
