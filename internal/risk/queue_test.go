package risk

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homefix/appointment-scheduling/internal/appointment"
)

func newQueueFixture() (*QueueManager, *fakeRiskRepo, *time.Time) {
	repo := newFakeRiskRepo(nil)
	now := time.Date(2026, 9, 7, 8, 0, 0, 0, time.UTC)
	m := NewQueueManager(repo)
	m.now = func() time.Time { return now }
	return m, repo, &now
}

func highAssessment() Assessment {
	return Assessment{
		Score:   85,
		Level:   appointment.RiskHigh,
		Reasons: []string{ReasonClientNotConfirmed, ReasonWindowWithin2h},
	}
}

func TestSyncOpensItemForActionableLevel(t *testing.T) {
	m, repo, now := newQueueFixture()
	appointmentID := uuid.New()

	err := m.Sync(context.Background(), appointmentID, highAssessment(), appointment.RiskMedium)
	require.NoError(t, err)

	item, err := repo.GetOpenQueueItem(context.Background(), appointmentID)
	require.NoError(t, err)
	assert.Equal(t, appointment.RiskHigh, item.RiskLevel)
	assert.Equal(t, 85, item.Score)
	assert.Equal(t, *now, item.FirstDetectedAt)
	assert.Equal(t, *now, item.LastDetectedAt)
}

func TestSyncRefreshesOpenItemInPlace(t *testing.T) {
	m, repo, now := newQueueFixture()
	appointmentID := uuid.New()

	require.NoError(t, m.Sync(context.Background(), appointmentID, highAssessment(), appointment.RiskMedium))
	firstDetected := *now

	*now = now.Add(10 * time.Minute)
	refreshed := Assessment{
		Score:   55,
		Level:   appointment.RiskMedium,
		Reasons: []string{ReasonProviderNotConfirmed},
	}
	require.NoError(t, m.Sync(context.Background(), appointmentID, refreshed, appointment.RiskMedium))

	item, err := repo.GetOpenQueueItem(context.Background(), appointmentID)
	require.NoError(t, err)
	assert.Equal(t, 55, item.Score)
	assert.Equal(t, appointment.RiskMedium, item.RiskLevel)
	assert.Equal(t, refreshed.Reasons, item.Reasons)
	assert.Equal(t, firstDetected, item.FirstDetectedAt, "first detection timestamp survives refreshes")
	assert.Equal(t, *now, item.LastDetectedAt)

	// Still exactly one item for the appointment.
	assert.Len(t, repo.items, 1)
}

func TestSyncAutoResolvesWhenRiskDrops(t *testing.T) {
	m, repo, now := newQueueFixture()
	appointmentID := uuid.New()

	require.NoError(t, m.Sync(context.Background(), appointmentID, highAssessment(), appointment.RiskMedium))

	*now = now.Add(time.Hour)
	low := Assessment{Score: 5, Level: appointment.RiskLow, Reasons: []string{ReasonWindowWithin24h}}
	require.NoError(t, m.Sync(context.Background(), appointmentID, low, appointment.RiskMedium))

	_, err := repo.GetOpenQueueItem(context.Background(), appointmentID)
	assert.ErrorIs(t, err, ErrQueueItemNotFound)

	require.Len(t, repo.items, 1)
	for _, item := range repo.items {
		assert.Equal(t, QueueResolved, item.Status)
		require.NotNil(t, item.ResolvedAt)
		assert.Equal(t, *now, *item.ResolvedAt)
		assert.Nil(t, item.ResolvedByAdminID)
		require.NotNil(t, item.ResolutionNote)
		assert.Equal(t, systemResolutionNote, *item.ResolutionNote)
	}
}

func TestSyncIsNoOpWhenNothingOpenAndRiskLow(t *testing.T) {
	m, repo, _ := newQueueFixture()

	low := Assessment{Score: 5, Level: appointment.RiskLow}
	require.NoError(t, m.Sync(context.Background(), uuid.New(), low, appointment.RiskMedium))
	assert.Empty(t, repo.items)
}

func TestSyncReopensAfterResolutionWithFreshItem(t *testing.T) {
	m, repo, now := newQueueFixture()
	appointmentID := uuid.New()

	require.NoError(t, m.Sync(context.Background(), appointmentID, highAssessment(), appointment.RiskMedium))
	low := Assessment{Score: 5, Level: appointment.RiskLow}
	require.NoError(t, m.Sync(context.Background(), appointmentID, low, appointment.RiskMedium))

	*now = now.Add(2 * time.Hour)
	require.NoError(t, m.Sync(context.Background(), appointmentID, highAssessment(), appointment.RiskMedium))

	// The resolved item stays for audit; the re-escalation is a new row.
	assert.Len(t, repo.items, 2)
	item, err := repo.GetOpenQueueItem(context.Background(), appointmentID)
	require.NoError(t, err)
	assert.Equal(t, *now, item.FirstDetectedAt)
	assert.Nil(t, item.ResolvedAt)
}

func TestResolveManuallyRequiresNote(t *testing.T) {
	m, _, _ := newQueueFixture()

	_, err := m.ResolveManually(context.Background(), uuid.New(), uuid.New(), "")
	assert.ErrorIs(t, err, appointment.ErrValidation)
}

func TestResolveManuallyClosesItemWithAdminAttribution(t *testing.T) {
	m, repo, now := newQueueFixture()
	appointmentID := uuid.New()
	adminID := uuid.New()

	require.NoError(t, m.Sync(context.Background(), appointmentID, highAssessment(), appointment.RiskMedium))

	item, err := m.ResolveManually(context.Background(), appointmentID, adminID, "called the client, they confirmed")
	require.NoError(t, err)
	assert.Equal(t, QueueResolved, item.Status)
	require.NotNil(t, item.ResolvedByAdminID)
	assert.Equal(t, adminID, *item.ResolvedByAdminID)
	require.NotNil(t, item.ResolutionNote)
	assert.Equal(t, *now, *item.ResolvedAt)

	_, err = repo.GetOpenQueueItem(context.Background(), appointmentID)
	assert.ErrorIs(t, err, ErrQueueItemNotFound)
}

func TestResolveManuallyWithoutOpenItem(t *testing.T) {
	m, _, _ := newQueueFixture()

	_, err := m.ResolveManually(context.Background(), uuid.New(), uuid.New(), "nothing here")
	assert.ErrorIs(t, err, ErrQueueItemNotFound)
}
