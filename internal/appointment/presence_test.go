package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmPresenceStoresOwnSignalOnly(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)
	historyBefore := len(f.repo.history)

	a, err := f.svc.ConfirmPresence(context.Background(), a.ID, f.clientID, true, nil)
	require.NoError(t, err)

	require.NotNil(t, a.ClientPresence)
	assert.True(t, a.ClientPresence.Confirmed)
	assert.Equal(t, f.now, a.ClientPresence.RespondedAt)
	assert.Nil(t, a.ProviderPresence)

	// A pure signal store: no history row.
	assert.Len(t, f.repo.history, historyBefore)
}

func TestConfirmPresenceLastWriteWins(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)

	_, err := f.svc.ConfirmPresence(context.Background(), a.ID, f.providerID, true, nil)
	require.NoError(t, err)

	f.now = f.now.Add(30 * time.Minute)
	reason := "truck broke down"
	a, err = f.svc.ConfirmPresence(context.Background(), a.ID, f.providerID, false, &reason)
	require.NoError(t, err)

	require.NotNil(t, a.ProviderPresence)
	assert.False(t, a.ProviderPresence.Confirmed)
	require.NotNil(t, a.ProviderPresence.Reason)
	assert.Equal(t, reason, *a.ProviderPresence.Reason)
	assert.Equal(t, f.now, a.ProviderPresence.RespondedAt)
}

func TestConfirmPresenceIgnoresLifecycleStatus(t *testing.T) {
	f := newFixture(t)
	a := f.create(t)
	reason := "changed my mind"
	_, err := f.svc.Cancel(context.Background(), a.ID, f.clientID, RoleClient, reason)
	require.NoError(t, err)

	// Signals still land on a terminal appointment.
	a, err = f.svc.ConfirmPresence(context.Background(), a.ID, f.clientID, false, nil)
	require.NoError(t, err)
	require.NotNil(t, a.ClientPresence)
	assert.False(t, a.ClientPresence.Confirmed)
}

func TestConfirmPresenceRejectsNonParticipant(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)

	_, err := f.svc.ConfirmPresence(context.Background(), a.ID, uuid.New(), true, nil)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRegisterPresenceResponseKeepsReportedTime(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)

	answeredAt := f.now.Add(-10 * time.Minute)
	a, err := f.svc.RegisterPresenceResponse(context.Background(), a.ID, f.clientID, true, nil, answeredAt)
	require.NoError(t, err)

	require.NotNil(t, a.ClientPresence)
	assert.Equal(t, answeredAt, a.ClientPresence.RespondedAt)
}

func TestGetPresenceAccessControl(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)
	_, err := f.svc.ConfirmPresence(context.Background(), a.ID, f.clientID, true, nil)
	require.NoError(t, err)

	state, err := f.svc.GetPresence(context.Background(), a.ID, f.clientID, RoleClient)
	require.NoError(t, err)
	require.NotNil(t, state.Client)
	assert.True(t, state.Client.Confirmed)
	assert.Nil(t, state.Provider)

	_, err = f.svc.GetPresence(context.Background(), a.ID, uuid.New(), RoleClient)
	assert.ErrorIs(t, err, ErrForbidden)
}
