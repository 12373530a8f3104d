package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRepo is an in-memory Repository with the same version semantics as the
// Postgres implementation.
type fakeRepo struct {
	mu           sync.Mutex
	providers    map[uuid.UUID]Provider
	requests     map[uuid.UUID]ServiceRequest
	accepted     map[uuid.UUID]uuid.UUID // request -> provider with accepted proposal
	appointments map[uuid.UUID]Appointment
	history      []History
	scheduled    []uuid.UUID
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		providers:    make(map[uuid.UUID]Provider),
		requests:     make(map[uuid.UUID]ServiceRequest),
		accepted:     make(map[uuid.UUID]uuid.UUID),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func (f *fakeRepo) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (f *fakeRepo) GetRequest(ctx context.Context, id uuid.UUID) (*ServiceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return &r, nil
}

func (f *fakeRepo) HasAcceptedProposal(ctx context.Context, requestID, providerID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted[requestID] == providerID, nil
}

func (f *fakeRepo) MarkRequestScheduled(ctx context.Context, requestID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, requestID)
	return nil
}

func (f *fakeRepo) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := a
	return &out, nil
}

func (f *fakeRepo) GetOpenAppointmentByRequest(ctx context.Context, requestID uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.appointments {
		if a.RequestID == requestID && !a.Status.Terminal() {
			out := a
			return &out, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (f *fakeRepo) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appointments[a.ID] = *a
	out := *a
	return &out, nil
}

func (f *fakeRepo) UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.appointments[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if stored.Version != a.Version {
		return nil, ErrConflict
	}
	updated := *a
	updated.Version++
	f.appointments[a.ID] = updated
	out := updated
	return &out, nil
}

func (f *fakeRepo) FindBlocking(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.ProviderID == providerID && a.Status.Blocking() &&
			a.WindowStart.Before(to) && a.WindowEnd.After(from) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.Status == StatusPendingProviderConfirmation && a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
			out = append(out, a)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) AppendHistory(ctx context.Context, h History) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h.ID = int64(len(f.history) + 1)
	f.history = append(f.history, h)
	return nil
}

func (f *fakeRepo) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]History, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []History
	for _, h := range f.history {
		if h.AppointmentID == appointmentID {
			out = append(out, h)
		}
	}
	return out, nil
}

type fakeWindows struct {
	available bool
	excludes  []uuid.UUID
}

func (f *fakeWindows) IsWindowAvailable(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeIDs ...uuid.UUID) (bool, error) {
	f.excludes = excludeIDs
	return f.available, nil
}

type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingNotifier struct {
	mu    sync.Mutex
	sends []uuid.UUID
}

func (n *recordingNotifier) Send(ctx context.Context, recipientID uuid.UUID, subject, message, actionURL string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, recipientID)
	return nil
}

type fixture struct {
	repo     *fakeRepo
	windows  *fakeWindows
	notifier *recordingNotifier
	svc      *Service

	now        time.Time
	clientID   uuid.UUID
	providerID uuid.UUID
	requestID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:       newFakeRepo(),
		windows:    &fakeWindows{available: true},
		notifier:   &recordingNotifier{},
		now:        time.Date(2026, 9, 7, 8, 0, 0, 0, time.UTC),
		clientID:   uuid.New(),
		providerID: uuid.New(),
		requestID:  uuid.New(),
	}
	f.repo.providers[f.providerID] = Provider{ID: f.providerID, Name: "Pat Provider", Active: true}
	f.repo.requests[f.requestID] = ServiceRequest{ID: f.requestID, ClientID: f.clientID, Status: RequestOpen}
	f.repo.accepted[f.requestID] = f.providerID

	f.svc = NewService(f.repo, f.windows, passLocker{}, f.notifier, zap.NewNop(),
		12*time.Hour, 15*time.Minute)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) create(t *testing.T) *Appointment {
	t.Helper()
	a, err := f.svc.Create(context.Background(), CreateParams{
		RequestID:   f.requestID,
		ClientID:    f.clientID,
		ProviderID:  f.providerID,
		WindowStart: f.now.Add(2 * time.Hour),
		WindowEnd:   f.now.Add(3 * time.Hour),
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) confirmed(t *testing.T) *Appointment {
	t.Helper()
	a := f.create(t)
	a, err := f.svc.Confirm(context.Background(), a.ID, f.providerID)
	require.NoError(t, err)
	return a
}

func TestCreateHappyPath(t *testing.T) {
	f := newFixture(t)
	a := f.create(t)

	assert.Equal(t, StatusPendingProviderConfirmation, a.Status)
	require.NotNil(t, a.ExpiresAt)
	assert.Equal(t, f.now.Add(12*time.Hour), *a.ExpiresAt)
	assert.Equal(t, int64(1), a.Version)

	require.Len(t, f.repo.history, 1)
	assert.Nil(t, f.repo.history[0].PrevStatus)
	assert.Equal(t, StatusPendingProviderConfirmation, f.repo.history[0].NewStatus)
	assert.Equal(t, RoleClient, f.repo.history[0].ActorRole)

	assert.Equal(t, []uuid.UUID{f.requestID}, f.repo.scheduled)
	assert.Equal(t, []uuid.UUID{f.providerID}, f.notifier.sends)
}

func TestCreateRequiresAcceptedProposal(t *testing.T) {
	f := newFixture(t)
	delete(f.repo.accepted, f.requestID)

	_, err := f.svc.Create(context.Background(), CreateParams{
		RequestID:   f.requestID,
		ClientID:    f.clientID,
		ProviderID:  f.providerID,
		WindowStart: f.now.Add(2 * time.Hour),
		WindowEnd:   f.now.Add(3 * time.Hour),
	})
	assert.ErrorIs(t, err, ErrProviderNotAssigned)
}

func TestCreateWindowValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name       string
		start, end time.Time
	}{
		{"end before start", f.now.Add(3 * time.Hour), f.now.Add(2 * time.Hour)},
		{"in the past", f.now.Add(-2 * time.Hour), f.now.Add(-1 * time.Hour)},
		{"too short", f.now.Add(2 * time.Hour), f.now.Add(2*time.Hour + 10*time.Minute)},
		{"too long", f.now.Add(2 * time.Hour), f.now.Add(11 * time.Hour)},
		{"crosses midnight", f.now.Add(15 * time.Hour), f.now.Add(17 * time.Hour)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), CreateParams{
				RequestID:   f.requestID,
				ClientID:    f.clientID,
				ProviderID:  f.providerID,
				WindowStart: tc.start,
				WindowEnd:   tc.end,
			})
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreateWindowConflict(t *testing.T) {
	f := newFixture(t)
	f.windows.available = false

	_, err := f.svc.Create(context.Background(), CreateParams{
		RequestID:   f.requestID,
		ClientID:    f.clientID,
		ProviderID:  f.providerID,
		WindowStart: f.now.Add(2 * time.Hour),
		WindowEnd:   f.now.Add(3 * time.Hour),
	})
	assert.ErrorIs(t, err, ErrWindowConflict)
	assert.Empty(t, f.repo.history)
}

func TestCreateRejectsSecondOpenAppointment(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	_, err := f.svc.Create(context.Background(), CreateParams{
		RequestID:   f.requestID,
		ClientID:    f.clientID,
		ProviderID:  f.providerID,
		WindowStart: f.now.Add(4 * time.Hour),
		WindowEnd:   f.now.Add(5 * time.Hour),
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateForbiddenForNonOwner(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), CreateParams{
		RequestID:   f.requestID,
		ClientID:    uuid.New(),
		ProviderID:  f.providerID,
		WindowStart: f.now.Add(2 * time.Hour),
		WindowEnd:   f.now.Add(3 * time.Hour),
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestConfirm(t *testing.T) {
	f := newFixture(t)
	a := f.create(t)

	got, err := f.svc.Confirm(context.Background(), a.ID, f.providerID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Nil(t, got.ExpiresAt)
	require.NotNil(t, got.ConfirmedAt)

	// created + confirmed
	require.Len(t, f.repo.history, 2)
	assert.Equal(t, StatusConfirmed, f.repo.history[1].NewStatus)
}

func TestConfirmOnlyAssignedProvider(t *testing.T) {
	f := newFixture(t)
	a := f.create(t)

	_, err := f.svc.Confirm(context.Background(), a.ID, f.clientID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestConfirmPastDeadlineExpires(t *testing.T) {
	f := newFixture(t)
	a := f.create(t)

	f.now = f.now.Add(13 * time.Hour)
	_, err := f.svc.Confirm(context.Background(), a.ID, f.providerID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, _ := f.repo.GetAppointment(context.Background(), a.ID)
	assert.Equal(t, StatusExpired, stored.Status)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	a := f.create(t)

	_, err := f.svc.Reject(context.Background(), a.ID, f.providerID, "")
	assert.ErrorIs(t, err, ErrValidation)

	got, err := f.svc.Reject(context.Background(), a.ID, f.providerID, "fully booked")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
}

func TestCancelOnCompletedIsInvalidAndWritesNoHistory(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)
	_, err := f.svc.MarkArrived(context.Background(), a.ID, f.providerID, RoleProvider, ArrivalParams{ManualReason: ptr("gps off")})
	require.NoError(t, err)
	f.now = f.now.Add(2 * time.Hour)
	_, err = f.svc.Start(context.Background(), a.ID, f.providerID, RoleProvider, "")
	require.NoError(t, err)
	_, err = f.svc.Complete(context.Background(), a.ID, f.providerID, RoleProvider)
	require.NoError(t, err)

	before := len(f.repo.history)
	_, err = f.svc.Cancel(context.Background(), a.ID, f.clientID, RoleClient, "changed my mind")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, f.repo.history, before)
}

func TestCancelRecordsCancellingRole(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)

	got, err := f.svc.Cancel(context.Background(), a.ID, f.providerID, RoleProvider, "equipment failure")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledByRole)
	assert.Equal(t, RoleProvider, *got.CancelledByRole)
}

func TestRescheduleProposeAndAccept(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)

	newStart := f.now.Add(4 * time.Hour)
	newEnd := f.now.Add(5 * time.Hour)

	got, err := f.svc.RequestReschedule(context.Background(), a.ID, f.clientID, newStart, newEnd, "running late")
	require.NoError(t, err)
	require.NotNil(t, got.Reschedule)
	assert.Equal(t, RoleClient, got.Reschedule.RequestedBy)

	// Proposer cannot answer their own proposal.
	_, err = f.svc.RespondReschedule(context.Background(), a.ID, f.clientID, true)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err = f.svc.RespondReschedule(context.Background(), a.ID, f.providerID, true)
	require.NoError(t, err)
	assert.Equal(t, newStart, got.WindowStart)
	assert.Equal(t, newEnd, got.WindowEnd)
	assert.Nil(t, got.Reschedule)

	// The appointment's own booking was excluded from the overlap check.
	assert.Equal(t, []uuid.UUID{a.ID}, f.windows.excludes)
}

func TestRescheduleDeclineKeepsWindow(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)
	origStart := a.WindowStart

	_, err := f.svc.RequestReschedule(context.Background(), a.ID, f.providerID, f.now.Add(4*time.Hour), f.now.Add(5*time.Hour), "conflict")
	require.NoError(t, err)

	got, err := f.svc.RespondReschedule(context.Background(), a.ID, f.clientID, false)
	require.NoError(t, err)
	assert.Equal(t, origStart, got.WindowStart)
	assert.Nil(t, got.Reschedule)
}

func TestRescheduleOnlyWhileConfirmed(t *testing.T) {
	f := newFixture(t)
	a := f.create(t)

	_, err := f.svc.RequestReschedule(context.Background(), a.ID, f.clientID, f.now.Add(4*time.Hour), f.now.Add(5*time.Hour), "nope")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStartRequiresArrivalOrOverride(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)
	f.now = f.now.Add(2 * time.Hour)

	_, err := f.svc.Start(context.Background(), a.ID, f.providerID, RoleProvider, "")
	assert.ErrorIs(t, err, ErrValidation)

	got, err := f.svc.Start(context.Background(), a.ID, f.providerID, RoleProvider, "client let me in directly")
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, got.Status)
}

func TestStartTooEarlyWithoutOverride(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)
	_, err := f.svc.MarkArrived(context.Background(), a.ID, f.providerID, RoleProvider, ArrivalParams{ManualReason: ptr("gps off")})
	require.NoError(t, err)

	// Window opens at now+2h; grace is 15 minutes.
	_, err = f.svc.Start(context.Background(), a.ID, f.providerID, RoleProvider, "")
	assert.ErrorIs(t, err, ErrValidation)

	f.now = f.now.Add(tenMinutesBefore(a.WindowStart, f.now))
	got, err := f.svc.Start(context.Background(), a.ID, f.providerID, RoleProvider, "")
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, got.Status)
}

// tenMinutesBefore returns the offset that puts now ten minutes before start.
func tenMinutesBefore(start, now time.Time) time.Duration {
	return start.Sub(now) - 10*time.Minute
}

func TestMarkArrivedNeedsGeoOrReason(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)

	_, err := f.svc.MarkArrived(context.Background(), a.ID, f.providerID, RoleProvider, ArrivalParams{})
	assert.ErrorIs(t, err, ErrValidation)

	lat, lon := -23.55, -46.63
	got, err := f.svc.MarkArrived(context.Background(), a.ID, f.providerID, RoleProvider, ArrivalParams{Latitude: &lat, Longitude: &lon})
	require.NoError(t, err)
	require.NotNil(t, got.Arrival)
	assert.Equal(t, lat, *got.Arrival.Latitude)
}

func TestMarkNoShowBeforeWindowStart(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)

	_, err := f.svc.MarkNoShow(context.Background(), a.ID, f.clientID, RoleClient, "nobody came")
	assert.ErrorIs(t, err, ErrValidation)

	f.now = a.WindowStart.Add(10 * time.Minute)
	got, err := f.svc.MarkNoShow(context.Background(), a.ID, f.clientID, RoleClient, "nobody came")
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, got.Status)
}

func TestOperationalStatusGraph(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)
	ctx := context.Background()

	// Cannot skip straight to on_site.
	_, err := f.svc.UpdateOperationalStatus(ctx, a.ID, f.providerID, RoleProvider, OperationalOnSite, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.UpdateOperationalStatus(ctx, a.ID, f.providerID, RoleProvider, OperationalOnTheWay, "")
	require.NoError(t, err)
	_, err = f.svc.UpdateOperationalStatus(ctx, a.ID, f.providerID, RoleProvider, OperationalOnSite, "")
	require.NoError(t, err)
	_, err = f.svc.UpdateOperationalStatus(ctx, a.ID, f.providerID, RoleProvider, OperationalInService, "")
	require.NoError(t, err)

	// waiting_parts requires a reason.
	_, err = f.svc.UpdateOperationalStatus(ctx, a.ID, f.providerID, RoleProvider, OperationalWaitingParts, "")
	assert.ErrorIs(t, err, ErrValidation)

	got, err := f.svc.UpdateOperationalStatus(ctx, a.ID, f.providerID, RoleProvider, OperationalWaitingParts, "ordered a valve")
	require.NoError(t, err)
	require.NotNil(t, got.OperationalStatus)
	assert.Equal(t, OperationalWaitingParts, *got.OperationalStatus)

	// Back to in_service and on to completed.
	_, err = f.svc.UpdateOperationalStatus(ctx, a.ID, f.providerID, RoleProvider, OperationalInService, "")
	require.NoError(t, err)
	got, err = f.svc.UpdateOperationalStatus(ctx, a.ID, f.providerID, RoleProvider, OperationalCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, OperationalCompleted, *got.OperationalStatus)

	// History rows carry the operational delta.
	history, err := f.repo.ListHistory(ctx, a.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	require.NotNil(t, last.PrevOperationalStatus)
	assert.Equal(t, OperationalInService, *last.PrevOperationalStatus)
	require.NotNil(t, last.NewOperationalStatus)
	assert.Equal(t, OperationalCompleted, *last.NewOperationalStatus)
}

func TestOperationalStatusFrozenOnTerminal(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)
	_, err := f.svc.Cancel(context.Background(), a.ID, f.clientID, RoleClient, "done with it")
	require.NoError(t, err)

	_, err = f.svc.UpdateOperationalStatus(context.Background(), a.ID, f.providerID, RoleProvider, OperationalOnTheWay, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestExpirePendingBatch(t *testing.T) {
	f := newFixture(t)
	a := f.create(t)

	f.now = f.now.Add(13 * time.Hour)
	expired, err := f.svc.ExpirePending(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stored, _ := f.repo.GetAppointment(context.Background(), a.ID)
	assert.Equal(t, StatusExpired, stored.Status)

	history, _ := f.repo.ListHistory(context.Background(), a.ID)
	last := history[len(history)-1]
	assert.Equal(t, RoleSystem, last.ActorRole)
	assert.Nil(t, last.ActorID)
}

func TestConcurrentUpdateLosesWithConflict(t *testing.T) {
	f := newFixture(t)
	a := f.create(t)

	// Another writer bumps the version between read and write.
	stale, err := f.repo.GetAppointment(context.Background(), a.ID)
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), a.ID, f.providerID)
	require.NoError(t, err)

	stale.Status = StatusCancelled
	_, err = f.repo.UpdateAppointment(context.Background(), stale)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetByIDAccessControl(t *testing.T) {
	f := newFixture(t)
	a := f.create(t)
	ctx := context.Background()

	_, err := f.svc.GetByID(ctx, a.ID, f.clientID, RoleClient)
	assert.NoError(t, err)
	_, err = f.svc.GetByID(ctx, a.ID, uuid.New(), RoleClient)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.GetByID(ctx, a.ID, uuid.New(), RoleAdmin)
	assert.NoError(t, err)
}

func TestHistoryReplayReconstructsStatus(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t)
	ctx := context.Background()

	_, err := f.svc.UpdateOperationalStatus(ctx, a.ID, f.providerID, RoleProvider, OperationalOnTheWay, "")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, a.ID, f.clientID, RoleClient, "emergency")
	require.NoError(t, err)

	history, err := f.repo.ListHistory(ctx, a.ID)
	require.NoError(t, err)

	var status Status
	var opStatus *OperationalStatus
	for _, h := range history {
		status = h.NewStatus
		if h.NewOperationalStatus != nil {
			opStatus = h.NewOperationalStatus
		}
	}

	stored, _ := f.repo.GetAppointment(ctx, a.ID)
	assert.Equal(t, stored.Status, status)
	require.NotNil(t, opStatus)
	assert.Equal(t, *stored.OperationalStatus, *opStatus)
}

func ptr(s string) *string { return &s }
