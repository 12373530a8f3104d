package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homefix/appointment-scheduling/internal/availability"
	"github.com/homefix/appointment-scheduling/internal/notify"
	redisclient "github.com/homefix/appointment-scheduling/internal/redis"
)

const (
	// MaxWindowDuration caps a single visit window.
	MaxWindowDuration = 8 * time.Hour
)

// WindowChecker is the slice of the availability resolver the lifecycle
// needs: a final free-window check under the creation lock.
type WindowChecker interface {
	IsWindowAvailable(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeIDs ...uuid.UUID) (bool, error)
}

// Service owns every lifecycle transition. All writes go through a
// compare-and-swap update plus exactly one history row.
type Service struct {
	repo          Repository
	windows       WindowChecker
	locker        redisclient.Locker
	notifier      notify.Notifier
	logger        *zap.Logger
	pendingExpiry time.Duration
	startGrace    time.Duration
	now           func() time.Time
}

func NewService(
	repo Repository,
	windows WindowChecker,
	locker redisclient.Locker,
	notifier notify.Notifier,
	logger *zap.Logger,
	pendingExpiry time.Duration,
	startGrace time.Duration,
) *Service {
	return &Service{
		repo:          repo,
		windows:       windows,
		locker:        locker,
		notifier:      notifier,
		logger:        logger,
		pendingExpiry: pendingExpiry,
		startGrace:    startGrace,
		now:           time.Now,
	}
}

// CreateParams carries the client's scheduling request.
type CreateParams struct {
	RequestID   uuid.UUID
	ClientID    uuid.UUID
	ProviderID  uuid.UUID
	WindowStart time.Time
	WindowEnd   time.Time
}

// Create schedules a new appointment in pending_provider_confirmation.
// The window must be entirely in the future, between the minimum slot length
// and eight hours, start and end on the same UTC day, and survive a final
// availability check taken under the per-provider per-day creation lock.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Appointment, error) {
	start := p.WindowStart.UTC()
	end := p.WindowEnd.UTC()
	now := s.now().UTC()

	if err := validateWindow(start, end, now); err != nil {
		return nil, err
	}

	req, err := s.repo.GetRequest(ctx, p.RequestID)
	if err != nil {
		return nil, err
	}
	if req.ClientID != p.ClientID {
		return nil, fmt.Errorf("%w: only the request owner may schedule it", ErrForbidden)
	}
	if req.Status != RequestOpen {
		return nil, fmt.Errorf("%w: request is %s, not open", ErrValidation, req.Status)
	}

	provider, err := s.repo.GetProvider(ctx, p.ProviderID)
	if err != nil {
		return nil, err
	}
	if !provider.Active {
		return nil, fmt.Errorf("%w: provider is inactive", ErrValidation)
	}

	accepted, err := s.repo.HasAcceptedProposal(ctx, p.RequestID, p.ProviderID)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, ErrProviderNotAssigned
	}

	var created *Appointment
	lockKey := redisclient.CreationLockKey(p.ProviderID, start)
	err = s.locker.WithLock(ctx, lockKey, func(ctx context.Context) error {
		// One open appointment per request at a time.
		if _, err := s.repo.GetOpenAppointmentByRequest(ctx, p.RequestID); err == nil {
			return fmt.Errorf("%w: request already has an open appointment", ErrValidation)
		} else if !errors.Is(err, ErrAppointmentNotFound) {
			return err
		}

		free, err := s.windows.IsWindowAvailable(ctx, p.ProviderID, start, end)
		if err != nil {
			return err
		}
		if !free {
			return ErrWindowConflict
		}

		expiresAt := now.Add(s.pendingExpiry)
		a := &Appointment{
			ID:          uuid.New(),
			RequestID:   p.RequestID,
			ClientID:    p.ClientID,
			ProviderID:  p.ProviderID,
			WindowStart: start,
			WindowEnd:   end,
			ExpiresAt:   &expiresAt,
			Status:      StatusPendingProviderConfirmation,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		created, err = s.repo.CreateAppointment(ctx, a)
		if err != nil {
			return err
		}
		return s.repo.AppendHistory(ctx, History{
			AppointmentID: created.ID,
			PrevStatus:    nil,
			NewStatus:     StatusPendingProviderConfirmation,
			ActorID:       &p.ClientID,
			ActorRole:     RoleClient,
			Reason:        "appointment created",
			OccurredAt:    now,
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: another booking for this provider is in flight", ErrConflict)
		}
		return nil, err
	}

	if err := s.repo.MarkRequestScheduled(ctx, p.RequestID); err != nil {
		s.logger.Error("failed to mark request scheduled",
			zap.String("request_id", p.RequestID.String()),
			zap.Error(err),
		)
	}

	s.send(ctx, p.ProviderID,
		"New appointment request",
		fmt.Sprintf("A client scheduled a visit for %s. Confirm or reject it.", start.Format(time.RFC3339)),
		"/appointments/"+created.ID.String(),
	)
	return created, nil
}

// Confirm moves pending_provider_confirmation to confirmed. Only the assigned
// provider may confirm, and a pending appointment past its expiry deadline is
// expired instead.
func (s *Service) Confirm(ctx context.Context, appointmentID, actorID uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if actorID != a.ProviderID {
		return nil, fmt.Errorf("%w: only the assigned provider may confirm", ErrForbidden)
	}
	if a.Status != StatusPendingProviderConfirmation {
		return nil, fmt.Errorf("%w: cannot confirm from %s", ErrInvalidTransition, a.Status)
	}

	now := s.now().UTC()
	if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
		if _, err := s.expireOne(ctx, a, now); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: confirmation deadline has passed", ErrInvalidTransition)
	}

	prev := a.Status
	a.Status = StatusConfirmed
	a.ConfirmedAt = &now
	a.ExpiresAt = nil

	updated, err := s.persistTransition(ctx, a, prev, &actorID, RoleProvider, "provider confirmed", now)
	if err != nil {
		return nil, err
	}

	s.send(ctx, a.ClientID,
		"Appointment confirmed",
		fmt.Sprintf("Your provider confirmed the visit for %s.", a.WindowStart.Format(time.RFC3339)),
		"/appointments/"+a.ID.String(),
	)
	return updated, nil
}

// Reject lets the assigned provider decline a pending or confirmed
// appointment. A reason is required.
func (s *Service) Reject(ctx context.Context, appointmentID, actorID uuid.UUID, reason string) (*Appointment, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrValidation)
	}
	a, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if actorID != a.ProviderID {
		return nil, fmt.Errorf("%w: only the assigned provider may reject", ErrForbidden)
	}
	if a.Status != StatusPendingProviderConfirmation && a.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: cannot reject from %s", ErrInvalidTransition, a.Status)
	}

	now := s.now().UTC()
	prev := a.Status
	a.Status = StatusRejected
	a.Reason = &reason
	a.RejectedAt = &now
	a.ExpiresAt = nil
	a.Reschedule = nil

	updated, err := s.persistTransition(ctx, a, prev, &actorID, RoleProvider, reason, now)
	if err != nil {
		return nil, err
	}

	s.send(ctx, a.ClientID,
		"Appointment rejected",
		"Your provider declined the visit: "+reason,
		"/appointments/"+a.ID.String(),
	)
	return updated, nil
}

// RequestReschedule records a proposed replacement window on a confirmed
// appointment. Either party may propose; a newer proposal replaces a pending
// one. The lifecycle status does not change and the current window keeps
// blocking the calendar.
func (s *Service) RequestReschedule(ctx context.Context, appointmentID, actorID uuid.UUID, start, end time.Time, reason string) (*Appointment, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: reschedule reason is required", ErrValidation)
	}
	a, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	role, ok := a.ParticipantRole(actorID)
	if !ok {
		return nil, fmt.Errorf("%w: actor is not a participant", ErrForbidden)
	}
	if a.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: reschedule is only possible while confirmed", ErrInvalidTransition)
	}

	now := s.now().UTC()
	start = start.UTC()
	end = end.UTC()
	if err := validateWindow(start, end, now); err != nil {
		return nil, err
	}

	a.Reschedule = &RescheduleProposal{
		WindowStart: start,
		WindowEnd:   end,
		RequestedBy: role,
		Reason:      reason,
		RequestedAt: now,
	}

	updated, err := s.persistTransition(ctx, a, a.Status, &actorID, role, "reschedule proposed: "+reason, now)
	if err != nil {
		return nil, err
	}

	s.send(ctx, s.counterpart(a, role),
		"Reschedule proposed",
		fmt.Sprintf("The other party proposed moving the visit to %s.", start.Format(time.RFC3339)),
		"/appointments/"+a.ID.String(),
	)
	return updated, nil
}

// RespondReschedule accepts or declines the pending proposal. Only the
// counterpart of the proposer may respond. Acceptance re-validates the
// proposed window, ignoring the appointment's own current booking, and swaps
// the windows in place; either outcome clears the proposal.
func (s *Service) RespondReschedule(ctx context.Context, appointmentID, actorID uuid.UUID, accept bool) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	role, ok := a.ParticipantRole(actorID)
	if !ok {
		return nil, fmt.Errorf("%w: actor is not a participant", ErrForbidden)
	}
	if a.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: reschedule response is only possible while confirmed", ErrInvalidTransition)
	}
	if a.Reschedule == nil {
		return nil, fmt.Errorf("%w: no reschedule proposal is pending", ErrValidation)
	}
	if a.Reschedule.RequestedBy == role {
		return nil, fmt.Errorf("%w: proposer cannot answer their own proposal", ErrForbidden)
	}

	now := s.now().UTC()
	proposal := *a.Reschedule

	if accept {
		free, err := s.windows.IsWindowAvailable(ctx, a.ProviderID, proposal.WindowStart, proposal.WindowEnd, a.ID)
		if err != nil {
			return nil, err
		}
		if !free {
			return nil, ErrWindowConflict
		}
		a.WindowStart = proposal.WindowStart
		a.WindowEnd = proposal.WindowEnd
	}
	a.Reschedule = nil

	verb := "declined"
	if accept {
		verb = "accepted"
	}
	updated, err := s.persistTransition(ctx, a, a.Status, &actorID, role, "reschedule "+verb, now)
	if err != nil {
		return nil, err
	}

	s.send(ctx, s.counterpart(a, role),
		"Reschedule "+verb,
		fmt.Sprintf("The reschedule proposal was %s. The visit is set for %s.", verb, a.WindowStart.Format(time.RFC3339)),
		"/appointments/"+a.ID.String(),
	)
	return updated, nil
}

// Cancel ends any non-terminal appointment. Participants and admins may
// cancel; a reason is required and the cancelling role is recorded so risk
// history can attribute the event.
func (s *Service) Cancel(ctx context.Context, appointmentID, actorID uuid.UUID, role ActorRole, reason string) (*Appointment, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: cancellation reason is required", ErrValidation)
	}
	a, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	role, err = s.resolveActor(a, actorID, role)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidTransition, a.Status)
	}

	now := s.now().UTC()
	prev := a.Status
	a.Status = StatusCancelled
	a.Reason = &reason
	a.CancelledAt = &now
	a.CancelledByRole = &role
	a.ExpiresAt = nil
	a.Reschedule = nil

	updated, err := s.persistTransition(ctx, a, prev, &actorID, role, reason, now)
	if err != nil {
		return nil, err
	}

	for _, recipient := range []uuid.UUID{a.ClientID, a.ProviderID} {
		if recipient == actorID {
			continue
		}
		s.send(ctx, recipient,
			"Appointment cancelled",
			"The visit was cancelled: "+reason,
			"/appointments/"+a.ID.String(),
		)
	}
	return updated, nil
}

// ArrivalParams carries either a geolocated or a manually justified arrival.
type ArrivalParams struct {
	Latitude       *float64
	Longitude      *float64
	AccuracyMeters *float64
	ManualReason   *string
}

// MarkArrived records provider arrival on a confirmed appointment. Either a
// coordinate pair or a manual reason must be supplied.
func (s *Service) MarkArrived(ctx context.Context, appointmentID, actorID uuid.UUID, role ActorRole, p ArrivalParams) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	role, err = s.resolveActor(a, actorID, role)
	if err != nil {
		return nil, err
	}
	if role == RoleClient {
		return nil, fmt.Errorf("%w: only the provider or an admin may record arrival", ErrForbidden)
	}
	if a.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: arrival requires a confirmed appointment", ErrInvalidTransition)
	}

	hasGeo := p.Latitude != nil && p.Longitude != nil
	hasManual := p.ManualReason != nil && *p.ManualReason != ""
	if !hasGeo && !hasManual {
		return nil, fmt.Errorf("%w: arrival needs coordinates or a manual reason", ErrValidation)
	}

	now := s.now().UTC()
	a.Arrival = &Arrival{
		At:             now,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		AccuracyMeters: p.AccuracyMeters,
		ManualReason:   p.ManualReason,
	}

	return s.persistTransition(ctx, a, a.Status, &actorID, role, "provider arrival recorded", now)
}

// Start moves confirmed to started. Requires a recorded arrival or an
// explicit override reason, and refuses to start earlier than the window
// start minus the grace period unless an override reason is given.
func (s *Service) Start(ctx context.Context, appointmentID, actorID uuid.UUID, role ActorRole, overrideReason string) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	role, err = s.resolveActor(a, actorID, role)
	if err != nil {
		return nil, err
	}
	if role == RoleClient {
		return nil, fmt.Errorf("%w: only the provider or an admin may start the visit", ErrForbidden)
	}
	if a.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, a.Status)
	}

	now := s.now().UTC()
	if overrideReason == "" {
		if a.Arrival == nil {
			return nil, fmt.Errorf("%w: record arrival before starting, or supply an override reason", ErrValidation)
		}
		if now.Before(a.WindowStart.Add(-s.startGrace)) {
			return nil, fmt.Errorf("%w: too early to start, window opens at %s", ErrValidation, a.WindowStart.Format(time.RFC3339))
		}
	}

	prev := a.Status
	a.Status = StatusStarted
	a.StartedAt = &now
	a.Reschedule = nil

	reason := "service started"
	if overrideReason != "" {
		reason = "service started (override): " + overrideReason
	}
	updated, err := s.persistTransition(ctx, a, prev, &actorID, role, reason, now)
	if err != nil {
		return nil, err
	}

	s.send(ctx, a.ClientID,
		"Service started",
		"Your provider started the service.",
		"/appointments/"+a.ID.String(),
	)
	return updated, nil
}

// Complete moves started to completed.
func (s *Service) Complete(ctx context.Context, appointmentID, actorID uuid.UUID, role ActorRole) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	role, err = s.resolveActor(a, actorID, role)
	if err != nil {
		return nil, err
	}
	if role == RoleClient {
		return nil, fmt.Errorf("%w: only the provider or an admin may complete the visit", ErrForbidden)
	}
	if a.Status != StatusStarted {
		return nil, fmt.Errorf("%w: cannot complete from %s", ErrInvalidTransition, a.Status)
	}

	now := s.now().UTC()
	prev := a.Status
	a.Status = StatusCompleted
	a.CompletedAt = &now

	updated, err := s.persistTransition(ctx, a, prev, &actorID, role, "service completed", now)
	if err != nil {
		return nil, err
	}

	s.send(ctx, a.ClientID,
		"Service completed",
		"Your provider marked the service as completed.",
		"/appointments/"+a.ID.String(),
	)
	return updated, nil
}

// MarkNoShow records that the other party failed to appear. Allowed from
// confirmed or started, never before the window has begun, and a reason is
// required.
func (s *Service) MarkNoShow(ctx context.Context, appointmentID, actorID uuid.UUID, role ActorRole, reason string) (*Appointment, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: no-show reason is required", ErrValidation)
	}
	a, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	role, err = s.resolveActor(a, actorID, role)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusConfirmed && a.Status != StatusStarted {
		return nil, fmt.Errorf("%w: cannot mark no-show from %s", ErrInvalidTransition, a.Status)
	}

	now := s.now().UTC()
	if now.Before(a.WindowStart) {
		return nil, fmt.Errorf("%w: cannot mark no-show before the window starts", ErrValidation)
	}

	prev := a.Status
	a.Status = StatusNoShow
	a.Reason = &reason
	a.Reschedule = nil

	updated, err := s.persistTransition(ctx, a, prev, &actorID, role, reason, now)
	if err != nil {
		return nil, err
	}

	for _, recipient := range []uuid.UUID{a.ClientID, a.ProviderID} {
		if recipient == actorID {
			continue
		}
		s.send(ctx, recipient,
			"No-show recorded",
			"The visit was marked as a no-show: "+reason,
			"/appointments/"+a.ID.String(),
		)
	}
	return updated, nil
}

// operationalGraph maps each stage to the stages reachable from it. The zero
// stage (never reported) may only enter at on_the_way.
var operationalGraph = map[OperationalStatus][]OperationalStatus{
	"":                      {OperationalOnTheWay},
	OperationalOnTheWay:     {OperationalOnSite},
	OperationalOnSite:       {OperationalInService},
	OperationalInService:    {OperationalWaitingParts, OperationalCompleted},
	OperationalWaitingParts: {OperationalInService},
}

// UpdateOperationalStatus advances the real-time execution stage. Stages
// cannot be skipped, waiting_parts requires a reason, and terminal lifecycle
// statuses freeze the stage.
func (s *Service) UpdateOperationalStatus(ctx context.Context, appointmentID, actorID uuid.UUID, role ActorRole, next OperationalStatus, reason string) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	role, err = s.resolveActor(a, actorID, role)
	if err != nil {
		return nil, err
	}
	if role == RoleClient {
		return nil, fmt.Errorf("%w: only the provider or an admin may report progress", ErrForbidden)
	}
	if a.Status.Terminal() {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, a.Status)
	}
	if next == OperationalWaitingParts && reason == "" {
		return nil, fmt.Errorf("%w: waiting_parts requires a reason", ErrValidation)
	}

	var current OperationalStatus
	if a.OperationalStatus != nil {
		current = *a.OperationalStatus
	}
	allowed := false
	for _, candidate := range operationalGraph[current] {
		if candidate == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: operational stage %q does not follow %q", ErrInvalidTransition, next, current)
	}

	now := s.now().UTC()
	prevOp := a.OperationalStatus
	a.OperationalStatus = &next
	a.OperationalStatusUpdatedAt = &now
	if reason != "" {
		a.OperationalStatusReason = &reason
	} else {
		a.OperationalStatusReason = nil
	}

	updated, err := s.repo.UpdateAppointment(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := s.repo.AppendHistory(ctx, History{
		AppointmentID:         a.ID,
		PrevStatus:            &a.Status,
		NewStatus:             a.Status,
		PrevOperationalStatus: prevOp,
		NewOperationalStatus:  &next,
		ActorID:               &actorID,
		ActorRole:             role,
		Reason:                reason,
		OccurredAt:            now,
	}); err != nil {
		return nil, err
	}

	s.send(ctx, a.ClientID,
		"Visit progress update",
		fmt.Sprintf("Your provider is now %s.", next),
		"/appointments/"+a.ID.String(),
	)
	return updated, nil
}

// ExpirePending expires every pending appointment whose confirmation deadline
// has passed, up to limit. Failures on one appointment are logged and do not
// stop the batch.
func (s *Service) ExpirePending(ctx context.Context, limit int) (int, error) {
	now := s.now().UTC()
	pending, err := s.repo.FindExpiredPending(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("find expired pending appointments: %w", err)
	}

	expired := 0
	for i := range pending {
		a := pending[i]
		if _, err := s.expireOne(ctx, &a, now); err != nil {
			s.logger.Error("failed to expire appointment",
				zap.String("appointment_id", a.ID.String()),
				zap.Error(err),
			)
			continue
		}
		expired++
	}
	return expired, nil
}

// GetByID returns an appointment to one of its participants or an admin.
func (s *Service) GetByID(ctx context.Context, appointmentID, actorID uuid.UUID, role ActorRole) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if role != RoleAdmin {
		if _, ok := a.ParticipantRole(actorID); !ok {
			return nil, fmt.Errorf("%w: actor is not a participant", ErrForbidden)
		}
	}
	return a, nil
}

// GetHistory returns the ordered audit trail, under the same access rule as
// GetByID.
func (s *Service) GetHistory(ctx context.Context, appointmentID, actorID uuid.UUID, role ActorRole) ([]History, error) {
	if _, err := s.GetByID(ctx, appointmentID, actorID, role); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, appointmentID)
}

func (s *Service) expireOne(ctx context.Context, a *Appointment, now time.Time) (*Appointment, error) {
	prev := a.Status
	a.Status = StatusExpired
	a.ExpiresAt = nil

	updated, err := s.persistTransition(ctx, a, prev, nil, RoleSystem, "provider confirmation deadline passed", now)
	if err != nil {
		return nil, err
	}

	s.send(ctx, a.ClientID,
		"Appointment expired",
		"Your provider did not confirm in time. Please pick another slot.",
		"/appointments/"+a.ID.String(),
	)
	return updated, nil
}

// persistTransition is the single write path: CAS update, then exactly one
// history row carrying the status delta.
func (s *Service) persistTransition(ctx context.Context, a *Appointment, prev Status, actorID *uuid.UUID, role ActorRole, reason string, now time.Time) (*Appointment, error) {
	a.UpdatedAt = now
	updated, err := s.repo.UpdateAppointment(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := s.repo.AppendHistory(ctx, History{
		AppointmentID: a.ID,
		PrevStatus:    &prev,
		NewStatus:     a.Status,
		ActorID:       actorID,
		ActorRole:     role,
		Reason:        reason,
		OccurredAt:    now,
	}); err != nil {
		return nil, err
	}
	return updated, nil
}

// resolveActor verifies the caller may act on this appointment. Admins pass
// through; anyone else must be a participant, and the declared role must
// match the one they actually play.
func (s *Service) resolveActor(a *Appointment, actorID uuid.UUID, declared ActorRole) (ActorRole, error) {
	if declared == RoleAdmin {
		return RoleAdmin, nil
	}
	role, ok := a.ParticipantRole(actorID)
	if !ok {
		return "", fmt.Errorf("%w: actor is not a participant", ErrForbidden)
	}
	if declared != "" && declared != role {
		return "", fmt.Errorf("%w: declared role %q does not match participant role %q", ErrForbidden, declared, role)
	}
	return role, nil
}

func (s *Service) counterpart(a *Appointment, role ActorRole) uuid.UUID {
	if role == RoleClient {
		return a.ProviderID
	}
	return a.ClientID
}

func (s *Service) send(ctx context.Context, recipient uuid.UUID, subject, message, actionURL string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, recipient, subject, message, actionURL); err != nil {
		s.logger.Warn("notification delivery failed",
			zap.String("recipient_id", recipient.String()),
			zap.Error(err),
		)
	}
}

func validateWindow(start, end, now time.Time) error {
	if !end.After(start) {
		return fmt.Errorf("%w: window end must be after start", ErrValidation)
	}
	if !start.After(now) {
		return fmt.Errorf("%w: window must be entirely in the future", ErrValidation)
	}
	dur := end.Sub(start)
	if dur < availability.MinSlotDurationMinutes*time.Minute {
		return fmt.Errorf("%w: window must be at least %d minutes", ErrValidation, availability.MinSlotDurationMinutes)
	}
	if dur > MaxWindowDuration {
		return fmt.Errorf("%w: window must not exceed %s", ErrValidation, MaxWindowDuration)
	}
	sd := start.UTC()
	ed := end.UTC()
	if sd.Year() != ed.Year() || sd.YearDay() != ed.YearDay() {
		return fmt.Errorf("%w: window must start and end on the same UTC day", ErrValidation)
	}
	return nil
}
