package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConfirmPresence records an actor's own "I will be there" signal for the
// upcoming window. It is a pure signal store feeding the risk scorer: any
// participant may answer at any time regardless of lifecycle status, a later
// answer overwrites an earlier one, and no history row is written.
func (s *Service) ConfirmPresence(ctx context.Context, appointmentID, actorID uuid.UUID, confirmed bool, reason *string) (*Appointment, error) {
	return s.RegisterPresenceResponse(ctx, appointmentID, actorID, confirmed, reason, time.Time{})
}

// RegisterPresenceResponse is the entry point external reminder channels use
// to feed a presence answer back in with the time it was actually given. A
// zero at falls back to the current time.
func (s *Service) RegisterPresenceResponse(ctx context.Context, appointmentID, actorID uuid.UUID, confirmed bool, reason *string, at time.Time) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	role, ok := a.ParticipantRole(actorID)
	if !ok {
		return nil, fmt.Errorf("%w: actor is not a participant", ErrForbidden)
	}

	if at.IsZero() {
		at = s.now()
	}
	response := &PresenceResponse{
		Confirmed:   confirmed,
		Reason:      reason,
		RespondedAt: at.UTC(),
	}
	switch role {
	case RoleClient:
		a.ClientPresence = response
	case RoleProvider:
		a.ProviderPresence = response
	}

	a.UpdatedAt = s.now().UTC()
	return s.repo.UpdateAppointment(ctx, a)
}

// PresenceState summarizes both parties' answers for an appointment, as the
// risk scorer and reminder dispatch read it.
type PresenceState struct {
	AppointmentID uuid.UUID
	WindowStart   time.Time
	Client        *PresenceResponse
	Provider      *PresenceResponse
}

// GetPresence returns the presence signals under the usual participant access
// rule.
func (s *Service) GetPresence(ctx context.Context, appointmentID, actorID uuid.UUID, role ActorRole) (*PresenceState, error) {
	a, err := s.GetByID(ctx, appointmentID, actorID, role)
	if err != nil {
		return nil, err
	}
	return &PresenceState{
		AppointmentID: a.ID,
		WindowStart:   a.WindowStart,
		Client:        a.ClientPresence,
		Provider:      a.ProviderPresence,
	}, nil
}
