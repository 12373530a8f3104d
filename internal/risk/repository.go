package risk

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/homefix/appointment-scheduling/internal/appointment"
)

// Repository holds the policy snapshot and the intervention queue.
type Repository interface {
	// GetActivePolicy returns the single active policy or ErrPolicyMissing.
	GetActivePolicy(ctx context.Context) (*Policy, error)

	// GetOpenQueueItem returns the open item for an appointment or
	// ErrQueueItemNotFound.
	GetOpenQueueItem(ctx context.Context, appointmentID uuid.UUID) (*QueueItem, error)
	AddQueueItem(ctx context.Context, item *QueueItem) (*QueueItem, error)
	UpdateQueueItem(ctx context.Context, item *QueueItem) (*QueueItem, error)
	ListOpenQueueItems(ctx context.Context, limit int) ([]QueueItem, error)
}

// AppointmentStore is the slice of the appointment store the scorer needs:
// candidate selection, bounded risk-event counts, and the risk-field write
// path with its history append.
type AppointmentStore interface {
	// FindRiskCandidates returns appointments in a scorable status whose
	// window starts inside [from, to], up to limit rows.
	FindRiskCandidates(ctx context.Context, from, to time.Time, limit int) ([]appointment.Appointment, error)

	// CountClientRiskEvents counts the client's recent risk events
	// (client-cancelled or no-show appointments) inside [from, to], counting
	// at most max rows.
	CountClientRiskEvents(ctx context.Context, clientID uuid.UUID, from, to time.Time, max int) (int, error)

	// CountProviderRiskEvents counts the provider's recent risk events
	// (rejected, expired, provider-cancelled or no-show appointments) inside
	// [from, to], counting at most max rows.
	CountProviderRiskEvents(ctx context.Context, providerID uuid.UUID, from, to time.Time, max int) (int, error)

	// UpdateRiskAssessment persists the appointment's risk fields under the
	// usual version check; a stale version loses with ErrConflict.
	UpdateRiskAssessment(ctx context.Context, a *appointment.Appointment) (*appointment.Appointment, error)

	AppendHistory(ctx context.Context, h appointment.History) error
}
