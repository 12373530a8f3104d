package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the lifecycle service.
type Repository interface {
	GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*ServiceRequest, error)
	// HasAcceptedProposal reports whether the provider holds an accepted,
	// non-invalidated proposal on the request.
	HasAcceptedProposal(ctx context.Context, requestID, providerID uuid.UUID) (bool, error)
	MarkRequestScheduled(ctx context.Context, requestID uuid.UUID) error

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetOpenAppointmentByRequest returns the single non-terminal appointment
	// on a request, or ErrAppointmentNotFound when none is open.
	GetOpenAppointmentByRequest(ctx context.Context, requestID uuid.UUID) (*Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	// UpdateAppointment persists a mutated appointment with a compare-and-swap
	// on Version; a stale Version returns ErrConflict.
	UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)

	// FindBlocking returns appointments in a blocking status whose window
	// overlaps [from, to) for the provider.
	FindBlocking(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error)

	// Expiry worker
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]Appointment, error)

	AppendHistory(ctx context.Context, h History) error
	ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]History, error)
}
