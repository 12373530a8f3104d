package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository reads a provider's recurring rules and blackout exceptions.
type Repository interface {
	GetActiveRules(ctx context.Context, providerID uuid.UUID) ([]Rule, error)
	GetActiveExceptions(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Exception, error)
}

// Booking is an occupied calendar window with the identity of the
// appointment that owns it, so callers can exclude their own window when
// re-validating a reschedule target.
type Booking struct {
	AppointmentID uuid.UUID
	Window        Window
}

// BookingSource supplies the occupied calendar windows the resolver must
// subtract: every appointment in a blocking status. Implemented by the
// appointment store.
type BookingSource interface {
	Blocking(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Booking, error)
}
