package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/homefix/appointment-scheduling/internal/availability"
)

// BookingSource adapts the appointment store to the availability resolver's
// view of occupied calendar windows.
type BookingSource struct {
	repo Repository
}

func NewBookingSource(repo Repository) *BookingSource {
	return &BookingSource{repo: repo}
}

func (b *BookingSource) Blocking(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]availability.Booking, error) {
	appointments, err := b.repo.FindBlocking(ctx, providerID, from, to)
	if err != nil {
		return nil, err
	}
	bookings := make([]availability.Booking, 0, len(appointments))
	for _, a := range appointments {
		bookings = append(bookings, availability.Booking{
			AppointmentID: a.ID,
			Window:        availability.Window{Start: a.WindowStart, End: a.WindowEnd},
		})
	}
	return bookings, nil
}
