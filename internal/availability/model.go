package availability

import (
	"time"

	"github.com/google/uuid"
)

// Rule is a weekly recurring availability window for a provider.
// Start/End are minutes from midnight UTC; slots of SlotDurationMinutes are
// cut from the window back to back.
type Rule struct {
	ID                  uuid.UUID
	ProviderID          uuid.UUID
	Weekday             time.Weekday
	StartMinute         int
	EndMinute           int
	SlotDurationMinutes int
	Active              bool
}

// Exception is a one-off blackout over a UTC instant range.
type Exception struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	StartsAt   time.Time
	EndsAt     time.Time
	Reason     string
	Active     bool
}

// Window is a half-open UTC interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals intersect.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && w.End.After(other.Start)
}
