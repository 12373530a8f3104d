package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	MinSlotDurationMinutes = 15
	MaxSlotDurationMinutes = 240
)

var (
	ErrInvalidRange  = errors.New("invalid slot range")
	ErrRangeTooLarge = errors.New("slot range exceeds maximum lookahead")
)

// Resolver turns recurring rules plus exceptions plus existing bookings into
// free candidate slots.
type Resolver struct {
	repo         Repository
	bookings     BookingSource
	maxRangeDays int
	now          func() time.Time
}

func NewResolver(repo Repository, bookings BookingSource, maxRangeDays int) *Resolver {
	return &Resolver{
		repo:         repo,
		bookings:     bookings,
		maxRangeDays: maxRangeDays,
		now:          time.Now,
	}
}

// GetAvailableSlots returns every free slot for the provider in [from, to),
// ascending by start. A provider with no active rules yields an empty slice,
// not an error. Slots already begun (start before now) are excluded, and a
// slot with any overlap against an exception or a blocking appointment is
// dropped entirely.
func (r *Resolver) GetAvailableSlots(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Window, error) {
	from = from.UTC()
	to = to.UTC()

	if !to.After(from) {
		return nil, fmt.Errorf("%w: from %s is not before to %s", ErrInvalidRange, from, to)
	}
	if to.Sub(from) > time.Duration(r.maxRangeDays)*24*time.Hour {
		return nil, fmt.Errorf("%w: maximum is %d days", ErrRangeTooLarge, r.maxRangeDays)
	}

	rules, err := r.repo.GetActiveRules(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("load availability rules: %w", err)
	}
	if len(rules) == 0 {
		return []Window{}, nil
	}

	exceptions, err := r.repo.GetActiveExceptions(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load availability exceptions: %w", err)
	}

	booked, err := r.bookings.Blocking(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load blocking windows: %w", err)
	}

	now := r.now().UTC()
	seen := make(map[Window]struct{})
	var slots []Window

	for day := truncateToDay(from); !day.After(truncateToDay(to)); day = day.AddDate(0, 0, 1) {
		for _, rule := range rules {
			if rule.Weekday != day.Weekday() {
				continue
			}
			if rule.SlotDurationMinutes < MinSlotDurationMinutes || rule.SlotDurationMinutes > MaxSlotDurationMinutes {
				continue
			}

			step := time.Duration(rule.SlotDurationMinutes) * time.Minute
			ruleStart := day.Add(time.Duration(rule.StartMinute) * time.Minute)
			ruleEnd := day.Add(time.Duration(rule.EndMinute) * time.Minute)

			for cursor := ruleStart; !cursor.Add(step).After(ruleEnd); cursor = cursor.Add(step) {
				candidate := Window{Start: cursor, End: cursor.Add(step)}

				if candidate.Start.Before(from) || candidate.End.After(to) {
					continue
				}
				if candidate.Start.Before(now) {
					continue
				}
				if overlapsAnyException(candidate, exceptions) {
					continue
				}
				if overlapsAnyBooking(candidate, booked) {
					continue
				}

				// Overlapping rules may emit identical windows; keep one.
				if _, dup := seen[candidate]; dup {
					continue
				}
				seen[candidate] = struct{}{}
				slots = append(slots, candidate)
			}
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	if slots == nil {
		slots = []Window{}
	}
	return slots, nil
}

// IsWindowAvailable checks a single candidate window the way Create and
// reschedule acceptance need it: inside some active rule, clear of active
// exceptions and clear of blocking appointments. Appointments in excludeIDs
// are ignored so a reschedule target may overlap its own current window.
func (r *Resolver) IsWindowAvailable(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeIDs ...uuid.UUID) (bool, error) {
	start = start.UTC()
	end = end.UTC()
	if !end.After(start) {
		return false, fmt.Errorf("%w: window end must be after start", ErrInvalidRange)
	}

	rules, err := r.repo.GetActiveRules(ctx, providerID)
	if err != nil {
		return false, fmt.Errorf("load availability rules: %w", err)
	}

	day := truncateToDay(start)
	inside := false
	for _, rule := range rules {
		if rule.Weekday != start.Weekday() {
			continue
		}
		ruleStart := day.Add(time.Duration(rule.StartMinute) * time.Minute)
		ruleEnd := day.Add(time.Duration(rule.EndMinute) * time.Minute)
		if !start.Before(ruleStart) && !end.After(ruleEnd) {
			inside = true
			break
		}
	}
	if !inside {
		return false, nil
	}

	exceptions, err := r.repo.GetActiveExceptions(ctx, providerID, start, end)
	if err != nil {
		return false, fmt.Errorf("load availability exceptions: %w", err)
	}
	candidate := Window{Start: start, End: end}
	if overlapsAnyException(candidate, exceptions) {
		return false, nil
	}

	booked, err := r.bookings.Blocking(ctx, providerID, start, end)
	if err != nil {
		return false, fmt.Errorf("load blocking windows: %w", err)
	}

	excluded := make(map[uuid.UUID]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}
	for _, b := range booked {
		if _, skip := excluded[b.AppointmentID]; skip {
			continue
		}
		if candidate.Overlaps(b.Window) {
			return false, nil
		}
	}
	return true, nil
}

func overlapsAnyException(candidate Window, exceptions []Exception) bool {
	for _, e := range exceptions {
		if candidate.Overlaps(Window{Start: e.StartsAt, End: e.EndsAt}) {
			return true
		}
	}
	return false
}

func overlapsAnyBooking(candidate Window, bookings []Booking) bool {
	for _, b := range bookings {
		if candidate.Overlaps(b.Window) {
			return true
		}
	}
	return false
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
