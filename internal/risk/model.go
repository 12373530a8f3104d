package risk

import (
	"time"

	"github.com/google/uuid"

	"github.com/homefix/appointment-scheduling/internal/appointment"
)

// Policy is the single active scoring configuration. It is loaded fresh at
// the start of every sweep and treated as an immutable snapshot for that run.
type Policy struct {
	ID uuid.UUID

	LookbackDays             int
	MaxHistoryEventsPerActor int

	MinClientHistoryRiskEvents   int
	MinProviderHistoryRiskEvents int

	WeightClientNotConfirmed    int
	WeightProviderNotConfirmed  int
	WeightBothNotConfirmedBonus int
	WeightWindowWithin24Hours   int
	WeightWindowWithin6Hours    int
	WeightWindowWithin2Hours    int
	WeightClientHistoryRisk     int
	WeightProviderHistoryRisk   int

	MediumThresholdScore int
	HighThresholdScore   int

	// NotifyLevel is the actionable threshold: levels at or above it open a
	// queue item and trigger party notifications on a level change.
	NotifyLevel appointment.RiskLevel

	Active    bool
	Notes     *string
	UpdatedAt time.Time
}

type QueueStatus string

const (
	QueueOpen     QueueStatus = "open"
	QueueResolved QueueStatus = "resolved"
)

// QueueItem is one appointment's slot in the admin intervention queue. At
// most one open item exists per appointment; resolution keeps the row for
// audit and a later re-escalation opens a fresh item.
type QueueItem struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID

	RiskLevel appointment.RiskLevel
	Score     int
	Reasons   []string
	Status    QueueStatus

	FirstDetectedAt time.Time
	LastDetectedAt  time.Time

	ResolvedAt        *time.Time
	ResolvedByAdminID *uuid.UUID
	ResolutionNote    *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Assessment is one scoring result for one appointment.
type Assessment struct {
	Score   int
	Level   appointment.RiskLevel
	Reasons []string
}

// Matches reports whether the assessment equals the values already stored on
// the appointment. An equal assessment makes the sweep a no-op for that row.
func (a Assessment) Matches(appt *appointment.Appointment) bool {
	if appt.RiskScore == nil || appt.RiskLevel == nil {
		return false
	}
	if *appt.RiskScore != a.Score || *appt.RiskLevel != a.Level {
		return false
	}
	if len(appt.RiskReasons) != len(a.Reasons) {
		return false
	}
	for i, r := range a.Reasons {
		if appt.RiskReasons[i] != r {
			return false
		}
	}
	return true
}
