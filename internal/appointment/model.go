package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPendingProviderConfirmation Status = "pending_provider_confirmation"
	StatusConfirmed                   Status = "confirmed"
	StatusStarted                     Status = "started"
	StatusCompleted                   Status = "completed"
	StatusRejected                    Status = "rejected"
	StatusCancelled                   Status = "cancelled"
	StatusNoShow                      Status = "no_show"
	StatusExpired                     Status = "expired"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled, StatusNoShow, StatusExpired:
		return true
	}
	return false
}

// Blocking reports whether the appointment occupies the provider's calendar
// for overlap purposes: every non-terminal status. A pending reschedule keeps
// its current window blocking; the proposed window blocks nothing until
// accepted.
func (s Status) Blocking() bool {
	return !s.Terminal()
}

// BlockingStatuses is the set used by calendar range queries.
var BlockingStatuses = []Status{
	StatusPendingProviderConfirmation,
	StatusConfirmed,
	StatusStarted,
}

type ActorRole string

const (
	RoleClient   ActorRole = "client"
	RoleProvider ActorRole = "provider"
	RoleAdmin    ActorRole = "admin"
	RoleSystem   ActorRole = "system"
)

// OperationalStatus is the free-running execution stage shown in real time,
// independent of the lifecycle status.
type OperationalStatus string

const (
	OperationalOnTheWay     OperationalStatus = "on_the_way"
	OperationalOnSite       OperationalStatus = "on_site"
	OperationalInService    OperationalStatus = "in_service"
	OperationalWaitingParts OperationalStatus = "waiting_parts"
	OperationalCompleted    OperationalStatus = "completed"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (l RiskLevel) rank() int {
	switch l {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether l is at or above the given level.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.rank() >= other.rank()
}

// Provider is the slice of the user record this core needs.
type Provider struct {
	ID     uuid.UUID
	Name   string
	Active bool
}

type RequestStatus string

const (
	RequestOpen      RequestStatus = "open"
	RequestScheduled RequestStatus = "scheduled"
	RequestCompleted RequestStatus = "completed"
	RequestCancelled RequestStatus = "cancelled"
)

// ServiceRequest is the parent marketplace request an appointment schedules.
type ServiceRequest struct {
	ID       uuid.UUID
	ClientID uuid.UUID
	Status   RequestStatus
}

type Arrival struct {
	At             time.Time
	Latitude       *float64
	Longitude      *float64
	AccuracyMeters *float64
	ManualReason   *string
}

// PresenceResponse is one actor's own "I will be there" acknowledgement.
type PresenceResponse struct {
	Confirmed   bool
	Reason      *string
	RespondedAt time.Time
}

// RescheduleProposal is the negotiation overlay on a confirmed appointment.
// A new proposal silently replaces a pending one.
type RescheduleProposal struct {
	WindowStart time.Time
	WindowEnd   time.Time
	RequestedBy ActorRole
	Reason      string
	RequestedAt time.Time
}

type Appointment struct {
	ID         uuid.UUID
	RequestID  uuid.UUID
	ClientID   uuid.UUID
	ProviderID uuid.UUID

	WindowStart time.Time
	WindowEnd   time.Time
	ExpiresAt   *time.Time

	Status     Status
	Reason     *string
	Reschedule *RescheduleProposal

	OperationalStatus          *OperationalStatus
	OperationalStatusReason    *string
	OperationalStatusUpdatedAt *time.Time

	Arrival *Arrival

	ConfirmedAt     *time.Time
	StartedAt       *time.Time
	RejectedAt      *time.Time
	CancelledAt     *time.Time
	CancelledByRole *ActorRole
	CompletedAt     *time.Time

	ClientPresence   *PresenceResponse
	ProviderPresence *PresenceResponse

	RiskScore        *int
	RiskLevel        *RiskLevel
	RiskReasons      []string
	RiskCalculatedAt *time.Time

	// Version is the optimistic concurrency token; every persisted update
	// bumps it and a stale write loses with ErrConflict.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParticipantRole returns the role userID plays on this appointment, or ok
// false when the user is neither party.
func (a *Appointment) ParticipantRole(userID uuid.UUID) (ActorRole, bool) {
	switch userID {
	case a.ClientID:
		return RoleClient, true
	case a.ProviderID:
		return RoleProvider, true
	}
	return "", false
}

// History is the append-only audit row. Rows are written exactly once per
// state-affecting operation and never mutated; replaying them in order
// reconstructs the appointment.
type History struct {
	ID                    int64
	AppointmentID         uuid.UUID
	PrevStatus            *Status
	NewStatus             Status
	PrevOperationalStatus *OperationalStatus
	NewOperationalStatus  *OperationalStatus
	ActorID               *uuid.UUID
	ActorRole             ActorRole
	Reason                string
	Metadata              []byte
	OccurredAt            time.Time
}
