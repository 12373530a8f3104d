package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/homefix/appointment-scheduling/internal/appointment"
	"github.com/homefix/appointment-scheduling/internal/risk"
)

type CreateAppointmentRequest struct {
	RequestID   string    `json:"request_id"`
	ProviderID  string    `json:"provider_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type RescheduleRequest struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Reason      string    `json:"reason"`
}

type RescheduleResponseRequest struct {
	Accept bool `json:"accept"`
}

type ArrivalRequest struct {
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	AccuracyMeters *float64 `json:"accuracy_meters,omitempty"`
	ManualReason   *string  `json:"manual_reason,omitempty"`
}

type StartRequest struct {
	OverrideReason string `json:"override_reason,omitempty"`
}

type OperationalStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type PresenceRequest struct {
	Confirmed bool    `json:"confirmed"`
	Reason    *string `json:"reason,omitempty"`
}

type ResolveQueueItemRequest struct {
	Note string `json:"note"`
}

type RescheduleProposalResponse struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	RequestedBy string    `json:"requested_by"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

type AppointmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	RequestID   uuid.UUID  `json:"request_id"`
	ClientID    uuid.UUID  `json:"client_id"`
	ProviderID  uuid.UUID  `json:"provider_id"`
	WindowStart time.Time  `json:"window_start"`
	WindowEnd   time.Time  `json:"window_end"`
	Status      string     `json:"status"`
	Reason      *string    `json:"reason,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	Reschedule *RescheduleProposalResponse `json:"reschedule,omitempty"`

	OperationalStatus       *string    `json:"operational_status,omitempty"`
	OperationalStatusReason *string    `json:"operational_status_reason,omitempty"`
	OperationalUpdatedAt    *time.Time `json:"operational_status_updated_at,omitempty"`

	RiskScore        *int       `json:"risk_score,omitempty"`
	RiskLevel        *string    `json:"risk_level,omitempty"`
	RiskReasons      []string   `json:"risk_reasons,omitempty"`
	RiskCalculatedAt *time.Time `json:"risk_calculated_at,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:          a.ID,
		RequestID:   a.RequestID,
		ClientID:    a.ClientID,
		ProviderID:  a.ProviderID,
		WindowStart: a.WindowStart,
		WindowEnd:   a.WindowEnd,
		Status:      string(a.Status),
		Reason:      a.Reason,
		ExpiresAt:   a.ExpiresAt,

		OperationalStatusReason: a.OperationalStatusReason,
		OperationalUpdatedAt:    a.OperationalStatusUpdatedAt,

		RiskScore:        a.RiskScore,
		RiskReasons:      a.RiskReasons,
		RiskCalculatedAt: a.RiskCalculatedAt,

		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
	if a.Reschedule != nil {
		resp.Reschedule = &RescheduleProposalResponse{
			WindowStart: a.Reschedule.WindowStart,
			WindowEnd:   a.Reschedule.WindowEnd,
			RequestedBy: string(a.Reschedule.RequestedBy),
			Reason:      a.Reschedule.Reason,
			RequestedAt: a.Reschedule.RequestedAt,
		}
	}
	if a.OperationalStatus != nil {
		v := string(*a.OperationalStatus)
		resp.OperationalStatus = &v
	}
	if a.RiskLevel != nil {
		v := string(*a.RiskLevel)
		resp.RiskLevel = &v
	}
	return resp
}

type SlotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type HistoryResponse struct {
	ID                    int64      `json:"id"`
	PrevStatus            *string    `json:"prev_status,omitempty"`
	NewStatus             string     `json:"new_status"`
	PrevOperationalStatus *string    `json:"prev_operational_status,omitempty"`
	NewOperationalStatus  *string    `json:"new_operational_status,omitempty"`
	ActorID               *uuid.UUID `json:"actor_id,omitempty"`
	ActorRole             string     `json:"actor_role"`
	Reason                string     `json:"reason"`
	Metadata              string     `json:"metadata,omitempty"`
	OccurredAt            time.Time  `json:"occurred_at"`
}

func toHistoryResponse(h appointment.History) HistoryResponse {
	resp := HistoryResponse{
		ID:         h.ID,
		NewStatus:  string(h.NewStatus),
		ActorID:    h.ActorID,
		ActorRole:  string(h.ActorRole),
		Reason:     h.Reason,
		Metadata:   string(h.Metadata),
		OccurredAt: h.OccurredAt,
	}
	if h.PrevStatus != nil {
		v := string(*h.PrevStatus)
		resp.PrevStatus = &v
	}
	if h.PrevOperationalStatus != nil {
		v := string(*h.PrevOperationalStatus)
		resp.PrevOperationalStatus = &v
	}
	if h.NewOperationalStatus != nil {
		v := string(*h.NewOperationalStatus)
		resp.NewOperationalStatus = &v
	}
	return resp
}

type QueueItemResponse struct {
	ID                uuid.UUID  `json:"id"`
	AppointmentID     uuid.UUID  `json:"appointment_id"`
	RiskLevel         string     `json:"risk_level"`
	Score             int        `json:"score"`
	Reasons           []string   `json:"reasons"`
	Status            string     `json:"status"`
	FirstDetectedAt   time.Time  `json:"first_detected_at"`
	LastDetectedAt    time.Time  `json:"last_detected_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	ResolvedByAdminID *uuid.UUID `json:"resolved_by_admin_id,omitempty"`
	ResolutionNote    *string    `json:"resolution_note,omitempty"`
}

func toQueueItemResponse(item risk.QueueItem) QueueItemResponse {
	return QueueItemResponse{
		ID:                item.ID,
		AppointmentID:     item.AppointmentID,
		RiskLevel:         string(item.RiskLevel),
		Score:             item.Score,
		Reasons:           item.Reasons,
		Status:            string(item.Status),
		FirstDetectedAt:   item.FirstDetectedAt,
		LastDetectedAt:    item.LastDetectedAt,
		ResolvedAt:        item.ResolvedAt,
		ResolvedByAdminID: item.ResolvedByAdminID,
		ResolutionNote:    item.ResolutionNote,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
