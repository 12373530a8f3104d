package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, request_id, client_id, provider_id,
	window_start, window_end, expires_at,
	status, reason,
	resched_window_start, resched_window_end, resched_requested_by, resched_reason, resched_requested_at,
	operational_status, operational_status_reason, operational_status_updated_at,
	arrival_at, arrival_latitude, arrival_longitude, arrival_accuracy_m, arrival_manual_reason,
	confirmed_at, started_at, rejected_at, cancelled_at, cancelled_by_role, completed_at,
	client_presence_confirmed, client_presence_reason, client_presence_at,
	provider_presence_confirmed, provider_presence_reason, provider_presence_at,
	risk_score, risk_level, risk_reasons, risk_calculated_at,
	version, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var (
		reschedStart, reschedAt *time.Time
		reschedEnd              *time.Time
		reschedBy               *ActorRole
		reschedReason           *string

		opStatus *OperationalStatus

		arrivalAt       *time.Time
		arrivalLat      *float64
		arrivalLon      *float64
		arrivalAccuracy *float64
		arrivalManual   *string

		clientConfirmed *bool
		clientReason    *string
		clientAt        *time.Time

		providerConfirmed *bool
		providerReason    *string
		providerAt        *time.Time
	)

	err := row.Scan(
		&a.ID,
		&a.RequestID,
		&a.ClientID,
		&a.ProviderID,
		&a.WindowStart,
		&a.WindowEnd,
		&a.ExpiresAt,
		&a.Status,
		&a.Reason,
		&reschedStart,
		&reschedEnd,
		&reschedBy,
		&reschedReason,
		&reschedAt,
		&opStatus,
		&a.OperationalStatusReason,
		&a.OperationalStatusUpdatedAt,
		&arrivalAt,
		&arrivalLat,
		&arrivalLon,
		&arrivalAccuracy,
		&arrivalManual,
		&a.ConfirmedAt,
		&a.StartedAt,
		&a.RejectedAt,
		&a.CancelledAt,
		&a.CancelledByRole,
		&a.CompletedAt,
		&clientConfirmed,
		&clientReason,
		&clientAt,
		&providerConfirmed,
		&providerReason,
		&providerAt,
		&a.RiskScore,
		&a.RiskLevel,
		&a.RiskReasons,
		&a.RiskCalculatedAt,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.OperationalStatus = opStatus
	if reschedStart != nil && reschedEnd != nil && reschedBy != nil {
		a.Reschedule = &RescheduleProposal{
			WindowStart: *reschedStart,
			WindowEnd:   *reschedEnd,
			RequestedBy: *reschedBy,
			RequestedAt: *reschedAt,
		}
		if reschedReason != nil {
			a.Reschedule.Reason = *reschedReason
		}
	}
	if arrivalAt != nil {
		a.Arrival = &Arrival{
			At:             *arrivalAt,
			Latitude:       arrivalLat,
			Longitude:      arrivalLon,
			AccuracyMeters: arrivalAccuracy,
			ManualReason:   arrivalManual,
		}
	}
	if clientConfirmed != nil && clientAt != nil {
		a.ClientPresence = &PresenceResponse{
			Confirmed:   *clientConfirmed,
			Reason:      clientReason,
			RespondedAt: *clientAt,
		}
	}
	if providerConfirmed != nil && providerAt != nil {
		a.ProviderPresence = &PresenceResponse{
			Confirmed:   *providerConfirmed,
			Reason:      providerReason,
			RespondedAt: *providerAt,
		}
	}

	return &a, nil
}

func appointmentArgs(a *Appointment) []any {
	var (
		reschedStart, reschedEnd, reschedAt *time.Time
		reschedBy                           *ActorRole
		reschedReason                       *string

		arrivalAt       *time.Time
		arrivalLat      *float64
		arrivalLon      *float64
		arrivalAccuracy *float64
		arrivalManual   *string

		clientConfirmed *bool
		clientReason    *string
		clientAt        *time.Time

		providerConfirmed *bool
		providerReason    *string
		providerAt        *time.Time
	)
	if a.Reschedule != nil {
		reschedStart = &a.Reschedule.WindowStart
		reschedEnd = &a.Reschedule.WindowEnd
		reschedBy = &a.Reschedule.RequestedBy
		reschedReason = &a.Reschedule.Reason
		reschedAt = &a.Reschedule.RequestedAt
	}
	if a.Arrival != nil {
		arrivalAt = &a.Arrival.At
		arrivalLat = a.Arrival.Latitude
		arrivalLon = a.Arrival.Longitude
		arrivalAccuracy = a.Arrival.AccuracyMeters
		arrivalManual = a.Arrival.ManualReason
	}
	if a.ClientPresence != nil {
		clientConfirmed = &a.ClientPresence.Confirmed
		clientReason = a.ClientPresence.Reason
		clientAt = &a.ClientPresence.RespondedAt
	}
	if a.ProviderPresence != nil {
		providerConfirmed = &a.ProviderPresence.Confirmed
		providerReason = a.ProviderPresence.Reason
		providerAt = &a.ProviderPresence.RespondedAt
	}

	return []any{
		a.ID, a.RequestID, a.ClientID, a.ProviderID,
		a.WindowStart, a.WindowEnd, a.ExpiresAt,
		a.Status, a.Reason,
		reschedStart, reschedEnd, reschedBy, reschedReason, reschedAt,
		a.OperationalStatus, a.OperationalStatusReason, a.OperationalStatusUpdatedAt,
		arrivalAt, arrivalLat, arrivalLon, arrivalAccuracy, arrivalManual,
		a.ConfirmedAt, a.StartedAt, a.RejectedAt, a.CancelledAt, a.CancelledByRole, a.CompletedAt,
		clientConfirmed, clientReason, clientAt,
		providerConfirmed, providerReason, providerAt,
		a.RiskScore, a.RiskLevel, a.RiskReasons, a.RiskCalculatedAt,
	}
}

func blockingStatusStrings() []string {
	out := make([]string, len(BlockingStatuses))
	for i, s := range BlockingStatuses {
		out[i] = string(s)
	}
	return out
}

// Interface methods

func (r *PgRepository) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var p Provider
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, active
		FROM providers
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetRequest(ctx context.Context, id uuid.UUID) (*ServiceRequest, error) {
	var req ServiceRequest
	err := r.pool.QueryRow(ctx, `
		SELECT id, client_id, status
		FROM service_requests
		WHERE id = $1
	`, id).Scan(&req.ID, &req.ClientID, &req.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *PgRepository) HasAcceptedProposal(ctx context.Context, requestID, providerID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM request_proposals
			WHERE request_id = $1
			  AND provider_id = $2
			  AND status = 'accepted'
			  AND NOT invalidated
		)
	`, requestID, providerID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PgRepository) MarkRequestScheduled(ctx context.Context, requestID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE service_requests
		SET status = 'scheduled',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'open'
	`, requestID)
	if err != nil {
		return fmt.Errorf("mark request scheduled: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetOpenAppointmentByRequest(ctx context.Context, requestID uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE request_id = $1
		  AND status = ANY($2)
		ORDER BY created_at DESC
		LIMIT 1
	`, requestID, blockingStatusStrings())
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	args := appointmentArgs(a)
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, request_id, client_id, provider_id,
			window_start, window_end, expires_at,
			status, reason,
			resched_window_start, resched_window_end, resched_requested_by, resched_reason, resched_requested_at,
			operational_status, operational_status_reason, operational_status_updated_at,
			arrival_at, arrival_latitude, arrival_longitude, arrival_accuracy_m, arrival_manual_reason,
			confirmed_at, started_at, rejected_at, cancelled_at, cancelled_by_role, completed_at,
			client_presence_confirmed, client_presence_reason, client_presence_at,
			provider_presence_confirmed, provider_presence_reason, provider_presence_at,
			risk_score, risk_level, risk_reasons, risk_calculated_at,
			version, created_at, updated_at
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35, $36, $37, $38,
			1, now(), now()
		)
		RETURNING `+appointmentColumns,
		args...)
	return scanAppointment(row)
}

// UpdateAppointment overwrites every mutable column under a version check.
// A row that vanished returns ErrAppointmentNotFound; a version mismatch
// returns ErrConflict.
func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	args := appointmentArgs(a)
	args = append(args, a.Version)
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET window_start = $5,
		    window_end = $6,
		    expires_at = $7,
		    status = $8,
		    reason = $9,
		    resched_window_start = $10,
		    resched_window_end = $11,
		    resched_requested_by = $12,
		    resched_reason = $13,
		    resched_requested_at = $14,
		    operational_status = $15,
		    operational_status_reason = $16,
		    operational_status_updated_at = $17,
		    arrival_at = $18,
		    arrival_latitude = $19,
		    arrival_longitude = $20,
		    arrival_accuracy_m = $21,
		    arrival_manual_reason = $22,
		    confirmed_at = $23,
		    started_at = $24,
		    rejected_at = $25,
		    cancelled_at = $26,
		    cancelled_by_role = $27,
		    completed_at = $28,
		    client_presence_confirmed = $29,
		    client_presence_reason = $30,
		    client_presence_at = $31,
		    provider_presence_confirmed = $32,
		    provider_presence_reason = $33,
		    provider_presence_at = $34,
		    risk_score = $35,
		    risk_level = $36,
		    risk_reasons = $37,
		    risk_calculated_at = $38,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND request_id = $2
		  AND client_id = $3
		  AND provider_id = $4
		  AND version = $39
		RETURNING `+appointmentColumns,
		args...)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Distinguish a stale version from a missing row.
			var exists bool
			if checkErr := r.pool.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)
			`, a.ID).Scan(&exists); checkErr != nil {
				return nil, checkErr
			}
			if exists {
				return nil, ErrConflict
			}
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) FindBlocking(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND status = ANY($2)
		  AND window_start < $4
		  AND window_end > $3
		ORDER BY window_start
	`, providerID, blockingStatusStrings(), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = $1
		  AND expires_at IS NOT NULL
		  AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3
	`, StatusPendingProviderConfirmation, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// FindRiskCandidates returns appointments still awaiting execution whose
// window starts inside [from, to], oldest window first, bounded by limit.
func (r *PgRepository) FindRiskCandidates(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = ANY($1)
		  AND window_start >= $2
		  AND window_start <= $3
		ORDER BY window_start
		LIMIT $4
	`, []string{string(StatusPendingProviderConfirmation), string(StatusConfirmed)}, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CountClientRiskEvents counts a client's recent cancellations and no-shows.
// The inner LIMIT caps query cost; counts above max all read as max.
func (r *PgRepository) CountClientRiskEvents(ctx context.Context, clientID uuid.UUID, from, to time.Time, max int) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT 1
			FROM appointments
			WHERE client_id = $1
			  AND updated_at >= $2
			  AND updated_at <= $3
			  AND (
				status = 'no_show'
				OR (status = 'cancelled' AND cancelled_by_role = 'client')
			  )
			LIMIT $4
		) events
	`, clientID, from, to, max).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CountProviderRiskEvents counts a provider's recent rejections, expiries,
// cancellations and no-shows, bounded the same way.
func (r *PgRepository) CountProviderRiskEvents(ctx context.Context, providerID uuid.UUID, from, to time.Time, max int) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT 1
			FROM appointments
			WHERE provider_id = $1
			  AND updated_at >= $2
			  AND updated_at <= $3
			  AND (
				status IN ('no_show', 'rejected', 'expired')
				OR (status = 'cancelled' AND cancelled_by_role = 'provider')
			  )
			LIMIT $4
		) events
	`, providerID, from, to, max).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateRiskAssessment writes only the risk fields, under the same version
// check as UpdateAppointment.
func (r *PgRepository) UpdateRiskAssessment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET risk_score = $2,
		    risk_level = $3,
		    risk_reasons = $4,
		    risk_calculated_at = $5,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $6
		RETURNING `+appointmentColumns,
		a.ID, a.RiskScore, a.RiskLevel, a.RiskReasons, a.RiskCalculatedAt, a.Version)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			var exists bool
			if checkErr := r.pool.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)
			`, a.ID).Scan(&exists); checkErr != nil {
				return nil, checkErr
			}
			if exists {
				return nil, ErrConflict
			}
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) AppendHistory(ctx context.Context, h History) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_history (
			appointment_id, prev_status, new_status,
			prev_operational_status, new_operational_status,
			actor_id, actor_role, reason, metadata, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()))
	`, h.AppointmentID, h.PrevStatus, h.NewStatus,
		h.PrevOperationalStatus, h.NewOperationalStatus,
		h.ActorID, h.ActorRole, h.Reason, h.Metadata, nullableTime(h.OccurredAt))
	if err != nil {
		return fmt.Errorf("insert history row: %w", err)
	}
	return nil
}

func (r *PgRepository) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]History, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, prev_status, new_status,
		       prev_operational_status, new_operational_status,
		       actor_id, actor_role, reason, metadata, occurred_at
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []History
	for rows.Next() {
		var h History
		if err := rows.Scan(
			&h.ID,
			&h.AppointmentID,
			&h.PrevStatus,
			&h.NewStatus,
			&h.PrevOperationalStatus,
			&h.NewOperationalStatus,
			&h.ActorID,
			&h.ActorRole,
			&h.Reason,
			&h.Metadata,
			&h.OccurredAt,
		); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
