package risk

import (
	"context"
	"errors"

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

const queueItemColumns = `
	id, appointment_id, risk_level, score, reasons, status,
	first_detected_at, last_detected_at,
	resolved_at, resolved_by_admin_id, resolution_note,
	created_at, updated_at`

func scanQueueItem(row pgx.Row) (*QueueItem, error) {
	var item QueueItem
	err := row.Scan(
		&item.ID,
		&item.AppointmentID,
		&item.RiskLevel,
		&item.Score,
		&item.Reasons,
		&item.Status,
		&item.FirstDetectedAt,
		&item.LastDetectedAt,
		&item.ResolvedAt,
		&item.ResolvedByAdminID,
		&item.ResolutionNote,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *PgRepository) GetActivePolicy(ctx context.Context) (*Policy, error) {
	var p Policy
	err := r.pool.QueryRow(ctx, `
		SELECT id, lookback_days, max_history_events_per_actor,
		       min_client_history_risk_events, min_provider_history_risk_events,
		       weight_client_not_confirmed, weight_provider_not_confirmed, weight_both_not_confirmed_bonus,
		       weight_window_within_24h, weight_window_within_6h, weight_window_within_2h,
		       weight_client_history_risk, weight_provider_history_risk,
		       medium_threshold_score, high_threshold_score,
		       notify_level, active, notes, updated_at
		FROM no_show_risk_policies
		WHERE active
		ORDER BY updated_at DESC
		LIMIT 1
	`).Scan(
		&p.ID,
		&p.LookbackDays,
		&p.MaxHistoryEventsPerActor,
		&p.MinClientHistoryRiskEvents,
		&p.MinProviderHistoryRiskEvents,
		&p.WeightClientNotConfirmed,
		&p.WeightProviderNotConfirmed,
		&p.WeightBothNotConfirmedBonus,
		&p.WeightWindowWithin24Hours,
		&p.WeightWindowWithin6Hours,
		&p.WeightWindowWithin2Hours,
		&p.WeightClientHistoryRisk,
		&p.WeightProviderHistoryRisk,
		&p.MediumThresholdScore,
		&p.HighThresholdScore,
		&p.NotifyLevel,
		&p.Active,
		&p.Notes,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPolicyMissing
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetOpenQueueItem(ctx context.Context, appointmentID uuid.UUID) (*QueueItem, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+queueItemColumns+`
		FROM no_show_queue_items
		WHERE appointment_id = $1
		  AND status = $2
	`, appointmentID, QueueOpen)
	return scanQueueItem(row)
}

func (r *PgRepository) AddQueueItem(ctx context.Context, item *QueueItem) (*QueueItem, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO no_show_queue_items (
			id, appointment_id, risk_level, score, reasons, status,
			first_detected_at, last_detected_at,
			resolved_at, resolved_by_admin_id, resolution_note,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, NULL, NULL, now(), now())
		RETURNING `+queueItemColumns,
		item.ID, item.AppointmentID, item.RiskLevel, item.Score, item.Reasons,
		item.Status, item.FirstDetectedAt, item.LastDetectedAt)
	return scanQueueItem(row)
}

func (r *PgRepository) UpdateQueueItem(ctx context.Context, item *QueueItem) (*QueueItem, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE no_show_queue_items
		SET risk_level = $2,
		    score = $3,
		    reasons = $4,
		    status = $5,
		    last_detected_at = $6,
		    resolved_at = $7,
		    resolved_by_admin_id = $8,
		    resolution_note = $9,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+queueItemColumns,
		item.ID, item.RiskLevel, item.Score, item.Reasons, item.Status,
		item.LastDetectedAt, item.ResolvedAt, item.ResolvedByAdminID, item.ResolutionNote)
	return scanQueueItem(row)
}

func (r *PgRepository) ListOpenQueueItems(ctx context.Context, limit int) ([]QueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+queueItemColumns+`
		FROM no_show_queue_items
		WHERE status = $1
		ORDER BY CASE risk_level WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END DESC,
		         last_detected_at DESC
		LIMIT $2
	`, QueueOpen, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
