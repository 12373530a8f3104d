package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) GetActiveRules(ctx context.Context, providerID uuid.UUID) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, weekday, start_minute, end_minute, slot_duration_minutes, active
		FROM availability_rules
		WHERE provider_id = $1
		  AND active
		ORDER BY weekday, start_minute
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Rule
	for rows.Next() {
		var rule Rule
		var weekday int
		if err := rows.Scan(
			&rule.ID,
			&rule.ProviderID,
			&weekday,
			&rule.StartMinute,
			&rule.EndMinute,
			&rule.SlotDurationMinutes,
			&rule.Active,
		); err != nil {
			return nil, err
		}
		rule.Weekday = time.Weekday(weekday)
		result = append(result, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) GetActiveExceptions(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Exception, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, starts_at, ends_at, reason, active
		FROM availability_exceptions
		WHERE provider_id = $1
		  AND active
		  AND starts_at < $3
		  AND ends_at > $2
		ORDER BY starts_at
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Exception
	for rows.Next() {
		var e Exception
		if err := rows.Scan(
			&e.ID,
			&e.ProviderID,
			&e.StartsAt,
			&e.EndsAt,
			&e.Reason,
			&e.Active,
		); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
