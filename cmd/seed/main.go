package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homefix/appointment-scheduling/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	providerIDs, err := seedProviders(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed providers: %v", err)
	}
	if err := seedAvailabilityRules(context.Background(), pool, providerIDs); err != nil {
		log.Fatalf("seed availability rules: %v", err)
	}
	clientIDs, err := seedClients(context.Background(), pool, 500)
	if err != nil {
		log.Fatalf("seed clients: %v", err)
	}
	requests, err := seedRequests(context.Background(), pool, clientIDs, providerIDs)
	if err != nil {
		log.Fatalf("seed requests: %v", err)
	}
	if err := seedAppointments(context.Background(), pool, requests, 100); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}
	if err := seedRiskPolicy(context.Background(), pool); err != nil {
		log.Fatalf("seed risk policy: %v", err)
	}

	log.Println("seed complete")
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d providers", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, active, created_at, updated_at)
			VALUES ($1, $2, true, now(), now())
		`, id, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("providers seeded")
	return ids, nil
}

// seedAvailabilityRules gives each provider a weekday schedule of one-hour
// slots, plus a shorter Saturday window for some.
func seedAvailabilityRules(ctx context.Context, pool *pgxpool.Pool, providerIDs []uuid.UUID) error {
	log.Printf("seeding availability rules for %d providers", len(providerIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, providerID := range providerIDs {
		for weekday := 1; weekday <= 5; weekday++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO availability_rules (id, provider_id, weekday, start_minute, end_minute, slot_duration_minutes, active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, true, now(), now())
			`, uuid.New(), providerID, weekday, 8*60, 18*60, 60)
			if err != nil {
				return err
			}
		}
		if gofakeit.Bool() {
			_, err := tx.Exec(ctx, `
				INSERT INTO availability_rules (id, provider_id, weekday, start_minute, end_minute, slot_duration_minutes, active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, true, now(), now())
			`, uuid.New(), providerID, 6, 9*60, 13*60, 60)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("availability rules seeded")
	return nil
}

func seedClients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d clients", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		email := gofakeit.Email()

		_, err := tx.Exec(ctx, `
			INSERT INTO clients (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, email)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("clients seeded")
	return ids, nil
}

type seededRequest struct {
	requestID  uuid.UUID
	clientID   uuid.UUID
	providerID uuid.UUID
}

// seedRequests creates open service requests, each with an accepted proposal
// from a random provider so appointments can be scheduled against them.
func seedRequests(ctx context.Context, pool *pgxpool.Pool, clientIDs, providerIDs []uuid.UUID) ([]seededRequest, error) {
	count := len(clientIDs)
	log.Printf("seeding %d service requests", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	requests := make([]seededRequest, 0, count)
	for _, clientID := range clientIDs {
		requestID := uuid.New()
		providerID := providerIDs[gofakeit.Number(0, len(providerIDs)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO service_requests (id, client_id, status, created_at, updated_at)
			VALUES ($1, $2, 'open', now(), now())
		`, requestID, clientID)
		if err != nil {
			return nil, err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO request_proposals (id, request_id, provider_id, status, invalidated, created_at, updated_at)
			VALUES ($1, $2, $3, 'accepted', false, now(), now())
		`, uuid.New(), requestID, providerID)
		if err != nil {
			return nil, err
		}
		requests = append(requests, seededRequest{requestID: requestID, clientID: clientID, providerID: providerID})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("service requests seeded")
	return requests, nil
}

// seedAppointments schedules a slice of the requests into upcoming windows so
// the risk sweep has candidates to chew on. Half start pending, half confirmed.
func seedAppointments(ctx context.Context, pool *pgxpool.Pool, requests []seededRequest, count int) error {
	if count > len(requests) {
		count = len(requests)
	}
	log.Printf("seeding %d appointments", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		req := requests[i]
		start := time.Now().UTC().Truncate(time.Hour).Add(time.Duration(gofakeit.Number(1, 20)) * time.Hour)
		end := start.Add(time.Hour)

		status := "confirmed"
		var expiresAt, confirmedAt *time.Time
		if i%2 == 0 {
			status = "pending_provider_confirmation"
			e := start.Add(-time.Hour)
			expiresAt = &e
		} else {
			c := time.Now().UTC()
			confirmedAt = &c
		}

		appointmentID := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (
				id, request_id, client_id, provider_id,
				window_start, window_end, expires_at, status, confirmed_at,
				version, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, now(), now())
		`, appointmentID, req.requestID, req.clientID, req.providerID,
			start, end, expiresAt, status, confirmedAt)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO appointment_history (appointment_id, new_status, actor_role, reason, occurred_at)
			VALUES ($1, $2, 'client', 'seeded appointment', now())
		`, appointmentID, status)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE service_requests SET status = 'scheduled', updated_at = now() WHERE id = $1
		`, req.requestID)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("appointments seeded")
	return nil
}

// seedRiskPolicy installs the default scoring policy when none is active.
func seedRiskPolicy(ctx context.Context, pool *pgxpool.Pool) error {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM no_show_risk_policies WHERE active)
	`).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		log.Println("active risk policy already present, skipping")
		return nil
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO no_show_risk_policies (
			id, lookback_days, max_history_events_per_actor,
			min_client_history_risk_events, min_provider_history_risk_events,
			weight_client_not_confirmed, weight_provider_not_confirmed, weight_both_not_confirmed_bonus,
			weight_window_within_24h, weight_window_within_6h, weight_window_within_2h,
			weight_client_history_risk, weight_provider_history_risk,
			medium_threshold_score, high_threshold_score,
			notify_level, active, notes, updated_at
		)
		VALUES ($1, 90, 50, 2, 2, 25, 25, 10, 5, 10, 20, 10, 10, 40, 70, 'medium', true, 'default seeded policy', now())
	`, uuid.New())
	if err != nil {
		return err
	}

	log.Println("risk policy seeded")
	return nil
}
