package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homefix/appointment-scheduling/internal/appointment"
	"github.com/homefix/appointment-scheduling/internal/notify"
)

// Signal tokens, appended in evaluation order.
const (
	ReasonClientNotConfirmed   = "client_presence_not_confirmed"
	ReasonProviderNotConfirmed = "provider_presence_not_confirmed"
	ReasonBothNotConfirmed     = "both_presence_not_confirmed"
	ReasonWindowWithin2h       = "window_within_2h"
	ReasonWindowWithin6h       = "window_within_6h"
	ReasonWindowWithin24h      = "window_within_24h"
	ReasonClientHistory        = "client_history_risk"
	ReasonProviderHistory      = "provider_history_risk"
)

// Scorer runs the periodic no-show sweep: policy snapshot, bounded candidate
// batch, idempotent per-row scoring, queue sync and party notification.
type Scorer struct {
	appointments  AppointmentStore
	repo          Repository
	queue         *QueueManager
	notifier      notify.Notifier
	logger        *zap.Logger
	lookahead     time.Duration
	pastTolerance time.Duration
	batchSize     int
	now           func() time.Time
}

func NewScorer(
	appointments AppointmentStore,
	repo Repository,
	queue *QueueManager,
	notifier notify.Notifier,
	logger *zap.Logger,
	lookahead time.Duration,
	pastTolerance time.Duration,
	batchSize int,
) *Scorer {
	return &Scorer{
		appointments:  appointments,
		repo:          repo,
		queue:         queue,
		notifier:      notifier,
		logger:        logger,
		lookahead:     lookahead,
		pastTolerance: pastTolerance,
		batchSize:     batchSize,
		now:           time.Now,
	}
}

// EvaluateBatch scores every candidate appointment once and returns the
// number of candidates processed. A failure on one row is logged and skipped;
// only a missing active policy aborts the run.
func (s *Scorer) EvaluateBatch(ctx context.Context) (int, error) {
	policy, err := s.repo.GetActivePolicy(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	from := now.Add(-s.pastTolerance)
	to := now.Add(s.lookahead)

	candidates, err := s.appointments.FindRiskCandidates(ctx, from, to, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load risk candidates: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	clientEvents := make(map[uuid.UUID]int)
	providerEvents := make(map[uuid.UUID]int)
	processed := 0

	for i := range candidates {
		a := candidates[i]
		if err := s.evaluateOne(ctx, &a, policy, now, clientEvents, providerEvents); err != nil {
			s.logger.Error("risk evaluation failed for appointment",
				zap.String("appointment_id", a.ID.String()),
				zap.Error(err),
			)
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *Scorer) evaluateOne(
	ctx context.Context,
	a *appointment.Appointment,
	policy *Policy,
	now time.Time,
	clientEvents, providerEvents map[uuid.UUID]int,
) error {
	assessment, err := s.calculate(ctx, a, policy, now, clientEvents, providerEvents)
	if err != nil {
		return err
	}

	// Unchanged assessment: the row stays untouched, no history, no
	// notification, no queue churn.
	if assessment.Matches(a) {
		return nil
	}

	prevScore := a.RiskScore
	prevLevel := a.RiskLevel
	prevReasons := a.RiskReasons

	score := assessment.Score
	level := assessment.Level
	a.RiskScore = &score
	a.RiskLevel = &level
	a.RiskReasons = assessment.Reasons
	a.RiskCalculatedAt = &now

	updated, err := s.appointments.UpdateRiskAssessment(ctx, a)
	if err != nil {
		return err
	}
	*a = *updated

	metadata, err := historyMetadata(prevScore, prevLevel, prevReasons, assessment)
	if err != nil {
		return fmt.Errorf("encode risk history metadata: %w", err)
	}
	if err := s.appointments.AppendHistory(ctx, appointment.History{
		AppointmentID: a.ID,
		PrevStatus:    &a.Status,
		NewStatus:     a.Status,
		ActorRole:     appointment.RoleSystem,
		Reason:        fmt.Sprintf("no-show risk recalculated: %s (%d)", assessment.Level, assessment.Score),
		Metadata:      metadata,
		OccurredAt:    now,
	}); err != nil {
		return err
	}

	if err := s.queue.Sync(ctx, a.ID, assessment, policy.NotifyLevel); err != nil {
		return err
	}

	levelChanged := prevLevel == nil || *prevLevel != assessment.Level
	if levelChanged && assessment.Level.AtLeast(policy.NotifyLevel) {
		s.notifyRiskChanged(ctx, a, assessment)
	}
	return nil
}

func (s *Scorer) calculate(
	ctx context.Context,
	a *appointment.Appointment,
	policy *Policy,
	now time.Time,
	clientEvents, providerEvents map[uuid.UUID]int,
) (Assessment, error) {
	score := 0
	var reasons []string

	clientConfirmed := a.ClientPresence != nil && a.ClientPresence.Confirmed
	providerConfirmed := a.ProviderPresence != nil && a.ProviderPresence.Confirmed

	if !clientConfirmed {
		score += policy.WeightClientNotConfirmed
		reasons = append(reasons, ReasonClientNotConfirmed)
	}
	if !providerConfirmed {
		score += policy.WeightProviderNotConfirmed
		reasons = append(reasons, ReasonProviderNotConfirmed)
	}
	if !clientConfirmed && !providerConfirmed {
		score += policy.WeightBothNotConfirmedBonus
		reasons = append(reasons, ReasonBothNotConfirmed)
	}

	// Only the tightest matching bucket counts.
	hoursToWindow := a.WindowStart.Sub(now).Hours()
	switch {
	case hoursToWindow <= 2:
		score += policy.WeightWindowWithin2Hours
		reasons = append(reasons, ReasonWindowWithin2h)
	case hoursToWindow <= 6:
		score += policy.WeightWindowWithin6Hours
		reasons = append(reasons, ReasonWindowWithin6h)
	case hoursToWindow <= 24:
		score += policy.WeightWindowWithin24Hours
		reasons = append(reasons, ReasonWindowWithin24h)
	}

	historyFrom := now.AddDate(0, 0, -policy.LookbackDays)

	clientCount, err := s.countClientEvents(ctx, a.ClientID, historyFrom, now, policy, clientEvents)
	if err != nil {
		return Assessment{}, err
	}
	if clientCount >= policy.MinClientHistoryRiskEvents {
		score += policy.WeightClientHistoryRisk
		reasons = append(reasons, ReasonClientHistory)
	}

	providerCount, err := s.countProviderEvents(ctx, a.ProviderID, historyFrom, now, policy, providerEvents)
	if err != nil {
		return Assessment{}, err
	}
	if providerCount >= policy.MinProviderHistoryRiskEvents {
		score += policy.WeightProviderHistoryRisk
		reasons = append(reasons, ReasonProviderHistory)
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	level := appointment.RiskLow
	switch {
	case score >= policy.HighThresholdScore:
		level = appointment.RiskHigh
	case score >= policy.MediumThresholdScore:
		level = appointment.RiskMedium
	}

	return Assessment{Score: score, Level: level, Reasons: reasons}, nil
}

func (s *Scorer) countClientEvents(
	ctx context.Context,
	clientID uuid.UUID,
	from, to time.Time,
	policy *Policy,
	cache map[uuid.UUID]int,
) (int, error) {
	if count, ok := cache[clientID]; ok {
		return count, nil
	}
	count, err := s.appointments.CountClientRiskEvents(ctx, clientID, from, to, policy.MaxHistoryEventsPerActor)
	if err != nil {
		return 0, fmt.Errorf("count client risk events: %w", err)
	}
	cache[clientID] = count
	return count, nil
}

func (s *Scorer) countProviderEvents(
	ctx context.Context,
	providerID uuid.UUID,
	from, to time.Time,
	policy *Policy,
	cache map[uuid.UUID]int,
) (int, error) {
	if count, ok := cache[providerID]; ok {
		return count, nil
	}
	count, err := s.appointments.CountProviderRiskEvents(ctx, providerID, from, to, policy.MaxHistoryEventsPerActor)
	if err != nil {
		return 0, fmt.Errorf("count provider risk events: %w", err)
	}
	cache[providerID] = count
	return count, nil
}

func (s *Scorer) notifyRiskChanged(ctx context.Context, a *appointment.Appointment, assessment Assessment) {
	subject := fmt.Sprintf("Heads up: %s no-show risk on your appointment", assessment.Level)
	message := fmt.Sprintf(
		"Appointment on %s scored %d/100. Signals: %s. Please confirm your presence.",
		a.WindowStart.Format("Jan 2 15:04"),
		assessment.Score,
		strings.Join(assessment.Reasons, ", "),
	)
	actionURL := "/appointments/" + a.ID.String()

	for _, recipient := range []uuid.UUID{a.ClientID, a.ProviderID} {
		if err := s.notifier.Send(ctx, recipient, subject, message, actionURL); err != nil {
			s.logger.Warn("failed to send risk notification",
				zap.String("appointment_id", a.ID.String()),
				zap.String("recipient_id", recipient.String()),
				zap.Error(err),
			)
		}
	}
}

func historyMetadata(prevScore *int, prevLevel *appointment.RiskLevel, prevReasons []string, current Assessment) ([]byte, error) {
	type snapshot struct {
		Score   *int     `json:"score"`
		Level   *string  `json:"level"`
		Reasons []string `json:"reasons"`
	}
	var prevLevelStr *string
	if prevLevel != nil {
		v := string(*prevLevel)
		prevLevelStr = &v
	}
	currentScore := current.Score
	currentLevel := string(current.Level)
	return json.Marshal(struct {
		Type     string   `json:"type"`
		Previous snapshot `json:"previous"`
		Current  snapshot `json:"current"`
	}{
		Type: "no_show_risk_assessment",
		Previous: snapshot{
			Score:   prevScore,
			Level:   prevLevelStr,
			Reasons: prevReasons,
		},
		Current: snapshot{
			Score:   &currentScore,
			Level:   &currentLevel,
			Reasons: current.Reasons,
		},
	})
}
