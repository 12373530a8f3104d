package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/homefix/appointment-scheduling/internal/appointment"
)

const systemResolutionNote = "risk level dropped below the actionable threshold"

// QueueManager is the only writer of queue items. The scorer hands it every
// changed assessment; admins close items manually through ResolveManually.
type QueueManager struct {
	repo Repository
	now  func() time.Time
}

func NewQueueManager(repo Repository) *QueueManager {
	return &QueueManager{
		repo: repo,
		now:  time.Now,
	}
}

// Sync reconciles the queue with a freshly changed assessment. An actionable
// level opens or refreshes the appointment's open item; a level below the
// threshold auto-resolves it with a system note and no admin attribution.
// Re-escalation after resolution opens a brand-new item with a fresh
// FirstDetectedAt.
func (m *QueueManager) Sync(ctx context.Context, appointmentID uuid.UUID, assessment Assessment, actionable appointment.RiskLevel) error {
	now := m.now().UTC()

	item, err := m.repo.GetOpenQueueItem(ctx, appointmentID)
	if err != nil && !errors.Is(err, ErrQueueItemNotFound) {
		return fmt.Errorf("load open queue item: %w", err)
	}

	if assessment.Level.AtLeast(actionable) {
		if item == nil {
			_, err := m.repo.AddQueueItem(ctx, &QueueItem{
				ID:              uuid.New(),
				AppointmentID:   appointmentID,
				RiskLevel:       assessment.Level,
				Score:           assessment.Score,
				Reasons:         assessment.Reasons,
				Status:          QueueOpen,
				FirstDetectedAt: now,
				LastDetectedAt:  now,
			})
			if err != nil {
				return fmt.Errorf("open queue item: %w", err)
			}
			return nil
		}

		item.RiskLevel = assessment.Level
		item.Score = assessment.Score
		item.Reasons = assessment.Reasons
		item.LastDetectedAt = now
		if _, err := m.repo.UpdateQueueItem(ctx, item); err != nil {
			return fmt.Errorf("refresh queue item: %w", err)
		}
		return nil
	}

	if item == nil {
		return nil
	}

	note := systemResolutionNote
	item.Status = QueueResolved
	item.ResolvedAt = &now
	item.ResolvedByAdminID = nil
	item.ResolutionNote = &note
	if _, err := m.repo.UpdateQueueItem(ctx, item); err != nil {
		return fmt.Errorf("auto-resolve queue item: %w", err)
	}
	return nil
}

// ResolveManually closes an appointment's open item on behalf of an admin.
func (m *QueueManager) ResolveManually(ctx context.Context, appointmentID, adminID uuid.UUID, note string) (*QueueItem, error) {
	if note == "" {
		return nil, fmt.Errorf("%w: resolution note is required", appointment.ErrValidation)
	}

	item, err := m.repo.GetOpenQueueItem(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	item.Status = QueueResolved
	item.ResolvedAt = &now
	item.ResolvedByAdminID = &adminID
	item.ResolutionNote = &note
	return m.repo.UpdateQueueItem(ctx, item)
}

// ListOpen returns the open queue ordered for admin triage.
func (m *QueueManager) ListOpen(ctx context.Context, limit int) ([]QueueItem, error) {
	return m.repo.ListOpenQueueItems(ctx, limit)
}
