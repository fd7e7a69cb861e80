package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hydralab/warden/internal/models"
	"gorm.io/datatypes"
)

var (
	ErrNotFound = errors.New("work item not found")
	// ErrNotCancellable is returned when cancelling an item that already
	// left the queued state.
	ErrNotCancellable = errors.New("work item is not queued")
)

// Store persists work items. ClaimNext must be exactly-once: no two workers
// may claim the same item. The Postgres implementation lives in
// internal/database; the in-memory one backs tests.
type Store interface {
	InsertItem(item *models.WorkItem) error
	GetItem(id uuid.UUID) (*models.WorkItem, error)
	ListItems(status string, limit int) ([]models.WorkItem, error)
	// ClaimNext atomically marks the highest-priority eligible queued item
	// as processing and returns it. Returns (nil, nil) when nothing is
	// eligible.
	ClaimNext(now time.Time) (*models.WorkItem, error)
	// SetItemStatus updates status and detail.
	SetItemStatus(id uuid.UUID, status, detail string) error
	// Requeue returns a processing item to queued, optionally deferring
	// eligibility and linking the governing activity record.
	Requeue(id uuid.UUID, after *time.Time, activityID int64, detail string) error
	// CancelQueued cancels an item only while it is still queued.
	CancelQueued(id uuid.UUID) (*models.WorkItem, error)
	CountItems(status string) (int64, error)
}

// Service is the work queue fed by trigger rules and direct API calls and
// drained by the worker pool.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// EnqueueRequest carries the fields of a new work item.
type EnqueueRequest struct {
	Kind           string
	ActionType     string
	Target         string
	Source         string
	Priority       string
	Payload        map[string]any
	ScheduledAfter *time.Time
}

// Enqueue inserts a new queued item.
func (s *Service) Enqueue(req EnqueueRequest) (*models.WorkItem, error) {
	if req.Kind == "" || req.ActionType == "" {
		return nil, fmt.Errorf("kind and action_type are required")
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if models.PriorityRank(priority) > 3 {
		return nil, fmt.Errorf("invalid priority %q", priority)
	}
	source := req.Source
	if source == "" {
		source = "api"
	}
	item := &models.WorkItem{
		ID:             uuid.New(),
		Kind:           req.Kind,
		ActionType:     req.ActionType,
		Target:         req.Target,
		Source:         source,
		Priority:       priority,
		Status:         models.WorkQueued,
		Payload:        marshalPayload(req.Payload),
		ScheduledAfter: req.ScheduledAfter,
		CreatedAt:      time.Now(),
	}
	if err := s.store.InsertItem(item); err != nil {
		return nil, fmt.Errorf("enqueue work item: %w", err)
	}
	return item, nil
}

// Get returns one item by id.
func (s *Service) Get(id uuid.UUID) (*models.WorkItem, error) {
	return s.store.GetItem(id)
}

// List returns items, optionally filtered by status, newest first.
func (s *Service) List(status string, limit int) ([]models.WorkItem, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListItems(status, limit)
}

// Cancel cancels a queued item. Items already claimed by a worker cannot be
// cancelled; there is no preemption of running actions.
func (s *Service) Cancel(id uuid.UUID) (*models.WorkItem, error) {
	return s.store.CancelQueued(id)
}

// Depth returns the number of queued items.
func (s *Service) Depth() int64 {
	n, err := s.store.CountItems(models.WorkQueued)
	if err != nil {
		return 0
	}
	return n
}

func (s *Service) claimNext(now time.Time) (*models.WorkItem, error) {
	return s.store.ClaimNext(now)
}

func marshalPayload(payload map[string]any) datatypes.JSON {
	if len(payload) == 0 {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
