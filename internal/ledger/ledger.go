package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hydralab/warden/internal/models"
)

var (
	ErrNotFound = errors.New("activity record not found")
	// ErrNotPending is returned when approving or rejecting a record that
	// is not pending. Double resolution is a visible error, never a silent
	// no-op.
	ErrNotPending = errors.New("activity record is not pending")
	// ErrUnavailable means the ledger cannot durably record decisions. The
	// policy engine fails closed while this holds.
	ErrUnavailable   = errors.New("ledger persistence unavailable")
	ErrInvalidStatus = errors.New("invalid status for result update")
)

// QueryFilter narrows a ledger query. Zero fields are ignored.
type QueryFilter struct {
	Source     string
	ActionType string
	Target     string
	Status     string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// Store is the persistence behind the ledger. The Postgres implementation
// lives in internal/database; an in-memory implementation backs tests.
type Store interface {
	Insert(rec *models.ActivityRecord) error
	Get(id int64) (*models.ActivityRecord, error)
	List(f QueryFilter) ([]models.ActivityRecord, int64, error)
	// ResolvePending atomically moves a pending record to newStatus.
	// Returns ErrNotFound for unknown ids and ErrNotPending when the
	// record has already been resolved.
	ResolvePending(id int64, newStatus, actor string, at time.Time) (*models.ActivityRecord, error)
	SetResult(id int64, result, detail string) (*models.ActivityRecord, error)
	Ping() error
}

// Service is the activity ledger. Every component appends its decision here
// before acting on it; if an append fails the ledger flips to unavailable
// and stays there until a probe succeeds, so no unlogged allow can ever be
// produced.
type Service struct {
	store     Store
	available atomic.Bool
	stop      chan struct{}

	onAppend func(models.ActivityRecord)
	onError  func(error)
}

func NewService(store Store) *Service {
	s := &Service{store: store, stop: make(chan struct{})}
	s.available.Store(true)
	return s
}

// OnAppend registers a callback invoked after every durable append. Used by
// the activity stream and metrics.
func (s *Service) OnAppend(fn func(models.ActivityRecord)) { s.onAppend = fn }

// OnError registers a callback invoked on every failed append.
func (s *Service) OnError(fn func(error)) { s.onError = fn }

// Available reports whether the ledger can currently record decisions.
func (s *Service) Available() bool { return s.available.Load() }

// Append durably records rec and returns its id. Timestamp is assigned
// here. On persistence failure the ledger is marked unavailable.
func (s *Service) Append(rec *models.ActivityRecord) (int64, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if err := s.store.Insert(rec); err != nil {
		s.markUnavailable(err)
		if s.onError != nil {
			s.onError(err)
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.available.Store(true)
	if s.onAppend != nil {
		s.onAppend(*rec)
	}
	return rec.ID, nil
}

// Get returns one record by id.
func (s *Service) Get(id int64) (*models.ActivityRecord, error) {
	return s.store.Get(id)
}

// Query returns matching records plus the total match count for pagination.
func (s *Service) Query(f QueryFilter) ([]models.ActivityRecord, int64, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.List(f)
}

// Pending returns every record awaiting approval, oldest first.
func (s *Service) Pending() ([]models.ActivityRecord, error) {
	recs, _, err := s.store.List(QueryFilter{Status: models.StatusPending, Limit: 200})
	return recs, err
}

// Resolve moves a pending record to approved or rejected, exactly once.
func (s *Service) Resolve(id int64, newStatus, actor string) (*models.ActivityRecord, error) {
	if newStatus != models.StatusApproved && newStatus != models.StatusRejected {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}
	return s.store.ResolvePending(id, newStatus, actor, time.Now())
}

// UpdateResult records the outcome the caller reports after executing an
// action. Legal only for executed or approved records; blocked and rejected
// actions never ran, and pending ones must go through approval first.
func (s *Service) UpdateResult(id int64, result, detail string) (*models.ActivityRecord, error) {
	switch result {
	case models.ResultOK, models.ResultError, models.ResultTimeout:
	default:
		return nil, fmt.Errorf("%w: result %q", ErrInvalidStatus, result)
	}
	rec, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusExecuted && rec.Status != models.StatusApproved {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidStatus, rec.Status)
	}
	return s.store.SetResult(id, result, detail)
}

// RecordModeChange appends the audit record for a mode transition. It
// implements control.Auditor.
func (s *Service) RecordModeChange(fromMode, toMode, actor string) error {
	_, err := s.Append(&models.ActivityRecord{
		Source:         actor,
		ActionType:     "mode_change",
		Target:         "control_mode",
		Status:         models.StatusExecuted,
		Result:         models.ResultOK,
		DecisionReason: fmt.Sprintf("%s -> %s", fromMode, toMode),
	})
	return err
}

// StartProbe begins re-checking persistence while the ledger is
// unavailable. Interval follows LEDGER_PROBE_INTERVAL.
func (s *Service) StartProbe(interval time.Duration) {
	go s.probeLoop(interval)
}

func (s *Service) StopProbe() {
	close(s.stop)
}

func (s *Service) probeLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.available.Load() {
				continue
			}
			if err := s.store.Ping(); err != nil {
				slog.Warn("Ledger still unavailable", "error", err)
				continue
			}
			s.available.Store(true)
			slog.Info("Ledger persistence recovered")
		case <-s.stop:
			return
		}
	}
}

func (s *Service) markUnavailable(err error) {
	if s.available.CompareAndSwap(true, false) {
		slog.Error("Ledger persistence failed, governance now fails closed", "error", err)
	}
}
