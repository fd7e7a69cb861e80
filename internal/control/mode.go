package control

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hydralab/warden/internal/models"
)

// Operating modes, from most to least autonomous.
const (
	ModeFullAuto   = "full_auto"
	ModeSupervised = "supervised"
	ModeNotifyOnly = "notify_only"
	ModeSafe       = "safe_mode"
)

// Reserved non-human actor identities. Only a human actor may lift safe
// mode.
const (
	ActorSystem    = "system"
	ActorScheduler = "scheduler"
	ActorAdvisor   = "advisor"
	ActorWebhook   = "webhook"
)

var (
	ErrInvalidMode = errors.New("invalid mode")
	// ErrHumanRequired is returned when a system actor attempts to leave
	// safe mode. Safe mode is sticky until an explicit human resume.
	ErrHumanRequired = errors.New("leaving safe_mode requires a human actor")
)

// ValidMode reports whether m names an operating mode.
func ValidMode(m string) bool {
	switch m {
	case ModeFullAuto, ModeSupervised, ModeNotifyOnly, ModeSafe:
		return true
	}
	return false
}

// IsSystemActor reports whether actor is one of the reserved non-human
// identities.
func IsSystemActor(actor string) bool {
	switch actor {
	case ActorSystem, ActorScheduler, ActorAdvisor, ActorWebhook:
		return true
	}
	return false
}

// Auditor records mode transitions in the activity ledger before they take
// effect.
type Auditor interface {
	RecordModeChange(fromMode, toMode, actor string) error
}

// Store persists transition history so the current mode survives a restart.
type Store interface {
	SaveTransition(t models.ModeTransition) error
	LastMode() (string, error)
	History(limit int) ([]models.ModeTransition, error)
}

// Service holds the process-wide operating mode. Reads are O(1) with no
// I/O; every policy decision consults Mode.
type Service struct {
	mu      sync.RWMutex
	mode    string
	version int64

	auditor Auditor
	store   Store
}

func NewService(auditor Auditor, store Store) *Service {
	return &Service{mode: ModeSupervised, auditor: auditor, store: store}
}

// Restore loads the last persisted mode. Safe mode in particular must stick
// across restarts of the governance core itself.
func (s *Service) Restore() error {
	if s.store == nil {
		return nil
	}
	last, err := s.store.LastMode()
	if err != nil {
		return fmt.Errorf("restore mode: %w", err)
	}
	if last == "" {
		return nil
	}
	if !ValidMode(last) {
		return fmt.Errorf("restore mode: %w: %q", ErrInvalidMode, last)
	}
	s.mu.Lock()
	s.mode = last
	s.mu.Unlock()
	return nil
}

// Mode returns the current operating mode.
func (s *Service) Mode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Version increments on every applied transition.
func (s *Service) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// SetMode transitions to newMode and returns the previous mode. The ledger
// record is written before the mode flips (write-ahead); if the ledger
// cannot record the transition, the transition does not happen. Setting the
// current mode again is a no-op and is not audited.
func (s *Service) SetMode(newMode, actor string) (string, error) {
	if !ValidMode(newMode) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, newMode)
	}

	s.mu.Lock()
	prev := s.mode
	if prev == newMode {
		s.mu.Unlock()
		return prev, nil
	}
	if prev == ModeSafe && IsSystemActor(actor) {
		s.mu.Unlock()
		return prev, ErrHumanRequired
	}
	s.mu.Unlock()

	// Audit outside the lock; the ledger does its own serialization.
	if s.auditor != nil {
		if err := s.auditor.RecordModeChange(prev, newMode, actor); err != nil {
			return prev, fmt.Errorf("record mode change: %w", err)
		}
	}

	s.mu.Lock()
	// Re-check: a concurrent transition may have landed while auditing.
	prev = s.mode
	if prev == newMode {
		s.mu.Unlock()
		return prev, nil
	}
	if prev == ModeSafe && IsSystemActor(actor) {
		s.mu.Unlock()
		return prev, ErrHumanRequired
	}
	s.mode = newMode
	s.version++
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveTransition(models.ModeTransition{
			FromMode: prev,
			ToMode:   newMode,
			Actor:    actor,
			At:       time.Now(),
		}); err != nil {
			slog.Error("Failed to persist mode transition", "from", prev, "to", newMode, "error", err)
		}
	}

	slog.Info("Mode changed", "from", prev, "to", newMode, "actor", actor)
	return prev, nil
}

// EmergencyStop forces safe mode. It is idempotent and safe under
// concurrent callers: the target state is a fixed point, so last writer
// wins and every caller succeeds. Unlike SetMode it does not fail when the
// audit write fails; refusing to stop because the ledger is down would be
// the wrong direction to fail.
func (s *Service) EmergencyStop(actor string) string {
	s.mu.Lock()
	prev := s.mode
	already := prev == ModeSafe
	if !already {
		s.mode = ModeSafe
		s.version++
	}
	s.mu.Unlock()

	if already {
		return prev
	}

	if s.auditor != nil {
		if err := s.auditor.RecordModeChange(prev, ModeSafe, actor); err != nil {
			slog.Error("Emergency stop applied but not audited", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.SaveTransition(models.ModeTransition{
			FromMode: prev,
			ToMode:   ModeSafe,
			Actor:    actor,
			At:       time.Now(),
		}); err != nil {
			slog.Error("Failed to persist emergency stop", "error", err)
		}
	}

	slog.Warn("EMERGENCY STOP", "previous_mode", prev, "actor", actor)
	return prev
}

// History returns recent transitions, newest first.
func (s *Service) History(limit int) ([]models.ModeTransition, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.History(limit)
}
