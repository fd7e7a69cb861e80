package control

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAuditor struct {
	mu      sync.Mutex
	changes []string
	fail    bool
}

func (a *recordingAuditor) RecordModeChange(fromMode, toMode, actor string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("ledger down")
	}
	a.changes = append(a.changes, fromMode+"->"+toMode+" by "+actor)
	return nil
}

func TestDefaultModeIsSupervised(t *testing.T) {
	s := NewService(nil, nil)
	assert.Equal(t, ModeSupervised, s.Mode())
}

func TestSetModeAuditsBeforeFlip(t *testing.T) {
	aud := &recordingAuditor{}
	s := NewService(aud, NewMemoryStore())

	prev, err := s.SetMode(ModeFullAuto, "shaun")
	require.NoError(t, err)
	assert.Equal(t, ModeSupervised, prev)
	assert.Equal(t, ModeFullAuto, s.Mode())
	assert.Equal(t, []string{"supervised->full_auto by shaun"}, aud.changes)
}

func TestSetModeRejectsUnknownMode(t *testing.T) {
	s := NewService(nil, nil)
	_, err := s.SetMode("turbo", "shaun")
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.Equal(t, ModeSupervised, s.Mode())
}

func TestSetModeSameModeIsNoOp(t *testing.T) {
	aud := &recordingAuditor{}
	s := NewService(aud, NewMemoryStore())

	_, err := s.SetMode(ModeSupervised, "shaun")
	require.NoError(t, err)
	assert.Empty(t, aud.changes)
	assert.Equal(t, int64(0), s.Version())
}

func TestSetModeFailedAuditBlocksTransition(t *testing.T) {
	aud := &recordingAuditor{fail: true}
	s := NewService(aud, NewMemoryStore())

	_, err := s.SetMode(ModeFullAuto, "shaun")
	require.Error(t, err)
	assert.Equal(t, ModeSupervised, s.Mode())
}

func TestSystemActorCannotLeaveSafeMode(t *testing.T) {
	s := NewService(&recordingAuditor{}, NewMemoryStore())
	s.EmergencyStop("shaun")
	require.Equal(t, ModeSafe, s.Mode())

	for _, actor := range []string{ActorSystem, ActorScheduler, ActorAdvisor, ActorWebhook} {
		_, err := s.SetMode(ModeFullAuto, actor)
		assert.ErrorIs(t, err, ErrHumanRequired, "actor %s", actor)
		assert.Equal(t, ModeSafe, s.Mode())
	}

	_, err := s.SetMode(ModeSupervised, "shaun")
	require.NoError(t, err)
	assert.Equal(t, ModeSupervised, s.Mode())
}

func TestSystemActorMayChangeNonSafeModes(t *testing.T) {
	s := NewService(&recordingAuditor{}, NewMemoryStore())

	// Entering safe mode is always permitted, even for automation.
	_, err := s.SetMode(ModeSafe, ActorAdvisor)
	require.NoError(t, err)
	assert.Equal(t, ModeSafe, s.Mode())
}

func TestEmergencyStopIdempotent(t *testing.T) {
	aud := &recordingAuditor{}
	s := NewService(aud, NewMemoryStore())

	prev := s.EmergencyStop("shaun")
	assert.Equal(t, ModeSupervised, prev)
	assert.Equal(t, ModeSafe, s.Mode())

	prev = s.EmergencyStop("shaun")
	assert.Equal(t, ModeSafe, prev)
	assert.Len(t, aud.changes, 1)
}

func TestEmergencyStopConcurrent(t *testing.T) {
	s := NewService(&recordingAuditor{}, NewMemoryStore())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.EmergencyStop("shaun")
		}()
	}
	wg.Wait()
	assert.Equal(t, ModeSafe, s.Mode())
}

func TestEmergencyStopSucceedsWhenAuditFails(t *testing.T) {
	aud := &recordingAuditor{fail: true}
	s := NewService(aud, NewMemoryStore())

	s.EmergencyStop("shaun")
	assert.Equal(t, ModeSafe, s.Mode())
}

func TestRestoreLastMode(t *testing.T) {
	store := NewMemoryStore()
	s := NewService(&recordingAuditor{}, store)
	s.EmergencyStop("shaun")

	s2 := NewService(&recordingAuditor{}, store)
	require.NoError(t, s2.Restore())
	assert.Equal(t, ModeSafe, s2.Mode())

	// And safe mode restored this way still requires a human to lift.
	_, err := s2.SetMode(ModeFullAuto, ActorScheduler)
	assert.ErrorIs(t, err, ErrHumanRequired)
}

func TestHistoryNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	s := NewService(&recordingAuditor{}, store)

	_, err := s.SetMode(ModeFullAuto, "shaun")
	require.NoError(t, err)
	_, err = s.SetMode(ModeNotifyOnly, "shaun")
	require.NoError(t, err)

	hist, err := s.History(10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, ModeNotifyOnly, hist[0].ToMode)
	assert.Equal(t, ModeFullAuto, hist[1].ToMode)
}
