package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu   sync.Mutex
	logs []*Log
}

func (f *fakeStore) InsertAuditLog(_ context.Context, log *Log) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logs)
}

func TestService_LogEventPersists(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, 16, logger.Default())
	svc.Start()
	defer svc.Stop()

	svc.LogEvent(EventTypeRuleLifecycle, SubtypeRuleCreated, WithRuleName("porch-light"))

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "porch-light", *store.logs[0].RuleName)
}

func TestService_LogEventNeverBlocksWhenQueueFull(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, 1, logger.Default())
	// Deliberately not started: nothing drains the queue, so the second
	// LogEvent call must still return immediately instead of blocking.
	svc.LogEvent(EventTypeDeviceControl, SubtypeDeviceCommand)

	done := make(chan struct{})
	go func() {
		svc.LogEvent(EventTypeDeviceControl, SubtypeDeviceCommand)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("LogEvent blocked on a full queue")
	}
}

func TestService_StopDrainsPendingEvents(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, 16, logger.Default())
	svc.Start()

	svc.LogEvent(EventTypeSceneLifecycle, SubtypeSceneApplied, WithSceneName("evening"))
	svc.Stop()

	assert.Equal(t, 1, store.count())
}
