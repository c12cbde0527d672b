// Package timer implements a service that multiplexes named, cancellable,
// resettable one-shot timers.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"go.uber.org/zap"
)

// Callback is invoked with a timer's id when it fires.
type Callback func(timerID string)

type request struct {
	id       string
	duration time.Duration
	callback Callback
}

type entry struct {
	duration time.Duration
	callback Callback
	cancel   context.CancelFunc
}

// Service manages a set of independently schedulable one-shot timers. A
// single background dispatcher serializes timer registration so that two
// concurrent callers can never race over ownership of the same timer id.
type Service struct {
	logger *logger.Logger

	mu     sync.Mutex
	timers map[string]*entry

	requests chan request
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewService constructs a Service. Call Start before use.
func NewService(log *logger.Logger) *Service {
	return &Service{
		logger:   log,
		timers:   make(map[string]*entry),
		requests: make(chan request, 64),
	}
}

// Start launches the background dispatcher.
func (s *Service) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.processRequests()
}

// Stop cancels the service: in-flight timers are cancelled and queued
// requests are discarded.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.timers {
		e.cancel()
		delete(s.timers, id)
	}
}

func (s *Service) processRequests() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.requests:
			s.startInternal(req)
		}
	}
}

func (s *Service) startInternal(req request) {
	s.mu.Lock()
	if existing, ok := s.timers[req.id]; ok {
		existing.cancel()
		delete(s.timers, req.id)
	}

	timerCtx, cancel := context.WithCancel(s.ctx)
	e := &entry{duration: req.duration, callback: req.callback, cancel: cancel}
	s.timers[req.id] = e
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(timerCtx, req.id, req.duration, req.callback)
}

func (s *Service) run(ctx context.Context, id string, duration time.Duration, callback Callback) {
	defer s.wg.Done()

	t := time.NewTimer(duration)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}

	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()

	s.invoke(id, callback)
}

// invoke runs the callback, catching and logging any panic so a single bad
// callback can never take down the dispatcher or leak a timer entry.
func (s *Service) invoke(id string, callback Callback) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("timer callback panicked", zap.String("timer_id", id), zap.Any("panic", r))
		}
	}()
	callback(id)
}

// StartTimer registers a one-shot timer. If a timer with the same id already
// exists it is cancelled and replaced. Registration is serialized through
// the dispatcher queue to prevent races where two callers believe they own
// the same id.
func (s *Service) StartTimer(id string, duration time.Duration, callback Callback) {
	select {
	case s.requests <- request{id: id, duration: duration, callback: callback}:
	case <-s.ctx.Done():
	}
}

// CancelTimer cancels a timer if present, returning whether one was removed.
func (s *Service) CancelTimer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[id]
	if !ok {
		return false
	}
	e.cancel()
	delete(s.timers, id)
	return true
}

// ResetTimer restarts a registered timer's countdown from now with its
// original duration and callback. Returns false if no such timer exists.
func (s *Service) ResetTimer(id string) bool {
	s.mu.Lock()
	e, ok := s.timers[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	duration, callback := e.duration, e.callback
	e.cancel()
	delete(s.timers, id)
	s.mu.Unlock()

	s.StartTimer(id, duration, callback)
	return true
}
