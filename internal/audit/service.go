package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"github.com/marchese29/HubitatRulesMCP/internal/eventbus"
)

// AuditSubject is the bus subject audit records are republished on for live
// subscribers (the websocket audit stream), independent of persistence.
const AuditSubject = "audit.event"

// Store persists audit records. Implementations live in internal/store.
type Store interface {
	InsertAuditLog(ctx context.Context, log *Log) error
}

// Option sets an optional field on a Log record being built by LogEvent.
type Option func(*Log)

func WithRuleName(name string) Option       { return func(l *Log) { l.RuleName = &name } }
func WithSceneName(name string) Option      { return func(l *Log) { l.SceneName = &name } }
func WithConditionID(id string) Option      { return func(l *Log) { l.ConditionID = &id } }
func WithDeviceID(id int) Option            { return func(l *Log) { l.DeviceID = &id } }
func WithSuccess(ok bool) Option            { return func(l *Log) { l.Success = &ok } }
func WithError(msg string) Option           { return func(l *Log) { l.ErrorMessage = &msg } }
func WithExecutionTime(d time.Duration) Option {
	return func(l *Log) {
		ms := d.Milliseconds()
		l.ExecutionTimeMs = &ms
	}
}
func WithContextData(json string) Option { return func(l *Log) { l.ContextData = &json } }

// Service is a constructed-once audit sink, handed to the components that
// need to record events rather than reached through a package-level
// singleton. LogEvent never blocks the caller: under backpressure, events
// are silently dropped and a warning is logged.
type Service struct {
	store  Store
	logger *logger.Logger
	bus    eventbus.Bus

	queue chan *Log

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// SetBus attaches an event bus that persisted records are republished on
// under AuditSubject, for live subscribers. Optional; nil (the default)
// disables republishing.
func (s *Service) SetBus(bus eventbus.Bus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bus = bus
}

// NewService constructs a Service backed by store, with a queue of the
// given depth. Call Start before use.
func NewService(store Store, queueSize int, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		logger: log,
		queue:  make(chan *Log, queueSize),
	}
}

// Start launches the background writer.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.started = true
	s.wg.Add(1)
	go s.writeLoop(ctx)
}

// Stop stops the writer after it persists the events already queued at that
// moment; it does not wait for events logged afterwards.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Service) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case entry := <-s.queue:
			s.persist(entry)
		}
	}
}

func (s *Service) drain() {
	for {
		select {
		case entry := <-s.queue:
			s.persist(entry)
		default:
			return
		}
	}
}

func (s *Service) persist(entry *Log) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.InsertAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("event_subtype", string(entry.EventSubtype)), zap.Error(err))
	}

	s.mu.Lock()
	bus := s.bus
	s.mu.Unlock()
	if bus == nil {
		return
	}
	data := map[string]any{
		"id":            entry.ID,
		"event_type":    string(entry.EventType),
		"event_subtype": string(entry.EventSubtype),
	}
	if entry.RuleName != nil {
		data["rule_name"] = *entry.RuleName
	}
	if entry.SceneName != nil {
		data["scene_name"] = *entry.SceneName
	}
	if err := bus.Publish(ctx, AuditSubject, eventbus.NewEvent(string(entry.EventSubtype), "audit", data)); err != nil {
		s.logger.Warn("failed to republish audit event", zap.Error(err))
	}
}

// LogEvent enqueues an audit record. It never blocks: if the queue is full
// the event is dropped and a warning is logged, matching the contract that
// audit sink backpressure never affects rule execution.
func (s *Service) LogEvent(eventType EventType, subtype EventSubtype, opts ...Option) {
	entry := &Log{
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		EventType:    eventType,
		EventSubtype: subtype,
	}
	for _, opt := range opts {
		opt(entry)
	}

	select {
	case s.queue <- entry:
	default:
		s.logger.Warn("audit queue full, dropping event",
			zap.String("event_type", string(eventType)),
			zap.String("event_subtype", string(subtype)))
	}
}
