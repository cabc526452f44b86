// Package events implements a publish/subscribe bus carrying
// scanner/execution/risk/coordination events between components without a
// shared lock, adapted from the teacher's internal/events/event_bus.go.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/pkg/types"
)

// EventType is the closed set of event kinds flowing across the bus.
type EventType string

const (
	EventOpportunityDiscovered EventType = "opportunity_discovered"
	EventScanCompleted         EventType = "scan_completed"
	EventExecutionStarted      EventType = "execution_started"
	EventExecutionCompleted    EventType = "execution_completed"
	EventRiskViolation         EventType = "risk_violation"
	EventEmergencyStop         EventType = "emergency_stop"
	EventCoordinationAction    EventType = "coordination_action"
	EventStrategyStatusChanged EventType = "strategy_status_changed"
)

// Event is the interface every concrete event payload satisfies.
type Event interface {
	Type() EventType
	Timestamp() types.UnixNano
	ID() string
}

// BaseEvent carries the fields common to every concrete event.
type BaseEvent struct {
	EventID   string
	EventType EventType
	EventTs   types.UnixNano
}

func (b BaseEvent) Type() EventType           { return b.EventType }
func (b BaseEvent) Timestamp() types.UnixNano { return b.EventTs }
func (b BaseEvent) ID() string                { return b.EventID }

func newBaseEvent(t EventType) BaseEvent {
	return BaseEvent{EventID: uuid.NewString(), EventType: t, EventTs: types.Now()}
}

// OpportunityDiscoveredEvent fires when the scanner's cache gains or
// refreshes an opportunity.
type OpportunityDiscoveredEvent struct {
	BaseEvent
	Opportunity types.Opportunity
}

// NewOpportunityDiscoveredEvent builds an OpportunityDiscoveredEvent.
func NewOpportunityDiscoveredEvent(o types.Opportunity) OpportunityDiscoveredEvent {
	return OpportunityDiscoveredEvent{BaseEvent: newBaseEvent(EventOpportunityDiscovered), Opportunity: o}
}

// ScanCompletedEvent fires once per Scanner.scan() call.
type ScanCompletedEvent struct {
	BaseEvent
	FoundCount  int
	FailedKinds []string
}

// NewScanCompletedEvent builds a ScanCompletedEvent.
func NewScanCompletedEvent(found int, failedKinds []string) ScanCompletedEvent {
	return ScanCompletedEvent{BaseEvent: newBaseEvent(EventScanCompleted), FoundCount: found, FailedKinds: failedKinds}
}

// ExecutionStartedEvent fires when the execution engine begins a plan.
type ExecutionStartedEvent struct {
	BaseEvent
	StrategyID    string
	OpportunityID string
}

// NewExecutionStartedEvent builds an ExecutionStartedEvent.
func NewExecutionStartedEvent(strategyID, opportunityID string) ExecutionStartedEvent {
	return ExecutionStartedEvent{BaseEvent: newBaseEvent(EventExecutionStarted), StrategyID: strategyID, OpportunityID: opportunityID}
}

// ExecutionCompletedEvent fires with the terminal ExecutionResult.
type ExecutionCompletedEvent struct {
	BaseEvent
	Result types.ExecutionResult
}

// NewExecutionCompletedEvent builds an ExecutionCompletedEvent.
func NewExecutionCompletedEvent(r types.ExecutionResult) ExecutionCompletedEvent {
	return ExecutionCompletedEvent{BaseEvent: newBaseEvent(EventExecutionCompleted), Result: r}
}

// RiskViolationEvent fires when a pre- or post-execution risk gate rejects.
type RiskViolationEvent struct {
	BaseEvent
	StrategyID string
	Reason     string
	Severity   string
}

// NewRiskViolationEvent builds a RiskViolationEvent.
func NewRiskViolationEvent(strategyID, reason, severity string) RiskViolationEvent {
	return RiskViolationEvent{BaseEvent: newBaseEvent(EventRiskViolation), StrategyID: strategyID, Reason: reason, Severity: severity}
}

// EmergencyStopEvent fires when the Risk Manager force-pauses a strategy.
type EmergencyStopEvent struct {
	BaseEvent
	StrategyID string
	Reason     string
}

// NewEmergencyStopEvent builds an EmergencyStopEvent.
func NewEmergencyStopEvent(strategyID, reason string) EmergencyStopEvent {
	return EmergencyStopEvent{BaseEvent: newBaseEvent(EventEmergencyStop), StrategyID: strategyID, Reason: reason}
}

// CoordinationActionEvent fires once per applied Coordination Engine diff.
type CoordinationActionEvent struct {
	BaseEvent
	UserID     string
	ActionKind string
	Detail     string
}

// NewCoordinationActionEvent builds a CoordinationActionEvent.
func NewCoordinationActionEvent(userID, kind, detail string) CoordinationActionEvent {
	return CoordinationActionEvent{BaseEvent: newBaseEvent(EventCoordinationAction), UserID: userID, ActionKind: kind, Detail: detail}
}

// StrategyStatusChangedEvent fires on every lifecycle transition.
type StrategyStatusChangedEvent struct {
	BaseEvent
	StrategyID string
	From       types.StrategyStatus
	To         types.StrategyStatus
}

// NewStrategyStatusChangedEvent builds a StrategyStatusChangedEvent.
func NewStrategyStatusChangedEvent(strategyID string, from, to types.StrategyStatus) StrategyStatusChangedEvent {
	return StrategyStatusChangedEvent{BaseEvent: newBaseEvent(EventStrategyStatusChanged), StrategyID: strategyID, From: from, To: to}
}

// Handler processes one delivered event.
type Handler func(Event)

// SubscriptionOptions configures a subscription's delivery buffer.
type SubscriptionOptions struct {
	BufferSize int
}

// Subscription is a live registration returned by Subscribe.
type Subscription struct {
	id      string
	types   map[EventType]bool
	all     bool
	handler Handler
	ch      chan Event
	bus     *EventBus
}

// Unsubscribe removes this subscription from the bus.
func (s *Subscription) Unsubscribe() {
	s.bus.Unsubscribe(s.id)
}

// Config tunes the event bus's worker pool and subscription buffering.
type Config struct {
	Workers           int
	DefaultBufferSize int
}

// DefaultConfig returns sane bus defaults.
func DefaultConfig() Config {
	return Config{Workers: 4, DefaultBufferSize: 256}
}

// Stats is a point-in-time snapshot of bus activity.
type Stats struct {
	Published           uint64
	Delivered           uint64
	Dropped             uint64
	ActiveSubscriptions int
}

// EventBus fans published events out to every matching subscription.
type EventBus struct {
	logger *zap.Logger
	config Config

	mu            sync.RWMutex
	subscriptions map[string]*Subscription

	queue chan Event

	published uint64
	delivered uint64
	dropped   uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEventBus builds a bus with the given config. Call Start before
// publishing.
func NewEventBus(logger *zap.Logger, config Config) *EventBus {
	return &EventBus{
		logger:        logger.Named("event-bus"),
		config:        config,
		subscriptions: make(map[string]*Subscription),
		queue:         make(chan Event, 4096),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the bus's worker pool.
func (b *EventBus) Start() {
	for i := 0; i < b.config.Workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	b.logger.Info("event bus started", zap.Int("workers", b.config.Workers))
}

func (b *EventBus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case ev := <-b.queue:
			b.deliver(ev)
		}
	}
}

func (b *EventBus) deliver(ev Event) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if sub.all || sub.types[ev.Type()] {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if sub.handler != nil {
			sub.handler(ev)
			atomic.AddUint64(&b.delivered, 1)
			continue
		}
		select {
		case sub.ch <- ev:
			atomic.AddUint64(&b.delivered, 1)
		default:
			atomic.AddUint64(&b.dropped, 1)
			b.logger.Warn("subscription channel full, dropping event", zap.String("subscription_id", sub.id), zap.String("event_type", string(ev.Type())))
		}
	}
}

// Subscribe registers handler for a single event type.
func (b *EventBus) Subscribe(t EventType, handler Handler) *Subscription {
	return b.subscribe(map[EventType]bool{t: true}, false, handler, nil)
}

// SubscribeMultiple registers handler for several event types.
func (b *EventBus) SubscribeMultiple(evTypes []EventType, handler Handler) *Subscription {
	set := make(map[EventType]bool, len(evTypes))
	for _, t := range evTypes {
		set[t] = true
	}
	return b.subscribe(set, false, handler, nil)
}

// SubscribeAll registers handler for every event type.
func (b *EventBus) SubscribeAll(handler Handler) *Subscription {
	return b.subscribe(nil, true, handler, nil)
}

// SubscribeChan registers a channel-based subscription instead of a
// callback, for consumers that prefer to pull.
func (b *EventBus) SubscribeChan(t EventType, opts SubscriptionOptions) (*Subscription, <-chan Event) {
	bufSize := opts.BufferSize
	if bufSize == 0 {
		bufSize = b.config.DefaultBufferSize
	}
	ch := make(chan Event, bufSize)
	sub := b.subscribe(map[EventType]bool{t: true}, false, nil, ch)
	return sub, ch
}

func (b *EventBus) subscribe(evTypes map[EventType]bool, all bool, handler Handler, ch chan Event) *Subscription {
	sub := &Subscription{id: uuid.NewString(), types: evTypes, all: all, handler: handler, ch: ch, bus: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription by id.
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, id)
}

// Publish enqueues ev for asynchronous delivery. Non-blocking; if the
// internal queue is full the event is dropped and counted.
func (b *EventBus) Publish(ev Event) {
	atomic.AddUint64(&b.published, 1)
	select {
	case b.queue <- ev:
	default:
		atomic.AddUint64(&b.dropped, 1)
		b.logger.Warn("event queue full, dropping event", zap.String("event_type", string(ev.Type())))
	}
}

// PublishSync delivers ev to every matching subscription synchronously on
// the calling goroutine, bypassing the worker queue, for events whose
// ordering relative to the caller's next action matters. The engine's own
// components, the Risk Manager's emergency stop included, publish through
// Publish.
func (b *EventBus) PublishSync(ev Event) {
	atomic.AddUint64(&b.published, 1)
	b.deliver(ev)
}

// Stats returns a snapshot of bus activity counters.
func (b *EventBus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Published:           atomic.LoadUint64(&b.published),
		Delivered:           atomic.LoadUint64(&b.delivered),
		Dropped:             atomic.LoadUint64(&b.dropped),
		ActiveSubscriptions: len(b.subscriptions),
	}
}

// Stop shuts the worker pool down, waiting up to timeout for in-flight
// delivery to drain.
func (b *EventBus) Stop(timeout time.Duration) {
	close(b.stopCh)
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		b.logger.Warn("event bus stop timed out waiting for workers")
	}
}
