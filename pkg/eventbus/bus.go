// Copyright 2026 Praxis Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package eventbus provides in-process priority pub/sub of typed agent
// events. A single worker goroutine drains one FIFO queue per priority,
// highest priority first, so events of strictly higher priority preempt
// lower-priority work while equal priority stays strictly FIFO.
package eventbus

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/praxislabs/praxis/pkg/types"
)

// Default configuration values.
const (
	// DefaultQueueCapacity bounds the combined depth of all priority
	// queues. Urgent events are admitted past the cap rather than dropped.
	DefaultQueueCapacity = 1000

	// DefaultEventLogCapacity bounds the ring of past events kept for
	// GetEventLog.
	DefaultEventLogCapacity = 10000

	// DefaultBottleneckThreshold is the mean handler time above which an
	// event type is reported by DetectBottlenecks.
	DefaultBottleneckThreshold = 100 * time.Millisecond
)

// Handler processes one event. Handlers run on the bus worker goroutine
// and must not block indefinitely; long-running work belongs in the
// owning agent's mailbox.
type Handler func(event *types.AgentEvent)

// Deliverer receives every event an agent is subscribed to. The agent
// runtime installs one deliverer per agent type.
type Deliverer func(event *types.AgentEvent)

// HookFunc observes bus lifecycle hooks such as "event:processed".
type HookFunc func(event *types.AgentEvent)

// FailureFunc is invoked when a handler panics. agentType is the
// declaring agent, or types.AgentTypeOrchestrator for global handlers.
type FailureFunc func(agentType types.AgentType, event *types.AgentEvent, err error)

// Config configures the bus.
type Config struct {
	QueueCapacity       int
	EventLogCapacity    int
	BottleneckThreshold time.Duration
	Logger              *zap.Logger

	// OnHandlerFailure is invoked for every recovered handler panic
	// (optional). The recovery supervisor is the usual consumer.
	OnHandlerFailure FailureFunc
}

type globalHandler struct {
	id        string
	eventType string
	priority  types.Priority
	fn        Handler
}

type typeStats struct {
	count    int64
	totalDur time.Duration
}

// Bus is the priority event bus. All exported methods are safe for
// concurrent use.
type Bus struct {
	mu sync.Mutex

	// One FIFO queue per priority, indexed by types.Priority.
	queues [types.NumPriorities][]*types.AgentEvent
	queued int

	// eventType -> set of subscribed agent types.
	subscribers map[string]map[types.AgentType]struct{}

	// agentType -> deliverer installed by the agent runtime.
	deliverers map[types.AgentType]Deliverer

	// eventType -> global handlers, kept sorted by priority (urgent first).
	globals map[string][]globalHandler

	// hook name -> observers.
	hooks map[string][]HookFunc

	// Bounded ring of processed and published events.
	eventLog  []*types.AgentEvent
	logStart  int
	statsByTy map[string]*typeStats

	notify chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	cfg       Config
	onFailure FailureFunc
	logger    *zap.Logger

	seq atomic.Uint64

	totalProcessed atomic.Int64
	totalDropped   atomic.Int64
	totalDuration  atomic.Int64 // nanoseconds

	started atomic.Bool
	closed  atomic.Bool
}

// New creates a bus. Call Start to begin processing.
func New(cfg Config) *Bus {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.EventLogCapacity <= 0 {
		cfg.EventLogCapacity = DefaultEventLogCapacity
	}
	if cfg.BottleneckThreshold <= 0 {
		cfg.BottleneckThreshold = DefaultBottleneckThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Bus{
		subscribers: make(map[string]map[types.AgentType]struct{}),
		deliverers:  make(map[types.AgentType]Deliverer),
		globals:     make(map[string][]globalHandler),
		hooks:       make(map[string][]HookFunc),
		statsByTy:   make(map[string]*typeStats),
		notify:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		cfg:         cfg,
		onFailure:   cfg.OnHandlerFailure,
		logger:      cfg.Logger,
	}
}

// Start launches the worker goroutine. Idempotent.
func (b *Bus) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	go b.run()
	b.logger.Info("event bus started",
		zap.Int("queue_capacity", b.cfg.QueueCapacity))
}

// Stop waits for the currently executing handler to return, then
// discards remaining events. Idempotent.
func (b *Bus) Stop() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.stopCh)
	if b.started.Load() {
		<-b.doneCh
	}

	b.mu.Lock()
	discarded := b.queued
	for i := range b.queues {
		b.queues[i] = nil
	}
	b.queued = 0
	b.mu.Unlock()

	b.logger.Info("event bus stopped",
		zap.Int("discarded", discarded),
		zap.Int64("total_processed", b.totalProcessed.Load()),
		zap.Int64("total_dropped", b.totalDropped.Load()))
}

// Create assigns an id and timestamp to a new event.
func (b *Bus) Create(eventType string, source types.AgentType, data map[string]any, priority types.Priority) *types.AgentEvent {
	return &types.AgentEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
}

// Publish enqueues an event and returns synchronously. When the combined
// queue is at capacity, the oldest event of the lowest priority less
// than or equal to the incoming event's is dropped and counted. Urgent
// events are never dropped: they are admitted past the cap when nothing
// droppable remains.
func (b *Bus) Publish(event *types.AgentEvent) error {
	if b.closed.Load() {
		return fmt.Errorf("event bus is stopped")
	}
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if !event.Priority.Valid() {
		return fmt.Errorf("invalid priority %d", event.Priority)
	}

	event.Seq = b.seq.Add(1)

	b.mu.Lock()
	if b.queued >= b.cfg.QueueCapacity {
		if !b.dropOneLocked(event.Priority) {
			if event.Priority != types.PriorityUrgent {
				// Nothing at or below the incoming priority to evict and
				// the incoming event is itself droppable: count it and
				// reject.
				b.totalDropped.Add(1)
				b.mu.Unlock()
				b.logger.Warn("event dropped at capacity",
					zap.String("event_type", event.Type),
					zap.String("priority", event.Priority.String()))
				return nil
			}
			// Urgent overflows the cap instead of being dropped.
		}
	}
	b.queues[event.Priority] = append(b.queues[event.Priority], event)
	b.queued++
	b.appendLogLocked(event)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// dropOneLocked evicts the oldest resident event with priority <= p,
// scanning lowest priority first. Urgent residents are never evicted.
func (b *Bus) dropOneLocked(p types.Priority) bool {
	limit := p
	if limit > types.PriorityHigh {
		limit = types.PriorityHigh
	}
	for pr := types.PriorityLow; pr <= limit; pr++ {
		if len(b.queues[pr]) > 0 {
			victim := b.queues[pr][0]
			b.queues[pr] = b.queues[pr][1:]
			b.queued--
			b.totalDropped.Add(1)
			b.logger.Debug("evicted event at capacity",
				zap.String("event_type", victim.Type),
				zap.String("priority", pr.String()))
			return true
		}
	}
	return false
}

// Subscribe adds agentType to the subscriber set of each event type.
// Idempotent.
func (b *Bus) Subscribe(agentType types.AgentType, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, et := range eventTypes {
		set, ok := b.subscribers[et]
		if !ok {
			set = make(map[types.AgentType]struct{})
			b.subscribers[et] = set
		}
		set[agentType] = struct{}{}
	}
}

// Unsubscribe removes agentType from the subscriber set of each event
// type. Idempotent.
func (b *Bus) Unsubscribe(agentType types.AgentType, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, et := range eventTypes {
		if set, ok := b.subscribers[et]; ok {
			delete(set, agentType)
			if len(set) == 0 {
				delete(b.subscribers, et)
			}
		}
	}
}

// AttachDeliverer installs the delivery callback for an agent type. The
// agent runtime calls this on start so subscribed events reach the
// agent's handlers.
func (b *Bus) AttachDeliverer(agentType types.AgentType, d Deliverer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliverers[agentType] = d
}

// DetachDeliverer removes the delivery callback for an agent type.
func (b *Bus) DetachDeliverer(agentType types.AgentType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.deliverers, agentType)
}

// RegisterGlobalHandler adds a handler invoked for every event of the
// given type, ordered by priority (urgent first). Returns the handler id
// for removal.
func (b *Bus) RegisterGlobalHandler(eventType string, fn Handler, priority types.Priority) string {
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers := append(b.globals[eventType], globalHandler{
		id:        id,
		eventType: eventType,
		priority:  priority,
		fn:        fn,
	})
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].priority > handlers[j].priority
	})
	b.globals[eventType] = handlers
	return id
}

// UnregisterGlobalHandler removes a handler by id.
func (b *Bus) UnregisterGlobalHandler(eventType, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers := b.globals[eventType]
	for i, h := range handlers {
		if h.id == id {
			b.globals[eventType] = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}

// On attaches a lifecycle observer. "event:processed" fires after each
// event completes.
func (b *Bus) On(hookName string, cb HookFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[hookName] = append(b.hooks[hookName], cb)
}

// run is the worker loop: drain the highest non-empty priority queue,
// FIFO within a queue.
func (b *Bus) run() {
	defer close(b.doneCh)
	for {
		event := b.next()
		if event == nil {
			select {
			case <-b.notify:
				continue
			case <-b.stopCh:
				return
			}
		}

		select {
		case <-b.stopCh:
			return
		default:
		}

		b.process(event)
	}
}

// next pops the oldest event from the highest non-empty queue.
func (b *Bus) next() *types.AgentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pr := types.PriorityUrgent; pr >= types.PriorityLow; pr-- {
		if len(b.queues[pr]) > 0 {
			event := b.queues[pr][0]
			b.queues[pr] = b.queues[pr][1:]
			b.queued--
			return event
		}
	}
	return nil
}

// process dispatches one event to subscribed deliverers and global
// handlers, then fires the event:processed hook.
func (b *Bus) process(event *types.AgentEvent) {
	start := time.Now()

	b.mu.Lock()
	var targets []struct {
		agentType types.AgentType
		deliver   Deliverer
	}
	for at := range b.subscribers[event.Type] {
		if d, ok := b.deliverers[at]; ok {
			targets = append(targets, struct {
				agentType types.AgentType
				deliver   Deliverer
			}{at, d})
		}
	}
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].agentType < targets[j].agentType
	})
	globals := append([]globalHandler(nil), b.globals[event.Type]...)
	hooks := append([]HookFunc(nil), b.hooks[types.EventProcessed]...)
	b.mu.Unlock()

	for _, gh := range globals {
		b.invoke(types.AgentTypeOrchestrator, event, gh.fn)
	}
	for _, t := range targets {
		b.invoke(t.agentType, event, Handler(t.deliver))
	}

	elapsed := time.Since(start)
	b.totalProcessed.Add(1)
	b.totalDuration.Add(int64(elapsed))

	b.mu.Lock()
	st, ok := b.statsByTy[event.Type]
	if !ok {
		st = &typeStats{}
		b.statsByTy[event.Type] = st
	}
	st.count++
	st.totalDur += elapsed
	b.mu.Unlock()

	for _, hook := range hooks {
		b.invoke(types.AgentTypeOrchestrator, event, Handler(hook))
	}
}

// invoke runs one handler with panic isolation. A panicking handler is
// logged, counted as a failure on its declaring agent, and does not stop
// the bus or later handlers for the same event.
func (b *Bus) invoke(agentType types.AgentType, event *types.AgentEvent, fn Handler) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			b.logger.Error("event handler panicked",
				zap.String("event_type", event.Type),
				zap.String("agent_type", string(agentType)),
				zap.Error(err))
			if b.onFailure != nil {
				b.onFailure(agentType, event, err)
			}
		}
	}()
	fn(event)
}

// appendLogLocked records an event in the bounded ring.
func (b *Bus) appendLogLocked(event *types.AgentEvent) {
	if len(b.eventLog) < b.cfg.EventLogCapacity {
		b.eventLog = append(b.eventLog, event)
		return
	}
	b.eventLog[b.logStart] = event
	b.logStart = (b.logStart + 1) % b.cfg.EventLogCapacity
}
