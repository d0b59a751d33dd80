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
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/praxislabs/praxis/pkg/eventbus"
	"github.com/praxislabs/praxis/pkg/types"
)

// Default runner configuration values.
const (
	// DefaultStopGrace bounds mailbox draining during Stop.
	DefaultStopGrace = 10 * time.Second

	// DefaultDeliverWait bounds the synchronous wait inside Deliver
	// before the caller gets a queued response instead.
	DefaultDeliverWait = 30 * time.Second

	// DefaultResponseBuffer sizes the asynchronous outcome channel.
	DefaultResponseBuffer = 64

	// unhealthyAfter is the consecutive-failure count at which the
	// health surface stops reporting healthy.
	unhealthyAfter = 3
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Bus         *eventbus.Bus
	Logger      *zap.Logger
	OnFailure   FailureSignal
	StopGrace   time.Duration
	DeliverWait time.Duration
}

type eventHandler struct {
	id        string
	eventType string
	priority  types.Priority
	fn        func(event *types.AgentEvent)
}

// envelope pairs a mailbox message with its reply channel. sync starts
// true for deliveries whose caller waits; the side that flips it to
// false claims the handoff, so a caller giving up and the worker
// finishing can never both assume the other took the outcome.
type envelope struct {
	msg   *types.AgentMessage
	reply chan *types.AgentResponse
	sync  atomic.Bool
}

// Runner wraps an Agent with lifecycle management and a serialized
// mailbox: at most one message is in flight per agent at any time, and
// messages are processed strictly FIFO.
type Runner struct {
	agent     Agent
	bus       *eventbus.Bus
	logger    *zap.Logger
	onFailure FailureSignal

	stopGrace   time.Duration
	deliverWait time.Duration

	state atomic.Int32

	mu        sync.Mutex
	mailbox   []*envelope
	notify    chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	handlers  []eventHandler
	startedAt time.Time

	processing atomic.Bool

	consecutiveFailures atomic.Int32
	totalFailures       atomic.Int64
	lastFailureMu       sync.Mutex
	lastFailure         time.Time

	// responses carries outcomes of queued deliveries, correlated by
	// message id.
	responses chan *types.AgentResponse
}

// NewRunner wraps a domain agent.
func NewRunner(a Agent, cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.DeliverWait <= 0 {
		cfg.DeliverWait = DefaultDeliverWait
	}

	return &Runner{
		agent:       a,
		bus:         cfg.Bus,
		logger:      cfg.Logger.With(zap.String("agent_type", string(a.Type()))),
		onFailure:   cfg.OnFailure,
		stopGrace:   cfg.StopGrace,
		deliverWait: cfg.DeliverWait,
		responses:   make(chan *types.AgentResponse, DefaultResponseBuffer),
	}
}

// Type returns the wrapped agent's role.
func (r *Runner) Type() types.AgentType {
	return r.agent.Type()
}

// Agent returns the wrapped agent.
func (r *Runner) Agent() Agent {
	return r.agent
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Responses returns the channel carrying outcomes of queued deliveries.
// Callers correlate by AgentResponse.MessageID.
func (r *Runner) Responses() <-chan *types.AgentResponse {
	return r.responses
}

// Start initializes the agent and launches the mailbox worker. Fails
// with ErrAlreadyActive when the runner is not inactive.
func (r *Runner) Start(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateInactive), int32(StateStarting)) {
		return fmt.Errorf("%w: state %s", ErrAlreadyActive, r.State())
	}

	if err := r.safeInitialize(ctx); err != nil {
		r.state.Store(int32(StateInactive))
		return fmt.Errorf("agent %s initialize: %w", r.agent.Type(), err)
	}

	r.mu.Lock()
	r.notify = make(chan struct{}, 1)
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.startedAt = time.Now()
	subscribed := make(map[string]struct{}, len(r.handlers))
	for _, h := range r.handlers {
		subscribed[h.eventType] = struct{}{}
	}
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.AttachDeliverer(r.agent.Type(), r.HandleEvent)
		for et := range subscribed {
			r.bus.Subscribe(r.agent.Type(), et)
		}
	}

	go r.work()
	r.state.Store(int32(StateActive))

	r.logger.Info("agent started")
	r.EmitEvent(types.EventAgentStarted, map[string]any{"agent_type": string(r.agent.Type())}, types.PriorityMedium)
	return nil
}

// Stop drains the mailbox up to the grace deadline, then calls the
// agent's Shutdown. Remaining messages past the deadline are discarded
// with failed responses.
func (r *Runner) Stop(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateActive), int32(StateStopping)) {
		return fmt.Errorf("%w: state %s", ErrNotActive, r.State())
	}

	r.mu.Lock()
	stopCh := r.stopCh
	doneCh := r.doneCh
	r.mu.Unlock()
	close(stopCh)

	grace := time.NewTimer(r.stopGrace)
	defer grace.Stop()
	select {
	case <-doneCh:
	case <-ctx.Done():
		r.discardMailbox()
		<-doneCh
	case <-grace.C:
		r.discardMailbox()
		<-doneCh
	}

	if r.bus != nil {
		r.bus.DetachDeliverer(r.agent.Type())
	}

	err := r.safeShutdown(ctx)

	r.state.Store(int32(StateInactive))
	r.logger.Info("agent stopped")
	r.EmitEvent(types.EventAgentStopped, map[string]any{"agent_type": string(r.agent.Type())}, types.PriorityMedium)

	if err != nil {
		return fmt.Errorf("agent %s shutdown: %w", r.agent.Type(), err)
	}
	return nil
}

// Deliver submits a message to the mailbox. If the runner is inactive
// the message is rejected without enqueueing. If the mailbox is idle the
// message is processed immediately and its real response returned. If a
// message is already in flight, Deliver returns a queued
// acknowledgement and the eventual outcome is published on Responses,
// correlated by message id.
func (r *Runner) Deliver(msg *types.AgentMessage) *types.AgentResponse {
	if r.State() != StateActive {
		return &types.AgentResponse{
			MessageID: msg.ID,
			Success:   false,
			Error:     ErrNotActive.Error(),
		}
	}

	e := &envelope{msg: msg, reply: make(chan *types.AgentResponse, 1)}
	e.sync.Store(true)

	r.mu.Lock()
	busy := r.processing.Load() || len(r.mailbox) > 0
	if busy {
		e.sync.Store(false)
	}
	r.mailbox = append(r.mailbox, e)
	notify := r.notify
	r.mu.Unlock()

	select {
	case notify <- struct{}{}:
	default:
	}

	if !busy {
		wait := time.NewTimer(r.deliverWait)
		defer wait.Stop()
		select {
		case resp := <-e.reply:
			return resp
		case <-wait.C:
			if !e.sync.CompareAndSwap(true, false) {
				// The worker committed to synchronous delivery while
				// the timer fired; the real response is buffered.
				return <-e.reply
			}
		}
	}

	return &types.AgentResponse{
		MessageID: msg.ID,
		Success:   true,
		Data:      map[string]any{"status": "queued"},
	}
}

// Request delivers a message and waits for its response until the
// context deadline. On expiry the eventual outcome is routed to the
// Responses channel and ctx.Err() is returned. An inactive runner
// yields a failed response, not an error.
func (r *Runner) Request(ctx context.Context, msg *types.AgentMessage) (*types.AgentResponse, error) {
	if r.State() != StateActive {
		return &types.AgentResponse{
			MessageID: msg.ID,
			Success:   false,
			Error:     ErrNotActive.Error(),
		}, nil
	}

	e := &envelope{msg: msg, reply: make(chan *types.AgentResponse, 1)}
	e.sync.Store(true)

	r.mu.Lock()
	r.mailbox = append(r.mailbox, e)
	notify := r.notify
	r.mu.Unlock()

	select {
	case notify <- struct{}{}:
	default:
	}

	select {
	case resp := <-e.reply:
		return resp, nil
	case <-ctx.Done():
		if !e.sync.CompareAndSwap(true, false) {
			// The worker already committed to synchronous delivery;
			// reroute the buffered response to the back-channel.
			r.queueOutcome(<-e.reply)
		}
		return nil, ctx.Err()
	}
}

// MailboxDepth returns the number of messages waiting (excludes the one
// in flight).
func (r *Runner) MailboxDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mailbox)
}

// OnEvent registers a handler for a named event type. Handlers run in
// priority order (urgent first) when the bus delivers a matching event.
func (r *Runner) OnEvent(eventType string, fn func(event *types.AgentEvent), priority types.Priority) {
	r.mu.Lock()
	r.handlers = append(r.handlers, eventHandler{
		id:        uuid.NewString(),
		eventType: eventType,
		priority:  priority,
		fn:        fn,
	})
	sort.SliceStable(r.handlers, func(i, j int) bool {
		return r.handlers[i].priority > r.handlers[j].priority
	})
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Subscribe(r.agent.Type(), eventType)
	}
}

// HandleEvent runs this agent's handlers for one event, sorted by
// priority. A panicking handler is counted as a failure and does not
// prevent later handlers.
func (r *Runner) HandleEvent(event *types.AgentEvent) {
	r.mu.Lock()
	matching := make([]eventHandler, 0, len(r.handlers))
	for _, h := range r.handlers {
		if h.eventType == event.Type {
			matching = append(matching, h)
		}
	}
	r.mu.Unlock()

	for _, h := range matching {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("event handler panic: %v", rec)
					r.logger.Error("event handler panicked",
						zap.String("event_type", event.Type),
						zap.Error(err))
					r.recordFailure(err, map[string]any{
						"event_id":   event.ID,
						"event_type": event.Type,
					})
				}
			}()
			h.fn(event)
		}()
	}
}

// EmitEvent constructs and publishes an event on the agent's behalf.
func (r *Runner) EmitEvent(eventType string, data map[string]any, priority types.Priority) {
	if r.bus == nil {
		return
	}
	event := r.bus.Create(eventType, r.agent.Type(), data, priority)
	if err := r.bus.Publish(event); err != nil {
		r.logger.Warn("failed to publish event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

// Health returns a point-in-time health snapshot.
func (r *Runner) Health() *types.AgentHealth {
	r.mu.Lock()
	depth := len(r.mailbox)
	handlerCount := len(r.handlers)
	startedAt := r.startedAt
	r.mu.Unlock()

	r.lastFailureMu.Lock()
	lastFailure := r.lastFailure
	r.lastFailureMu.Unlock()

	consecutive := int(r.consecutiveFailures.Load())
	active := r.State() == StateActive

	return &types.AgentHealth{
		AgentType:           r.agent.Type(),
		Healthy:             active && consecutive < unhealthyAfter,
		Active:              active,
		Processing:          r.processing.Load(),
		MailboxDepth:        depth,
		HandlerCount:        handlerCount,
		ConsecutiveFailures: consecutive,
		TotalFailures:       r.totalFailures.Load(),
		LastFailure:         lastFailure,
		UptimeSince:         startedAt,
	}
}

// work is the mailbox worker loop. After stop is signalled it drains
// whatever remains (unless the grace deadline discards it first) and
// exits.
func (r *Runner) work() {
	r.mu.Lock()
	notify := r.notify
	stopCh := r.stopCh
	doneCh := r.doneCh
	r.mu.Unlock()
	defer close(doneCh)

	for {
		if e := r.dequeue(); e != nil {
			r.handle(e)
			continue
		}
		select {
		case <-notify:
		case <-stopCh:
			for {
				e := r.dequeue()
				if e == nil {
					return
				}
				r.handle(e)
			}
		}
	}
}

func (r *Runner) dequeue() *envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.mailbox) == 0 {
		return nil
	}
	e := r.mailbox[0]
	r.mailbox = r.mailbox[1:]
	return e
}

func (r *Runner) handle(e *envelope) {
	r.processing.Store(true)
	resp := r.invoke(e.msg)
	r.processing.Store(false)

	// The reply lands in the buffer before the claim so an abandoning
	// caller that loses the claim can always drain it. Whoever flips
	// sync owns delivery: the worker winning means a caller is waiting
	// on the reply; losing means the caller gave up and the outcome
	// goes to the responses channel instead.
	e.reply <- resp
	if !e.sync.CompareAndSwap(true, false) {
		r.queueOutcome(resp)
	}
}

// queueOutcome publishes an asynchronous outcome on the responses
// channel, dropping it when the channel is full.
func (r *Runner) queueOutcome(resp *types.AgentResponse) {
	select {
	case r.responses <- resp:
	default:
		r.logger.Warn("response channel full, dropping queued outcome",
			zap.String("message_id", resp.MessageID))
	}
}

// invoke runs ProcessMessage with panic recovery, converting failures
// into unsuccessful responses. Errors never propagate past the runtime
// boundary.
func (r *Runner) invoke(msg *types.AgentMessage) *types.AgentResponse {
	var resp *types.AgentResponse
	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("process panic: %v", rec)
			}
		}()
		resp, err = r.agent.ProcessMessage(context.Background(), msg)
	}()

	if err != nil {
		r.recordFailure(err, map[string]any{
			"message_id":   msg.ID,
			"message_kind": string(msg.Kind),
		})
		return &types.AgentResponse{
			MessageID: msg.ID,
			Success:   false,
			Error:     err.Error(),
		}
	}

	if resp == nil {
		resp = &types.AgentResponse{Success: true}
	}
	if resp.MessageID == "" {
		resp.MessageID = msg.ID
	}

	if resp.Success {
		r.consecutiveFailures.Store(0)
	} else {
		failure := errors.New(resp.Error)
		if resp.Error == "" {
			failure = errors.New("agent reported failure")
		}
		r.recordFailure(failure, map[string]any{
			"message_id":   msg.ID,
			"message_kind": string(msg.Kind),
		})
	}
	return resp
}

func (r *Runner) recordFailure(err error, failureContext map[string]any) {
	r.consecutiveFailures.Add(1)
	r.totalFailures.Add(1)
	r.lastFailureMu.Lock()
	r.lastFailure = time.Now()
	r.lastFailureMu.Unlock()

	r.logger.Warn("agent failure",
		zap.Error(err),
		zap.Int32("consecutive_failures", r.consecutiveFailures.Load()))

	r.EmitEvent(types.EventAgentFailure, map[string]any{
		"agent_type": string(r.agent.Type()),
		"error":      err.Error(),
	}, types.PriorityHigh)

	if r.onFailure != nil {
		go r.onFailure(r.agent.Type(), err, failureContext)
	}
}

// discardMailbox fails every waiting message past the stop grace
// deadline.
func (r *Runner) discardMailbox() {
	r.mu.Lock()
	discarded := r.mailbox
	r.mailbox = nil
	r.mu.Unlock()

	for _, e := range discarded {
		resp := &types.AgentResponse{
			MessageID: e.msg.ID,
			Success:   false,
			Error:     "agent stopping: mailbox discarded",
		}
		e.reply <- resp
		if !e.sync.CompareAndSwap(true, false) {
			r.queueOutcome(resp)
		}
	}
	if len(discarded) > 0 {
		r.logger.Warn("discarded mailbox on stop",
			zap.Int("count", len(discarded)))
	}
}

func (r *Runner) safeInitialize(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("initialize panic: %v", rec)
		}
	}()
	return r.agent.Initialize(ctx)
}

func (r *Runner) safeShutdown(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("shutdown panic: %v", rec)
		}
	}()
	return r.agent.Shutdown(ctx)
}
