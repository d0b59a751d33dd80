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

// Package recovery watches agent failures, restarts failed agents with
// exponential backoff, and activates deterministic fallbacks once the
// restart budget is exhausted.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/praxislabs/praxis/pkg/agent"
	"github.com/praxislabs/praxis/pkg/eventbus"
	"github.com/praxislabs/praxis/pkg/types"
)

// Default supervisor configuration values.
const (
	// DefaultMaxRestartAttempts bounds consecutive restart attempts
	// before the fallback activates.
	DefaultMaxRestartAttempts = 3

	// DefaultRestartDelay is the initial backoff before the first
	// restart attempt. Subsequent attempts double it.
	DefaultRestartDelay = 5 * time.Second

	// DefaultAlertThreshold is the consecutive-failure count that
	// raises a degradation alert.
	DefaultAlertThreshold = 5

	// DefaultFailureLogCapacity bounds the in-memory failure ring.
	DefaultFailureLogCapacity = 1000

	// DefaultHealthCheckInterval paces the periodic health sweep.
	DefaultHealthCheckInterval = 30 * time.Second
)

// ErrUnknownAgent is returned for agent types never registered with the
// supervisor.
var ErrUnknownAgent = errors.New("agent not registered with supervisor")

// Restartable is the slice of the agent runtime the supervisor drives.
// *agent.Runner satisfies it.
type Restartable interface {
	Type() types.AgentType
	State() agent.State
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() *types.AgentHealth
}

// FailureRecord is one archived agent failure.
type FailureRecord struct {
	ID             string
	AgentType      types.AgentType
	Error          string
	Context        map[string]any
	OccurredAt     time.Time
	RestartAttempt int
	FallbackActive bool
}

// Archive persists failure records beyond the in-memory ring. Optional.
type Archive interface {
	RecordFailure(ctx context.Context, rec *FailureRecord) error
	RecentFailures(ctx context.Context, agentType types.AgentType, limit int) ([]*FailureRecord, error)
}

// Config configures the Supervisor.
type Config struct {
	Bus    *eventbus.Bus
	Logger *zap.Logger

	// Archive persists failures durably (optional).
	Archive Archive

	// Responders overrides the built-in fallbacks per agent type.
	// Unset types use DefaultResponders.
	Responders map[types.AgentType]Responder

	MaxRestartAttempts  int
	RestartDelay        time.Duration
	AlertThreshold      int
	FailureLogCapacity  int
	HealthCheckInterval time.Duration
}

// agentRecord tracks one supervised agent. Its mutex serializes
// recovery handling for that agent, so concurrent failure signals never
// race restarts.
type agentRecord struct {
	mu sync.Mutex

	runner  Restartable
	backoff *backoff.ExponentialBackOff

	restartAttempts     int
	consecutiveFailures int
	totalFailures       int64
	lastFailure         time.Time

	fallbackActive bool
	alerted        bool
}

// SystemHealth summarizes the health of every supervised agent.
type SystemHealth struct {
	Healthy         bool
	Agents          map[types.AgentType]*types.AgentHealth
	ActiveFallbacks []types.AgentType
	TotalFailures   int64
}

// Supervisor owns failure handling for all registered agents. All
// exported methods are safe for concurrent use.
type Supervisor struct {
	mu      sync.Mutex
	records map[types.AgentType]*agentRecord

	failureMu  sync.Mutex
	failureLog []*FailureRecord
	logStart   int

	responders map[types.AgentType]Responder

	bus     *eventbus.Bus
	archive Archive
	logger  *zap.Logger
	cfg     Config

	totalFailures atomic.Int64

	stopCh  chan struct{}
	doneCh  chan struct{}
	started atomic.Bool
	closed  atomic.Bool
}

// New creates a supervisor. Call Start to begin periodic health checks;
// failure handling works immediately.
func New(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxRestartAttempts <= 0 {
		cfg.MaxRestartAttempts = DefaultMaxRestartAttempts
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = DefaultAlertThreshold
	}
	if cfg.FailureLogCapacity <= 0 {
		cfg.FailureLogCapacity = DefaultFailureLogCapacity
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}

	responders := DefaultResponders()
	for at, r := range cfg.Responders {
		responders[at] = r
	}

	return &Supervisor{
		records:    make(map[types.AgentType]*agentRecord),
		responders: responders,
		bus:        cfg.Bus,
		archive:    cfg.Archive,
		logger:     cfg.Logger,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Register places a runner under supervision.
func (s *Supervisor) Register(r Restartable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Type()] = &agentRecord{
		runner:  r,
		backoff: s.newBackoff(),
	}
}

func (s *Supervisor) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RestartDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = s.cfg.RestartDelay * 8
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Start launches the periodic health sweep. Idempotent.
func (s *Supervisor) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.healthLoop()
	s.logger.Info("recovery supervisor started",
		zap.Int("max_restart_attempts", s.cfg.MaxRestartAttempts),
		zap.Duration("restart_delay", s.cfg.RestartDelay))
}

// Stop halts the health sweep and any in-flight restart waits.
// Idempotent.
func (s *Supervisor) Stop() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.stopCh)
	if s.started.Load() {
		<-s.doneCh
	}
	s.logger.Info("recovery supervisor stopped",
		zap.Int64("total_failures", s.totalFailures.Load()))
}

// HandleFailure processes one agent failure: archive it, raise
// agent:critical at the alert threshold, then attempt a single restart
// after the backoff delay. Once the restart budget is spent the
// fallback activates and agent:degraded is emitted. Returns true when
// the agent recovered or degraded gracefully to its fallback, false
// otherwise.
func (s *Supervisor) HandleFailure(agentType types.AgentType, failure error, failureContext map[string]any) bool {
	rec := s.record(agentType)
	if rec == nil {
		s.logger.Warn("failure from unsupervised agent",
			zap.String("agent_type", string(agentType)),
			zap.Error(failure))
		return false
	}

	// One recovery at a time per agent.
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.consecutiveFailures++
	rec.totalFailures++
	rec.lastFailure = time.Now()
	s.totalFailures.Add(1)

	s.archiveFailure(&FailureRecord{
		ID:             uuid.NewString(),
		AgentType:      agentType,
		Error:          failure.Error(),
		Context:        failureContext,
		OccurredAt:     rec.lastFailure,
		RestartAttempt: rec.restartAttempts,
		FallbackActive: rec.fallbackActive,
	})

	s.logger.Warn("agent failure",
		zap.String("agent_type", string(agentType)),
		zap.Error(failure),
		zap.Int("consecutive_failures", rec.consecutiveFailures))

	if rec.consecutiveFailures >= s.cfg.AlertThreshold && !rec.alerted {
		rec.alerted = true
		s.emit(types.EventAgentCritical, agentType, map[string]any{
			"agent_type":           string(agentType),
			"consecutive_failures": rec.consecutiveFailures,
		}, types.PriorityUrgent)
	}

	if rec.fallbackActive {
		// Already degraded; the fallback keeps serving until an
		// operator clears it.
		return true
	}

	return s.restartLocked(rec, agentType)
}

// restartLocked makes one restart attempt: wait the backoff delay, stop,
// start. Restart attempts for one agent never overlap; the budget spans
// consecutive failures and resets on recovery. Caller holds rec.mu.
func (s *Supervisor) restartLocked(rec *agentRecord, agentType types.AgentType) bool {
	if rec.restartAttempts >= s.cfg.MaxRestartAttempts {
		return s.degradeLocked(rec, agentType)
	}

	delay := rec.backoff.NextBackOff()
	rec.restartAttempts++

	s.logger.Info("restarting agent",
		zap.String("agent_type", string(agentType)),
		zap.Int("attempt", rec.restartAttempts),
		zap.Duration("delay", delay))

	select {
	case <-time.After(delay):
	case <-s.stopCh:
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := rec.runner.Stop(ctx); err != nil && !errors.Is(err, agent.ErrNotActive) {
		s.logger.Warn("stop before restart failed",
			zap.String("agent_type", string(agentType)),
			zap.Error(err))
	}
	err := rec.runner.Start(ctx)
	cancel()

	if err == nil {
		rec.restartAttempts = 0
		rec.consecutiveFailures = 0
		rec.alerted = false
		rec.backoff.Reset()
		s.logger.Info("agent recovered",
			zap.String("agent_type", string(agentType)))
		s.emit(types.EventAgentRecovered, agentType, map[string]any{
			"agent_type": string(agentType),
		}, types.PriorityHigh)
		return true
	}

	s.logger.Error("agent restart failed",
		zap.String("agent_type", string(agentType)),
		zap.Int("attempt", rec.restartAttempts),
		zap.Error(err))

	if rec.restartAttempts >= s.cfg.MaxRestartAttempts {
		return s.degradeLocked(rec, agentType)
	}
	return false
}

// degradeLocked activates the fallback after the restart budget is
// exhausted. Caller holds rec.mu.
func (s *Supervisor) degradeLocked(rec *agentRecord, agentType types.AgentType) bool {
	rec.fallbackActive = true
	s.logger.Error("restart budget exhausted, fallback active",
		zap.String("agent_type", string(agentType)),
		zap.Int("attempts", rec.restartAttempts))
	s.emit(types.EventAgentDegraded, agentType, map[string]any{
		"agent_type": string(agentType),
		"attempts":   rec.restartAttempts,
	}, types.PriorityUrgent)
	return true
}

// BusFailure adapts the supervisor to eventbus.Config.OnHandlerFailure.
// Handling runs off the bus worker goroutine.
func (s *Supervisor) BusFailure(agentType types.AgentType, event *types.AgentEvent, err error) {
	go s.HandleFailure(agentType, err, map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
	})
}

// IsFallbackActive reports whether the agent's fallback is serving in
// its place.
func (s *Supervisor) IsFallbackActive(agentType types.AgentType) bool {
	rec := s.record(agentType)
	if rec == nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.fallbackActive
}

// Fallback returns the responder for an agent type, or nil when none is
// configured.
func (s *Supervisor) Fallback(agentType types.AgentType) Responder {
	return s.responders[agentType]
}

// ClearFallback deactivates the fallback and resets the restart budget,
// e.g. after an operator intervenes.
func (s *Supervisor) ClearFallback(agentType types.AgentType) {
	rec := s.record(agentType)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	rec.fallbackActive = false
	rec.restartAttempts = 0
	rec.consecutiveFailures = 0
	rec.alerted = false
	rec.backoff.Reset()
	rec.mu.Unlock()
}

// GetAgentHealth returns the runtime health snapshot for one agent.
func (s *Supervisor) GetAgentHealth(agentType types.AgentType) (*types.AgentHealth, error) {
	rec := s.record(agentType)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentType)
	}
	return rec.runner.Health(), nil
}

// GetSystemHealth aggregates health across all supervised agents. The
// system is healthy only when every agent is healthy and no fallback is
// active.
func (s *Supervisor) GetSystemHealth() *SystemHealth {
	s.mu.Lock()
	records := make(map[types.AgentType]*agentRecord, len(s.records))
	for at, rec := range s.records {
		records[at] = rec
	}
	s.mu.Unlock()

	out := &SystemHealth{
		Healthy:       true,
		Agents:        make(map[types.AgentType]*types.AgentHealth, len(records)),
		TotalFailures: s.totalFailures.Load(),
	}
	for at, rec := range records {
		h := rec.runner.Health()
		out.Agents[at] = h
		rec.mu.Lock()
		fallback := rec.fallbackActive
		rec.mu.Unlock()
		if fallback {
			out.ActiveFallbacks = append(out.ActiveFallbacks, at)
		}
		if !h.Healthy || fallback {
			out.Healthy = false
		}
	}
	return out
}

// GetFailureHistory returns archived failures, newest first. A zero
// agentType matches all agents; limit <= 0 means no limit.
func (s *Supervisor) GetFailureHistory(agentType types.AgentType, limit int) []*FailureRecord {
	s.failureMu.Lock()
	defer s.failureMu.Unlock()

	n := len(s.failureLog)
	out := make([]*FailureRecord, 0, n)
	for i := n - 1; i >= 0; i-- {
		fr := s.failureLog[(s.logStart+i)%n]
		if agentType != "" && fr.AgentType != agentType {
			continue
		}
		out = append(out, fr)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *Supervisor) record(agentType types.AgentType) *agentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[agentType]
}

func (s *Supervisor) archiveFailure(fr *FailureRecord) {
	s.failureMu.Lock()
	if len(s.failureLog) < s.cfg.FailureLogCapacity {
		s.failureLog = append(s.failureLog, fr)
	} else {
		s.failureLog[s.logStart] = fr
		s.logStart = (s.logStart + 1) % s.cfg.FailureLogCapacity
	}
	s.failureMu.Unlock()

	if s.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.archive.RecordFailure(ctx, fr); err != nil {
			s.logger.Warn("failed to archive failure record",
				zap.String("agent_type", string(fr.AgentType)),
				zap.Error(err))
		}
	}
}

func (s *Supervisor) emit(eventType string, source types.AgentType, data map[string]any, priority types.Priority) {
	if s.bus == nil {
		return
	}
	event := s.bus.Create(eventType, source, data, priority)
	if err := s.bus.Publish(event); err != nil {
		s.logger.Warn("failed to publish recovery event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

// healthLoop periodically sweeps agent health and recovers agents that
// went inactive without a failure signal.
func (s *Supervisor) healthLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Supervisor) sweep() {
	s.mu.Lock()
	records := make(map[types.AgentType]*agentRecord, len(s.records))
	for at, rec := range s.records {
		records[at] = rec
	}
	s.mu.Unlock()

	for at, rec := range records {
		h := rec.runner.Health()
		if h.Active {
			continue
		}
		rec.mu.Lock()
		degraded := rec.fallbackActive
		rec.mu.Unlock()
		if degraded {
			continue
		}
		s.logger.Warn("health sweep found inactive agent",
			zap.String("agent_type", string(at)))
		go s.HandleFailure(at, errors.New("agent inactive during health sweep"), map[string]any{
			"source": "health_sweep",
		})
	}
}
