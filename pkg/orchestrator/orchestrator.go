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

// Package orchestrator coordinates the tutoring agents: it owns the
// per-student learning state, dispatches interactions to the domain
// agents in parallel, merges their recommendations, and routes state
// updates through the consistency layer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/praxislabs/praxis/pkg/agent"
	"github.com/praxislabs/praxis/pkg/consistency"
	"github.com/praxislabs/praxis/pkg/eventbus"
	"github.com/praxislabs/praxis/pkg/recovery"
	"github.com/praxislabs/praxis/pkg/types"
)

// DefaultDispatchTimeout bounds how long one interaction waits for any
// single agent before proceeding without it.
const DefaultDispatchTimeout = 5 * time.Second

// Orchestrator errors.
var (
	ErrStateNotFound     = errors.New("learning state not found")
	ErrStateExists       = errors.New("learning state already initialized")
	ErrAgentRegistered   = errors.New("agent type already registered")
	ErrNotRunning        = errors.New("orchestrator not running")
	ErrInvalidUpdate     = errors.New("invalid state update")
	ErrUpdateRejected    = errors.New("update rejected: resulting state invalid")
	ErrUnknownStudentID  = errors.New("student id is empty")
	ErrAlreadyRunning    = errors.New("orchestrator already running")
	ErrNoAgentRegistered = errors.New("no agents registered")
)

// Config configures the Orchestrator. Bus, Supervisor, and Consistency
// are required.
type Config struct {
	Bus         *eventbus.Bus
	Supervisor  *recovery.Supervisor
	Consistency *consistency.Manager
	Logger      *zap.Logger

	DispatchTimeout time.Duration
}

// studentEntry holds one student's state with its two locks. mu guards
// the state itself; interactionMu serializes whole interactions so two
// concurrent interactions for the same student never interleave their
// read-dispatch-update cycles.
type studentEntry struct {
	mu            sync.Mutex
	interactionMu sync.Mutex
	state         *types.LearningState
}

// Orchestrator is the top-level coordinator. All exported methods are
// safe for concurrent use.
type Orchestrator struct {
	bus         *eventbus.Bus
	supervisor  *recovery.Supervisor
	consistency *consistency.Manager
	logger      *zap.Logger
	cfg         Config

	mu       sync.Mutex
	runners  map[types.AgentType]*agent.Runner
	students map[string]*studentEntry
	running  bool
}

// New creates an orchestrator. Register agents, then call Start.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}

	return &Orchestrator{
		bus:         cfg.Bus,
		supervisor:  cfg.Supervisor,
		consistency: cfg.Consistency,
		logger:      cfg.Logger,
		cfg:         cfg,
		runners:     make(map[types.AgentType]*agent.Runner),
		students:    make(map[string]*studentEntry),
	}
}

// RegisterAgent wraps a domain agent in a runner, wires its failure
// signal to the recovery supervisor, and places it under supervision.
// Must be called before Start.
func (o *Orchestrator) RegisterAgent(a agent.Agent) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.runners[a.Type()]; exists {
		return fmt.Errorf("%w: %s", ErrAgentRegistered, a.Type())
	}

	runner := agent.NewRunner(a, agent.RunnerConfig{
		Bus:       o.bus,
		Logger:    o.logger,
		OnFailure: func(at types.AgentType, err error, fctx map[string]any) {
			o.supervisor.HandleFailure(at, err, fctx)
		},
	})
	o.runners[a.Type()] = runner
	o.supervisor.Register(runner)

	o.logger.Info("agent registered", zap.String("agent_type", string(a.Type())))
	return nil
}

// Runner returns the runner for an agent type, or nil.
func (o *Orchestrator) Runner(agentType types.AgentType) *agent.Runner {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runners[agentType]
}

// Start brings up the bus, supervisor, consistency manager, and every
// registered agent. Agents start in parallel; any failure aborts
// startup and stops the agents already started.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	if len(o.runners) == 0 {
		o.mu.Unlock()
		return ErrNoAgentRegistered
	}
	runners := o.runnersSnapshotLocked()
	o.running = true
	o.mu.Unlock()

	o.bus.Start()
	o.supervisor.Start()
	o.consistency.SetStateProvider(o.statesForBackup)
	if err := o.consistency.Start(); err != nil {
		return fmt.Errorf("failed to start consistency manager: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		r := r
		g.Go(func() error {
			if err := r.Start(gctx); err != nil {
				return fmt.Errorf("failed to start agent %s: %w", r.Type(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.stopAgents(context.Background(), runners)
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		return err
	}

	o.logger.Info("orchestrator started", zap.Int("agents", len(runners)))
	return nil
}

// Stop shuts everything down in reverse order: agents first, then the
// consistency manager, supervisor, and bus.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return ErrNotRunning
	}
	o.running = false
	runners := o.runnersSnapshotLocked()
	o.mu.Unlock()

	err := o.stopAgents(ctx, runners)
	o.consistency.Stop()
	o.supervisor.Stop()
	o.bus.Stop()

	o.logger.Info("orchestrator stopped")
	return err
}

func (o *Orchestrator) stopAgents(ctx context.Context, runners []*agent.Runner) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, r := range runners {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Stop(ctx); err != nil && !errors.Is(err, agent.ErrNotActive) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("failed to stop agent %s: %w", r.Type(), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (o *Orchestrator) runnersSnapshotLocked() []*agent.Runner {
	out := make([]*agent.Runner, 0, len(o.runners))
	for _, r := range o.runners {
		out = append(out, r)
	}
	return out
}

// GetSystemHealth aggregates agent health from the supervisor with bus
// queue statistics.
func (o *Orchestrator) GetSystemHealth() *SystemStatus {
	return &SystemStatus{
		Recovery:    o.supervisor.GetSystemHealth(),
		Queue:       o.bus.GetQueueStats(),
		Bottlenecks: o.bus.DetectBottlenecks(),
	}
}

// SystemStatus is the orchestrator's aggregated health view.
type SystemStatus struct {
	Recovery    *recovery.SystemHealth
	Queue       eventbus.QueueStats
	Bottlenecks []string
}

// statesForBackup snapshots every student's state for the scheduled
// backup sweep. Each clone is taken under the student's state lock.
func (o *Orchestrator) statesForBackup() []*types.LearningState {
	o.mu.Lock()
	entries := make([]*studentEntry, 0, len(o.students))
	for _, e := range o.students {
		entries = append(entries, e)
	}
	o.mu.Unlock()

	out := make([]*types.LearningState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		clone, err := e.state.Clone()
		e.mu.Unlock()
		if err != nil {
			o.logger.Warn("failed to snapshot state for backup", zap.Error(err))
			continue
		}
		out = append(out, clone)
	}
	return out
}

func (o *Orchestrator) emit(eventType string, data map[string]any, priority types.Priority) {
	event := o.bus.Create(eventType, types.AgentTypeOrchestrator, data, priority)
	if err := o.bus.Publish(event); err != nil {
		o.logger.Warn("failed to publish orchestrator event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
