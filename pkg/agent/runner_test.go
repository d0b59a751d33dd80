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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/praxislabs/praxis/pkg/eventbus"
	"github.com/praxislabs/praxis/pkg/types"
)

// stubAgent is a scriptable agent for runner tests.
type stubAgent struct {
	typ     types.AgentType
	initErr error

	// entered signals each ProcessMessage start; release gates its
	// return when non-nil.
	entered chan string
	release chan struct{}

	process func(msg *types.AgentMessage) (*types.AgentResponse, error)

	inFlight      atomic.Int32
	maxInFlight   atomic.Int32
	processedMsgs atomic.Int32
}

func newStubAgent() *stubAgent {
	return &stubAgent{typ: types.AgentTypeAssessment}
}

func (s *stubAgent) Type() types.AgentType            { return s.typ }
func (s *stubAgent) Initialize(context.Context) error { return s.initErr }
func (s *stubAgent) Shutdown(context.Context) error   { return nil }

func (s *stubAgent) ProcessMessage(_ context.Context, msg *types.AgentMessage) (*types.AgentResponse, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		prev := s.maxInFlight.Load()
		if cur <= prev || s.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	defer s.processedMsgs.Add(1)

	if s.entered != nil {
		s.entered <- msg.ID
	}
	if s.release != nil {
		<-s.release
	}
	if s.process != nil {
		return s.process(msg)
	}
	return &types.AgentResponse{
		MessageID: msg.ID,
		Success:   true,
		Data:      map[string]any{"echo": msg.Payload["n"]},
	}, nil
}

func newTestRunner(t *testing.T, a Agent, cfg RunnerConfig) *Runner {
	t.Helper()
	cfg.Logger = zaptest.NewLogger(t)
	r := NewRunner(a, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})
	return r
}

func TestRunnerLifecycle(t *testing.T) {
	r := newTestRunner(t, newStubAgent(), RunnerConfig{})
	ctx := context.Background()

	assert.Equal(t, StateInactive, r.State())
	require.NoError(t, r.Start(ctx))
	assert.Equal(t, StateActive, r.State())

	err := r.Start(ctx)
	require.ErrorIs(t, err, ErrAlreadyActive)

	require.NoError(t, r.Stop(ctx))
	assert.Equal(t, StateInactive, r.State())

	err = r.Stop(ctx)
	require.ErrorIs(t, err, ErrNotActive)

	// A stopped runner can start again.
	require.NoError(t, r.Start(ctx))
	assert.Equal(t, StateActive, r.State())
}

func TestRunnerStartFailsOnInitializeError(t *testing.T) {
	a := newStubAgent()
	a.initErr = errors.New("no database")
	r := newTestRunner(t, a, RunnerConfig{})

	err := r.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateInactive, r.State())
}

func TestDeliverIdleReturnsRealResponse(t *testing.T) {
	r := newTestRunner(t, newStubAgent(), RunnerConfig{})
	require.NoError(t, r.Start(context.Background()))

	msg := types.NewMessage(types.AgentTypeOrchestrator, types.AgentTypeAssessment,
		types.MessageKindRequest, map[string]any{"n": 7}, types.PriorityMedium)
	resp := r.Deliver(msg)

	require.True(t, resp.Success)
	assert.Equal(t, msg.ID, resp.MessageID)
	assert.Equal(t, 7, resp.Data["echo"])
}

func TestDeliverInactiveRejected(t *testing.T) {
	r := newTestRunner(t, newStubAgent(), RunnerConfig{})

	msg := types.NewMessage(types.AgentTypeOrchestrator, types.AgentTypeAssessment,
		types.MessageKindRequest, nil, types.PriorityMedium)
	resp := r.Deliver(msg)

	require.False(t, resp.Success)
	assert.Equal(t, msg.ID, resp.MessageID)
	assert.Equal(t, ErrNotActive.Error(), resp.Error)
}

func TestDeliverBusyReturnsQueuedAndOutcomeOnResponses(t *testing.T) {
	a := newStubAgent()
	a.entered = make(chan string, 4)
	a.release = make(chan struct{})
	r := newTestRunner(t, a, RunnerConfig{})
	require.NoError(t, r.Start(context.Background()))

	first := types.NewMessage(types.AgentTypeOrchestrator, types.AgentTypeAssessment,
		types.MessageKindRequest, map[string]any{"n": 1}, types.PriorityMedium)
	firstResp := make(chan *types.AgentResponse, 1)
	go func() { firstResp <- r.Deliver(first) }()

	// Wait until the first message is in flight.
	<-a.entered

	second := types.NewMessage(types.AgentTypeOrchestrator, types.AgentTypeAssessment,
		types.MessageKindRequest, map[string]any{"n": 2}, types.PriorityMedium)
	resp := r.Deliver(second)
	require.True(t, resp.Success)
	assert.Equal(t, "queued", resp.Data["status"])
	assert.Equal(t, second.ID, resp.MessageID)

	close(a.release)

	got := <-firstResp
	require.True(t, got.Success)
	assert.Equal(t, first.ID, got.MessageID)
	assert.Equal(t, 1, got.Data["echo"])

	select {
	case outcome := <-r.Responses():
		assert.Equal(t, second.ID, outcome.MessageID)
		assert.True(t, outcome.Success)
		assert.Equal(t, 2, outcome.Data["echo"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queued outcome")
	}
}

func TestDeliverTimeoutNeverLosesOutcome(t *testing.T) {
	a := newStubAgent()
	a.process = func(msg *types.AgentMessage) (*types.AgentResponse, error) {
		time.Sleep(time.Millisecond)
		return &types.AgentResponse{MessageID: msg.ID, Success: true}, nil
	}
	// Processing time matches the wait so completions race timeouts.
	r := newTestRunner(t, a, RunnerConfig{DeliverWait: time.Millisecond})
	require.NoError(t, r.Start(context.Background()))

	const n = 200
	ids := make(map[string]bool, n)
	got := make(map[string]bool, n)
	drain := func() {
		for len(r.Responses()) > 0 {
			got[(<-r.Responses()).MessageID] = true
		}
	}
	for i := 0; i < n; i++ {
		msg := types.NewMessage(types.AgentTypeOrchestrator, types.AgentTypeAssessment,
			types.MessageKindRequest, nil, types.PriorityMedium)
		ids[msg.ID] = true
		resp := r.Deliver(msg)
		require.True(t, resp.Success)
		if resp.Data["status"] != "queued" {
			got[resp.MessageID] = true
		}
		drain()
	}

	// Every outcome surfaces exactly once: synchronously from Deliver or
	// on the responses channel, never dropped between the two.
	require.Eventually(t, func() bool {
		drain()
		return len(got) == n
	}, 5*time.Second, 5*time.Millisecond)
	for id := range ids {
		assert.True(t, got[id], "lost outcome for %s", id)
	}
}

func TestMailboxSerializesProcessing(t *testing.T) {
	a := newStubAgent()
	r := newTestRunner(t, a, RunnerConfig{})
	require.NoError(t, r.Start(context.Background()))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Deliver(types.NewMessage(types.AgentTypeOrchestrator, types.AgentTypeAssessment,
				types.MessageKindRequest, map[string]any{"n": i}, types.PriorityMedium))
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return a.processedMsgs.Load() == n
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), a.maxInFlight.Load(), "ProcessMessage must never run concurrently")
}

func TestProcessPanicBecomesFailedResponse(t *testing.T) {
	a := newStubAgent()
	a.process = func(*types.AgentMessage) (*types.AgentResponse, error) {
		panic("kaboom")
	}

	failures := make(chan error, 1)
	r := newTestRunner(t, a, RunnerConfig{
		OnFailure: func(_ types.AgentType, err error, _ map[string]any) {
			failures <- err
		},
	})
	require.NoError(t, r.Start(context.Background()))

	msg := types.NewMessage(types.AgentTypeOrchestrator, types.AgentTypeAssessment,
		types.MessageKindRequest, nil, types.PriorityMedium)
	resp := r.Deliver(msg)

	require.False(t, resp.Success)
	assert.Equal(t, msg.ID, resp.MessageID)
	assert.Contains(t, resp.Error, "panic")
	// The runner itself survives.
	assert.Equal(t, StateActive, r.State())

	select {
	case err := <-failures:
		assert.Contains(t, err.Error(), "kaboom")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure signal")
	}
}

func TestRequestDeadlineRoutesOutcomeToResponses(t *testing.T) {
	a := newStubAgent()
	a.entered = make(chan string, 1)
	a.release = make(chan struct{})
	r := newTestRunner(t, a, RunnerConfig{})
	require.NoError(t, r.Start(context.Background()))

	msg := types.NewMessage(types.AgentTypeOrchestrator, types.AgentTypeAssessment,
		types.MessageKindRequest, map[string]any{"n": 3}, types.PriorityMedium)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	resp, err := r.Request(ctx, msg)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, resp)

	close(a.release)
	select {
	case outcome := <-r.Responses():
		assert.Equal(t, msg.ID, outcome.MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for late outcome")
	}
}

func TestStopDrainsMailbox(t *testing.T) {
	a := newStubAgent()
	a.entered = make(chan string, 8)
	a.release = make(chan struct{})
	r := newTestRunner(t, a, RunnerConfig{})
	require.NoError(t, r.Start(context.Background()))

	go r.Deliver(types.NewMessage(types.AgentTypeOrchestrator, types.AgentTypeAssessment,
		types.MessageKindRequest, map[string]any{"n": 0}, types.PriorityMedium))
	<-a.entered

	// Pile up queued messages behind the in-flight one.
	for i := 1; i < 5; i++ {
		resp := r.Deliver(types.NewMessage(types.AgentTypeOrchestrator, types.AgentTypeAssessment,
			types.MessageKindRequest, map[string]any{"n": i}, types.PriorityMedium))
		assert.Equal(t, "queued", resp.Data["status"])
	}

	close(a.release)
	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, int32(5), a.processedMsgs.Load())
}

func TestEventHandlersRunInPriorityOrder(t *testing.T) {
	r := newTestRunner(t, newStubAgent(), RunnerConfig{})

	var order []string
	r.OnEvent("test:order", func(*types.AgentEvent) { order = append(order, "low") }, types.PriorityLow)
	r.OnEvent("test:order", func(*types.AgentEvent) { order = append(order, "urgent") }, types.PriorityUrgent)
	r.OnEvent("test:order", func(*types.AgentEvent) { order = append(order, "medium") }, types.PriorityMedium)

	r.HandleEvent(&types.AgentEvent{ID: "e1", Type: "test:order"})
	assert.Equal(t, []string{"urgent", "medium", "low"}, order)
}

func TestEventHandlerPanicDoesNotStopOthers(t *testing.T) {
	failures := make(chan error, 1)
	r := newTestRunner(t, newStubAgent(), RunnerConfig{
		OnFailure: func(_ types.AgentType, err error, _ map[string]any) {
			failures <- err
		},
	})

	ran := false
	r.OnEvent("test:panic", func(*types.AgentEvent) { panic("handler down") }, types.PriorityUrgent)
	r.OnEvent("test:panic", func(*types.AgentEvent) { ran = true }, types.PriorityLow)

	r.HandleEvent(&types.AgentEvent{ID: "e1", Type: "test:panic"})
	assert.True(t, ran)

	select {
	case err := <-failures:
		assert.Contains(t, err.Error(), "handler down")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure signal")
	}
}

func TestRunnerEmitsLifecycleEvents(t *testing.T) {
	bus := eventbus.New(eventbus.Config{Logger: zaptest.NewLogger(t)})
	lifecycle := make(chan string, 4)
	bus.RegisterGlobalHandler(types.EventAgentStarted, func(e *types.AgentEvent) {
		lifecycle <- e.Type
	}, types.PriorityMedium)
	bus.RegisterGlobalHandler(types.EventAgentStopped, func(e *types.AgentEvent) {
		lifecycle <- e.Type
	}, types.PriorityMedium)
	bus.Start()
	t.Cleanup(bus.Stop)

	r := newTestRunner(t, newStubAgent(), RunnerConfig{Bus: bus})
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop(context.Background()))

	for _, want := range []string{types.EventAgentStarted, types.EventAgentStopped} {
		select {
		case got := <-lifecycle:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestHealthSnapshot(t *testing.T) {
	r := newTestRunner(t, newStubAgent(), RunnerConfig{})

	h := r.Health()
	assert.False(t, h.Active)
	assert.False(t, h.Healthy)

	require.NoError(t, r.Start(context.Background()))
	h = r.Health()
	assert.True(t, h.Active)
	assert.True(t, h.Healthy)
	assert.Equal(t, types.AgentTypeAssessment, h.AgentType)
	assert.False(t, h.UptimeSince.IsZero())
}
