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
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/praxislabs/praxis/pkg/agents"
	"github.com/praxislabs/praxis/pkg/config"
	"github.com/praxislabs/praxis/pkg/types"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted tutoring session against the built-in agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err := setupLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		orch, cleanup, err := buildRuntime(cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		for _, a := range agents.All() {
			if err := orch.RegisterAgent(a); err != nil {
				return err
			}
		}

		ctx := cmd.Context()
		if err := orch.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout())
			defer cancel()
			if err := orch.Stop(stopCtx); err != nil {
				logger.Warn("shutdown error", zap.Error(err))
			}
		}()

		const studentID = "demo-student"
		if _, err := orch.InitializeLearningState(ctx, studentID, &types.StudentProfile{
			Name:       "Demo Student",
			GradeLevel: "6",
		}); err != nil {
			return err
		}

		script := []string{
			"Hi! I'm ready to start.",
			"I'm stuck on this fractions problem, I don't understand it.",
			"Oh wait, I got it! That was actually easy once I saw it.",
		}
		for _, line := range script {
			result, err := orch.ProcessStudentInteraction(ctx, studentID, types.NewInteraction(line))
			if err != nil {
				return err
			}
			fmt.Printf("student> %s\n", line)
			fmt.Printf("tutor>   %s\n", result.Response)
			for _, action := range result.Actions {
				fmt.Printf("         [%s/%s] %s (confidence %.2f)\n",
					action.Kind, action.Priority, action.Description, action.Confidence)
			}
			if result.Degraded {
				fmt.Printf("         degraded: unavailable agents %v\n", result.UnavailableAgents)
			}
		}

		state, err := orch.GetLearningState(studentID)
		if err != nil {
			return err
		}
		fmt.Printf("\nfinal state: revision=%d engagement=%.2f frustration=%.2f activity=%q\n",
			state.Revision,
			state.Engagement.CurrentLevel,
			state.Engagement.FrustrationLevel,
			state.CurrentActivity)

		health := orch.GetSystemHealth()
		fmt.Printf("system healthy: %v (queued events: %d, failures: %d)\n",
			health.Recovery.Healthy, health.Queue.Queued, health.Recovery.TotalFailures)
		return nil
	},
}
