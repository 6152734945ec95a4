// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package executor

import (
	"context"

	orcherrors "github.com/hoidn/agent-orchestration/internal/orchestrator/errors"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/state"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/variables"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/waitfor"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/workflow"
)

func (e *Executor) executeWaitFor(ctx context.Context, step workflow.Step, ns variables.Namespaces) (*stepOutcome, error) {
	sub := variables.New(ns)
	pattern, _ := sub.Substitute(step.WaitFor.Pattern).(string)
	if sub.HasUndefined() {
		return nil, orcherrors.NewUndefinedVariablesError(sub.UndefinedVars())
	}

	if err := waitfor.ValidatePattern(pattern); err != nil {
		return nil, orcherrors.NewPathSafetyError(err.Error(), map[string]interface{}{"step": step.Name})
	}

	cfg := waitfor.Config{
		Workspace:   e.Workspace,
		Pattern:     pattern,
		MinCount:    maxInt(step.WaitFor.MinCount, 1),
		TimeoutSec:  step.WaitFor.TimeoutSec,
		IntervalSec: defaultFloat(step.WaitFor.IntervalSec, 1.0),
	}

	result, err := waitfor.Wait(ctx, cfg)
	if err != nil {
		return nil, orcherrors.NewExecutionError("wait_for polling failed", err, map[string]interface{}{"step": step.Name})
	}

	sr := &state.StepResult{
		Files:        result.Files,
		WaitDuration: ptrInt64(result.WaitDuration.Milliseconds()),
		PollCount:    ptrInt(result.PollCount),
		TimedOut:     result.TimedOut,
	}

	if result.TimedOut {
		sr.Status = state.StepFailed
		sr.Error = &state.StepError{Type: string(orcherrors.KindTimeout), Message: "wait_for timed out before min_count was reached"}
		e.setStepResult(step.Name, sr)
		return &stepOutcome{success: false}, nil
	}

	sr.Status = state.StepCompleted
	e.setStepResult(step.Name, sr)
	return &stepOutcome{success: true}, nil
}

func maxInt(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func defaultFloat(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
