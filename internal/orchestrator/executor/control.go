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

import "github.com/hoidn/agent-orchestration/internal/orchestrator/workflow"

const endStepName = "_end"

// resolveControlFlow picks the next cursor position after a step runs.
// on.always takes precedence over on.success/on.failure; when neither
// fires and strict_flow (default true) is in effect, a failed step
// terminates the run instead of falling through to the next one. A
// goto target that doesn't name a real step is not an error: the
// cursor simply advances to the next step in sequence, matching the
// reference implementation's lenient goto resolution.
func (e *Executor) resolveControlFlow(step workflow.Step, outcome *stepOutcome, cursor int, steps []workflow.Step) int {
	handler := selectHandler(step, outcome)
	if handler != nil && handler.Goto != "" {
		if handler.Goto == endStepName {
			return endCursor
		}
		if idx := indexOfStep(steps, handler.Goto); idx >= 0 {
			return idx
		}
	}

	if outcome != nil && !outcome.success && e.failureStopsRun(step) {
		return endCursor
	}
	return cursor + 1
}

func selectHandler(step workflow.Step, outcome *stepOutcome) *workflow.Handler {
	if step.On == nil {
		return nil
	}
	if step.On.Always != nil {
		return step.On.Always
	}
	if outcome == nil {
		return nil
	}
	if outcome.success {
		return step.On.Success
	}
	return step.On.Failure
}

// failureStopsRun applies when a failed step had no on.failure/on.always
// handler: strict_flow (workflow-level, default true) stops the run;
// otherwise the run-level --on-error default ("stop" unless overridden
// to "continue") governs.
func (e *Executor) failureStopsRun(step workflow.Step) bool {
	if step.On != nil && step.On.Failure != nil {
		return false
	}
	if e.Workflow.IsStrictFlow() {
		return true
	}
	return e.Options.OnErrorDefault != "continue"
}

func indexOfStep(steps []workflow.Step, name string) int {
	for i, s := range steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}
