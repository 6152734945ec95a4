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
	"fmt"
	"strings"

	orcherrors "github.com/hoidn/agent-orchestration/internal/orchestrator/errors"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/state"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/variables"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/workflow"
)

// executeForEach resolves the loop's item list, then runs the nested
// steps once per item. Resume-skip is evaluated per nested step (not
// per whole iteration): a child step whose flattened state entry is
// already terminal is left alone; one that is not is run fresh. This
// follows spec §9's stated resolution of the for-each resume ambiguity
// rather than the reference implementation's coarser iteration-level-only
// skip (see SPEC_FULL.md's Open Question decision 2).
//
// Nested for_each and wait_for are supported: the reference
// implementation only dispatches command/provider for loop children and
// stubs everything else out, but spec §3 validates a loop's `steps` "as
// top-level steps" with no such carve-out (SPEC_FULL.md decision 4).
func (e *Executor) executeForEach(ctx context.Context, step workflow.Step, ns variables.Namespaces) (*stepOutcome, error) {
	items, err := e.resolveForEachItems(step, ns)
	if err != nil {
		// Persisted through the state store, not just held in memory --
		// fixes the reference implementation's gap where an items_from
		// pointer-resolution failure never reached disk (recorded in
		// DESIGN.md's executor entry).
		e.setStepResult(step.Name, &state.StepResult{
			Status: state.StepFailed,
			Error:  &state.StepError{Type: string(orcherrors.KindExecution), Message: err.Error()},
		})
		return nil, err
	}

	overallSuccess := true
	for i, item := range items {
		loopVars := map[string]interface{}{
			"index":          i,
			"item":           item,
			"__scoped_steps": map[string]*state.StepResult{},
		}
		prefix := fmt.Sprintf("%s[%d]", step.Name, i)

		for _, child := range step.ForEach.Steps {
			outcome, err := e.executeNestedStep(ctx, prefix, child, loopVars)
			if err != nil {
				return nil, err
			}
			if outcome != nil && !outcome.success {
				overallSuccess = false
			}
		}
	}

	e.setStepResult(step.Name, &state.StepResult{Status: state.StepCompleted})
	return &stepOutcome{success: overallSuccess}, nil
}

func (e *Executor) resolveForEachItems(step workflow.Step, ns variables.Namespaces) ([]interface{}, error) {
	fe := step.ForEach
	if len(fe.Items) > 0 {
		sub := variables.New(ns)
		substituted := sub.Substitute(fe.Items)
		if sub.HasUndefined() {
			return nil, orcherrors.NewUndefinedVariablesError(sub.UndefinedVars())
		}
		items, _ := substituted.([]interface{})
		return items, nil
	}

	if ns.Steps == nil {
		return nil, orcherrors.New("items_from requires at least one prior step")
	}
	value, err := ns.Steps.Resolve(strings.TrimPrefix(fe.ItemsFrom, "steps."))
	if err != nil {
		return nil, orcherrors.NewExecutionError("resolving items_from", err, map[string]interface{}{"step": step.Name})
	}
	if lines, isLines := value.([]string); isLines {
		items := make([]interface{}, len(lines))
		for i, l := range lines {
			items[i] = l
		}
		return items, nil
	}
	items, ok := value.([]interface{})
	if !ok {
		return nil, orcherrors.NewValidationError(fmt.Sprintf("items_from for step %q did not resolve to a list", step.Name), nil)
	}
	return items, nil
}

func (e *Executor) executeNestedStep(ctx context.Context, prefix string, step workflow.Step, loopVars map[string]interface{}) (*stepOutcome, error) {
	flatKey := prefix + "." + step.Name

	if res, ok := e.State.Steps[flatKey]; ok && e.isResumeTerminal(step, res) {
		return &stepOutcome{success: res.Status != state.StepFailed}, nil
	}

	item := loopVars["item"]
	ns := e.baseNamespaces(loopVars, item)

	if step.When != nil {
		sub := variables.New(ns)
		ok, err := e.evaluateWhen(step, sub)
		if err != nil {
			return nil, err
		}
		if !ok {
			res := &state.StepResult{Status: state.StepSkipped}
			e.recordNested(flatKey, loopVars, res)
			return &stepOutcome{success: true}, nil
		}
	}

	originalName := step.Name
	step.Name = flatKey
	defer func() { step.Name = originalName }()

	var outcome *stepOutcome
	var err error
	switch {
	case step.Command != nil:
		outcome, err = e.executeCommand(ctx, step, ns)
	case step.Provider != "":
		outcome, err = e.executeProvider(ctx, step, ns)
	case step.WaitFor != nil:
		outcome, err = e.executeWaitFor(ctx, step, ns)
	case step.ForEach != nil:
		outcome, err = e.executeForEach(ctx, step, ns)
	default:
		return nil, orcherrors.NewValidationError(fmt.Sprintf("nested step %q has no executable body", flatKey), nil)
	}
	if err != nil {
		return nil, err
	}

	if res, ok := e.State.Steps[flatKey]; ok {
		e.recordNested(flatKey, loopVars, res)
	}
	return outcome, nil
}

// recordNested writes res into both the flat Steps map (the durable,
// pointer-addressable form) and the iteration-local __scoped_steps view
// (so a later sibling step in the same iteration sees it under its bare
// name via the loop-scoped "steps" namespace).
func (e *Executor) recordNested(flatKey string, loopVars map[string]interface{}, res *state.StepResult) {
	e.setStepResult(flatKey, res)
	if scoped, ok := loopVars["__scoped_steps"].(map[string]*state.StepResult); ok {
		bareName := flatKey[len(flatKey)-len(lastSegment(flatKey)):]
		scoped[bareName] = res
	}
}

func lastSegment(flatKey string) string {
	for i := len(flatKey) - 1; i >= 0; i-- {
		if flatKey[i] == '.' {
			return flatKey[i+1:]
		}
	}
	return flatKey
}
