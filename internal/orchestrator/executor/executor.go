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

// Package executor implements the Workflow Executor (spec §4.15): a
// single-threaded, cooperative, linear cursor loop over a workflow's
// steps, with goto-as-cursor-reassignment control flow, resume-skip for
// terminal steps, and per-iteration loop-scope isolation for for_each
// bodies.
//
// Grounded in original_source/orchestrator/workflow/executor.py, with the
// divergences recorded in SPEC_FULL.md and DESIGN.md: undefined-variable
// accumulation over the whole command/provider-params structure rather
// than per-token; loop-scope isolation applied consistently to provider
// parameter substitution (the reference implementation's
// _create_provider_context omits it); debug dict merge instead of
// overwrite; for-each pointer-resolution failures persisted through the
// state store instead of only held in memory; and a single prompt-audit
// write per provider step.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hoidn/agent-orchestration/internal/orchestrator/capture"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/conditions"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/deps"
	orcherrors "github.com/hoidn/agent-orchestration/internal/orchestrator/errors"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/execrunner"
	orchlog "github.com/hoidn/agent-orchestration/internal/orchestrator/log"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/pointers"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/providers"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/retry"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/secrets"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/state"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/variables"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/waitfor"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/workflow"
)

// Options configures one Execute call, built by the CLI layer from flags
// (spec §1's boundary: the CLI only ever produces this struct).
type Options struct {
	OnErrorDefault string // "stop" or "continue", applied when a step has no on.failure and strict_flow is false
	MaxRetries     *int   // run-level provider retry override
	RetryDelaySec  float64
	DryRun         bool
	BackupState    bool
	Debug          bool
}

// Executor runs one workflow against one RunState document.
type Executor struct {
	Workflow  *workflow.Workflow
	State     *state.RunState
	Store     *state.Store
	Workspace string
	Secrets   *secrets.Manager
	Registry  *providers.Registry
	Options   Options
	Logger    *slog.Logger
}

func New(wf *workflow.Workflow, rs *state.RunState, store *state.Store, workspace string, opts Options, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = orchlog.New(orchlog.FromEnv())
	}
	reg := providers.NewRegistry()
	for name, decl := range wf.Providers {
		mode := providers.InputModeArgv
		if decl.InputMode == "stdin" {
			mode = providers.InputModeStdin
		}
		_ = reg.RegisterFromWorkflow(providers.Template{
			Name: name, Command: decl.Command, Defaults: decl.Defaults, InputMode: mode,
		})
	}
	if store != nil {
		store.SetBackupEnabled(opts.Debug || opts.BackupState)
	}
	return &Executor{
		Workflow: wf, State: rs, Store: store, Workspace: workspace,
		Secrets: secrets.New(), Registry: reg, Options: opts, Logger: logger,
	}
}

// Execute runs the workflow from State's current position to completion,
// failure, or suspension (context cancellation). The cursor advances
// linearly; `on.*.goto` and `_end` reassign it.
func (e *Executor) Execute(ctx context.Context) error {
	steps := e.Workflow.Steps
	cursor := e.firstIncompleteIndex(steps)

	for cursor >= 0 && cursor < len(steps) {
		step := steps[cursor]

		select {
		case <-ctx.Done():
			e.State.Status = state.StatusSuspended
			_ = e.Store.Save(e.State, step.Name)
			return ctx.Err()
		default:
		}

		if e.shouldSkipOnResume(step) {
			cursor++
			continue
		}

		outcome, runErr := e.executeTopLevelStep(ctx, step)
		if runErr != nil && outcome == nil {
			e.State.Status = state.StatusFailed
			_ = e.Store.Save(e.State, step.Name)
			return runErr
		}

		_ = e.Store.Save(e.State, step.Name)

		next := e.resolveControlFlow(step, outcome, cursor, steps)
		if next == endCursor {
			break
		}
		cursor = next
	}

	if e.lastStepFailedAndStopped(steps) {
		e.State.Status = state.StatusFailed
	} else {
		e.State.Status = state.StatusCompleted
	}
	return e.Store.Save(e.State, "_final")
}

const endCursor = -1

func (e *Executor) firstIncompleteIndex(steps []workflow.Step) int {
	for i, s := range steps {
		res, ok := e.State.Steps[s.Name]
		if !ok || !e.isResumeTerminal(s, res) {
			return i
		}
	}
	return len(steps)
}

// isResumeTerminal decides whether a persisted result means "don't run
// this again". A failed step is never treated as terminal on resume,
// whatever its on_error handling -- it is retried, per the reference
// implementation's resume semantics.
func (e *Executor) isResumeTerminal(s workflow.Step, res *state.StepResult) bool {
	if res == nil {
		return false
	}
	if res.Status == state.StepFailed {
		return false
	}
	return res.IsTerminal()
}

func (e *Executor) shouldSkipOnResume(s workflow.Step) bool {
	res, ok := e.State.Steps[s.Name]
	return ok && e.isResumeTerminal(s, res)
}

func (e *Executor) lastStepFailedAndStopped(steps []workflow.Step) bool {
	for _, s := range steps {
		if res, ok := e.State.Steps[s.Name]; ok && res.Status == state.StepFailed {
			return true
		}
	}
	return false
}

// stepOutcome is the internal result of dispatching one step, used by
// resolveControlFlow to pick success/failure/always handlers.
type stepOutcome struct {
	success bool
}

func (e *Executor) executeTopLevelStep(ctx context.Context, step workflow.Step) (*stepOutcome, error) {
	ns := e.baseNamespaces(nil, nil)
	sub := variables.New(ns)

	if step.When != nil {
		ok, err := e.evaluateWhen(step, sub)
		if err != nil {
			return nil, err
		}
		if !ok {
			e.setStepResult(step.Name, &state.StepResult{Status: state.StepSkipped})
			return &stepOutcome{success: true}, nil
		}
	}

	switch {
	case step.Command != nil:
		return e.executeCommand(ctx, step, ns)
	case step.Provider != "":
		return e.executeProvider(ctx, step, ns)
	case step.WaitFor != nil:
		return e.executeWaitFor(ctx, step, ns)
	case step.ForEach != nil:
		return e.executeForEach(ctx, step, ns)
	default:
		return nil, orcherrors.NewValidationError(fmt.Sprintf("step %q has no executable body", step.Name), nil)
	}
}

func (e *Executor) evaluateWhen(step workflow.Step, sub *variables.Substitutor) (bool, error) {
	w := conditions.When{}
	if step.When.Equals != nil {
		// A map with exactly one key: left -> right, per the DSL.
		for l, r := range step.When.Equals {
			w.Equals = &conditions.EqualsClause{Left: l, Right: r}
		}
	}
	w.Exists = step.When.Exists
	w.NotExists = step.When.NotExists

	evaluator := conditions.New(e.Workspace)
	return evaluator.Evaluate(w, sub)
}

// baseNamespaces builds the Namespaces for substitution. loopVars/item
// are nil at top level; for_each passes an iteration-scoped view here so
// provider-parameter substitution gets the same loop-scope isolation as
// command substitution (a deliberate fix over the reference
// implementation -- recorded in DESIGN.md's executor entry).
func (e *Executor) baseNamespaces(loopVars map[string]interface{}, item interface{}) variables.Namespaces {
	steps := e.stepViewsFor(loopVars)
	return variables.Namespaces{
		Run:     map[string]interface{}{"id": e.State.RunID},
		Context: e.State.Context,
		Loop:    loopVars,
		Item:    item,
		Steps:   pointers.New(steps),
	}
}

// stepViewsFor returns the steps namespace visible to the current scope.
// At top level (loopVars == nil) every persisted step is visible. Inside
// a for_each iteration, loopVars carries a "__scoped_steps" key holding only that
// iteration's nested results: sibling iterations' steps and the
// same-named steps of other iterations are not visible.
func (e *Executor) stepViewsFor(loopVars map[string]interface{}) map[string]pointers.StepView {
	source := e.State.Steps
	if loopVars != nil {
		if scoped, ok := loopVars["__scoped_steps"].(map[string]*state.StepResult); ok {
			source = scoped
		}
	}
	out := make(map[string]pointers.StepView, len(source))
	for name, res := range source {
		if res == nil {
			continue
		}
		out[name] = pointers.StepView{
			Status: string(res.Status), Lines: res.Lines, JSON: res.JSON, HasJSON: res.JSON != nil,
		}
	}
	return out
}

func (e *Executor) setStepResult(name string, res *state.StepResult) {
	if e.State.Steps == nil {
		e.State.Steps = map[string]*state.StepResult{}
	}
	e.State.Steps[name] = res
}

// composeEnv implements the Subprocess Runner's env composition order:
// process env <- secrets <- step env.
func composeEnv(secretValues map[string]string, stepEnv map[string]string) []string {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range secretValues {
		merged[k] = v
	}
	for k, v := range stepEnv {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

func durationMs(d time.Duration) int64 { return d.Milliseconds() }

func captureModeFrom(step workflow.Step) capture.Mode {
	switch capture.Mode(step.CaptureMode) {
	case capture.ModeLines:
		return capture.ModeLines
	case capture.ModeJSON:
		return capture.ModeJSON
	default:
		return capture.ModeText
	}
}

func ptrInt(v int) *int { return &v }
func ptrTime(t time.Time) *time.Time { return &t }
func ptrInt64(v int64) *int64 { return &v }

func stepLogDir(workspace, runRoot, stepName string) string {
	return filepath.Join(runRoot, "logs")
}
