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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoidn/agent-orchestration/internal/orchestrator/state"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/workflow"
)

func newExecutor(t *testing.T, wf *workflow.Workflow) *Executor {
	t.Helper()
	dir := t.TempDir()
	store, err := state.NewStore(dir)
	require.NoError(t, err)

	rs := &state.RunState{
		SchemaVersion: state.SchemaVersion,
		RunID:         "20260101T000000Z-abc123",
		RunRoot:       dir,
		Status:        state.StatusRunning,
		Steps:         map[string]*state.StepResult{},
	}
	return New(wf, rs, store, dir, Options{}, nil)
}

func cmdStep(name string, argv ...string) workflow.Step {
	items := make([]interface{}, len(argv))
	for i, a := range argv {
		items[i] = a
	}
	return workflow.Step{Name: name, Command: items}
}

func TestExecuteRunsStepsInSequence(t *testing.T) {
	wf := &workflow.Workflow{
		Version: "1.1",
		Steps: []workflow.Step{
			cmdStep("one", "true"),
			cmdStep("two", "true"),
		},
	}
	e := newExecutor(t, wf)
	require.NoError(t, e.Execute(context.Background()))

	assert.Equal(t, state.StatusCompleted, e.State.Status)
	assert.Equal(t, state.StepCompleted, e.State.Steps["one"].Status)
	assert.Equal(t, state.StepCompleted, e.State.Steps["two"].Status)
}

func TestExecuteStopsOnFailureByDefault(t *testing.T) {
	wf := &workflow.Workflow{
		Version: "1.1",
		Steps: []workflow.Step{
			cmdStep("fails", "false"),
			cmdStep("never", "true"),
		},
	}
	e := newExecutor(t, wf)
	require.NoError(t, e.Execute(context.Background()))

	assert.Equal(t, state.StatusFailed, e.State.Status)
	assert.Equal(t, state.StepFailed, e.State.Steps["fails"].Status)
	_, ran := e.State.Steps["never"]
	assert.False(t, ran)
}

func TestExecuteContinuesOnFailureWhenStrictFlowDisabled(t *testing.T) {
	notStrict := false
	wf := &workflow.Workflow{
		Version:    "1.1",
		StrictFlow: &notStrict,
		Steps: []workflow.Step{
			cmdStep("fails", "false"),
			cmdStep("runs-anyway", "true"),
		},
	}
	e := newExecutor(t, wf)
	require.NoError(t, e.Execute(context.Background()))

	assert.Equal(t, state.StepCompleted, e.State.Steps["runs-anyway"].Status)
}

func TestExecuteGotoRedirectsCursor(t *testing.T) {
	wf := &workflow.Workflow{
		Version: "1.1",
		Steps: []workflow.Step{
			{Name: "jump", Command: []interface{}{"true"}, On: &workflow.OnHandlers{Success: &workflow.Handler{Goto: "landing"}}},
			cmdStep("skipped", "true"),
			cmdStep("landing", "true"),
		},
	}
	e := newExecutor(t, wf)
	require.NoError(t, e.Execute(context.Background()))

	_, skippedRan := e.State.Steps["skipped"]
	assert.False(t, skippedRan)
	assert.Equal(t, state.StepCompleted, e.State.Steps["landing"].Status)
}

func TestExecuteGotoEndSentinelStopsRun(t *testing.T) {
	wf := &workflow.Workflow{
		Version: "1.1",
		Steps: []workflow.Step{
			{Name: "stop-here", Command: []interface{}{"true"}, On: &workflow.OnHandlers{Success: &workflow.Handler{Goto: "_end"}}},
			cmdStep("never", "true"),
		},
	}
	e := newExecutor(t, wf)
	require.NoError(t, e.Execute(context.Background()))

	assert.Equal(t, state.StatusCompleted, e.State.Status)
	_, ran := e.State.Steps["never"]
	assert.False(t, ran)
}

func TestExecuteResumeSkipsTerminalSteps(t *testing.T) {
	wf := &workflow.Workflow{
		Version: "1.1",
		Steps: []workflow.Step{
			cmdStep("done-already", "false"),
			cmdStep("fresh", "true"),
		},
	}
	e := newExecutor(t, wf)
	e.State.Steps["done-already"] = &state.StepResult{Status: state.StepCompleted}

	require.NoError(t, e.Execute(context.Background()))
	assert.Equal(t, state.StepCompleted, e.State.Steps["fresh"].Status)
}

func TestExecuteResumeRetriesPreviouslyFailedStep(t *testing.T) {
	wf := &workflow.Workflow{
		Version: "1.1",
		Steps: []workflow.Step{
			cmdStep("retry-me", "true"),
		},
	}
	e := newExecutor(t, wf)
	e.State.Steps["retry-me"] = &state.StepResult{Status: state.StepFailed}

	require.NoError(t, e.Execute(context.Background()))
	assert.Equal(t, state.StepCompleted, e.State.Steps["retry-me"].Status)
}

func TestExecuteSkipsStepWhenConditionFalse(t *testing.T) {
	wf := &workflow.Workflow{
		Version: "1.1",
		Context: map[string]interface{}{"flag": "no"},
		Steps: []workflow.Step{
			{
				Name:    "conditional",
				Command: []interface{}{"true"},
				When:    &workflow.WhenClause{Equals: map[string]string{"${context.flag}": "yes"}},
			},
		},
	}
	e := newExecutor(t, wf)
	require.NoError(t, e.Execute(context.Background()))
	assert.Equal(t, state.StepSkipped, e.State.Steps["conditional"].Status)
}

func TestExecuteForEachRunsNestedStepsPerItem(t *testing.T) {
	wf := &workflow.Workflow{
		Version: "1.1",
		Steps: []workflow.Step{
			{
				Name: "loop",
				ForEach: &workflow.ForEach{
					Items: []interface{}{"a", "b"},
					Steps: []workflow.Step{
						cmdStep("child", "true"),
					},
				},
			},
		},
	}
	e := newExecutor(t, wf)
	require.NoError(t, e.Execute(context.Background()))

	assert.Equal(t, state.StepCompleted, e.State.Steps["loop"].Status)
	assert.Equal(t, state.StepCompleted, e.State.Steps["loop[0].child"].Status)
	assert.Equal(t, state.StepCompleted, e.State.Steps["loop[1].child"].Status)
}

func TestExecuteForEachIsolatesStepsAcrossIterations(t *testing.T) {
	wf := &workflow.Workflow{
		Version: "1.1",
		Steps: []workflow.Step{
			{
				Name: "loop",
				ForEach: &workflow.ForEach{
					Items: []interface{}{"a", "b"},
					Steps: []workflow.Step{
						cmdStep("child", "true"),
						{
							Name:    "sees-sibling",
							Command: []interface{}{"true"},
							When:    &workflow.WhenClause{Equals: map[string]string{"${steps.child.lines}": "[]"}},
						},
					},
				},
			},
		},
	}
	e := newExecutor(t, wf)
	require.NoError(t, e.Execute(context.Background()))

	assert.Equal(t, state.StepCompleted, e.State.Steps["loop[0].sees-sibling"].Status)
	assert.Equal(t, state.StepCompleted, e.State.Steps["loop[1].sees-sibling"].Status)
}

func TestExecuteWaitForSucceedsWhenFileAlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ready.txt"), []byte("x"), 0o644))

	wf := &workflow.Workflow{
		Version: "1.1",
		Steps: []workflow.Step{
			{Name: "wait", WaitFor: &workflow.WaitForSpec{Pattern: "ready.txt", TimeoutSec: 1}},
		},
	}
	store, err := state.NewStore(dir)
	require.NoError(t, err)
	rs := &state.RunState{RunRoot: dir, Steps: map[string]*state.StepResult{}}
	e := New(wf, rs, store, dir, Options{}, nil)

	require.NoError(t, e.Execute(context.Background()))
	assert.Equal(t, state.StepCompleted, e.State.Steps["wait"].Status)
}

func TestExecuteUndefinedVariableFailsRun(t *testing.T) {
	wf := &workflow.Workflow{
		Version: "1.1",
		Steps: []workflow.Step{
			{Name: "broken", Command: []interface{}{"echo", "${context.missing}"}},
		},
	}
	e := newExecutor(t, wf)
	err := e.Execute(context.Background())
	assert.Error(t, err)
	assert.Equal(t, state.StatusFailed, e.State.Status)
}

func TestExecuteDebugWritesPromptAuditFile(t *testing.T) {
	wf := &workflow.Workflow{
		Version: "1.1",
		Providers: map[string]workflow.ProviderDecl{
			"echoer": {Command: []string{"printf", "${PROMPT}"}},
		},
		Steps: []workflow.Step{
			{Name: "ask", Provider: "echoer", Prompt: "hello"},
		},
	}
	dir := t.TempDir()
	store, err := state.NewStore(dir)
	require.NoError(t, err)
	rs := &state.RunState{RunRoot: dir, Steps: map[string]*state.StepResult{}}
	e := New(wf, rs, store, dir, Options{Debug: true}, nil)

	require.NoError(t, e.Execute(context.Background()))
	assert.FileExists(t, filepath.Join(dir, "logs", "ask.prompt.txt"))
}

func TestExecuteWithoutDebugSkipsPromptAuditFile(t *testing.T) {
	wf := &workflow.Workflow{
		Version: "1.1",
		Providers: map[string]workflow.ProviderDecl{
			"echoer": {Command: []string{"printf", "${PROMPT}"}},
		},
		Steps: []workflow.Step{
			{Name: "ask", Provider: "echoer", Prompt: "hello"},
		},
	}
	e := newExecutor(t, wf)
	require.NoError(t, e.Execute(context.Background()))
	_, err := os.Stat(filepath.Join(e.State.RunRoot, "logs", "ask.prompt.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecuteDebugEnablesStateBackups(t *testing.T) {
	wf := &workflow.Workflow{
		Version: "1.1",
		Steps: []workflow.Step{
			cmdStep("one", "true"),
			cmdStep("two", "true"),
		},
	}
	dir := t.TempDir()
	store, err := state.NewStore(dir)
	require.NoError(t, err)
	rs := &state.RunState{RunRoot: dir, Steps: map[string]*state.StepResult{}}
	e := New(wf, rs, store, dir, Options{Debug: true}, nil)

	require.NoError(t, e.Execute(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var backups int
	for _, ent := range entries {
		if filepath.Ext(ent.Name()) == ".bak" {
			backups++
		}
	}
	assert.Positive(t, backups)
}

func TestIndexOfStepReturnsMinusOneForUnknown(t *testing.T) {
	steps := []workflow.Step{{Name: "a"}, {Name: "b"}}
	assert.Equal(t, 1, indexOfStep(steps, "b"))
	assert.Equal(t, -1, indexOfStep(steps, "missing"))
}

func TestFailureStopsRunHonorsOnFailureHandler(t *testing.T) {
	e := &Executor{Workflow: &workflow.Workflow{}}
	step := workflow.Step{On: &workflow.OnHandlers{Failure: &workflow.Handler{Goto: "cleanup"}}}
	assert.False(t, e.failureStopsRun(step))
}

func TestFailureStopsRunDefaultsToStrict(t *testing.T) {
	e := &Executor{Workflow: &workflow.Workflow{}}
	assert.True(t, e.failureStopsRun(workflow.Step{}))
}

func TestMergeDebugCombinesBothMaps(t *testing.T) {
	existing := map[string]interface{}{"a": 1}
	incoming := map[string]interface{}{"b": 2}
	merged := mergeDebug(existing, incoming)
	assert.Equal(t, 1, merged["a"])
	assert.Equal(t, 2, merged["b"])
}
