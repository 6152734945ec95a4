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
	"path/filepath"
	"time"

	"github.com/hoidn/agent-orchestration/internal/orchestrator/capture"
	orcherrors "github.com/hoidn/agent-orchestration/internal/orchestrator/errors"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/execrunner"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/retry"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/variables"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/workflow"
)

func (e *Executor) executeCommand(ctx context.Context, step workflow.Step, ns variables.Namespaces) (*stepOutcome, error) {
	sub := variables.New(ns)

	// A single substitute() call over the whole command structure, not a
	// per-token loop: this is what makes undefined-variable accumulation
	// cover every token (SPEC_FULL.md decision 3), unlike the reference
	// implementation's per-token calls which stop at the first miss.
	substituted := sub.Substitute(step.Command)
	argv, err := commandToArgv(substituted)
	if err != nil {
		return nil, orcherrors.NewValidationError(err.Error(), map[string]interface{}{"step": step.Name})
	}

	if sub.HasUndefined() {
		return nil, orcherrors.NewUndefinedVariablesError(sub.UndefinedVars())
	}

	secretValues, err := e.Secrets.Resolve(step.Secrets, step.Env)
	if err != nil {
		return nil, err
	}

	env := composeEnv(secretValues, step.Env)
	dir := e.Workspace
	if step.Dir != "" {
		dir = filepath.Join(e.Workspace, step.Dir)
	}

	timeout := time.Duration(0)
	if step.TimeoutSec != nil {
		timeout = time.Duration(*step.TimeoutSec * float64(time.Second))
	}

	policy := retry.ForCommand(step.Retries, e.Options.RetryDelaySec)
	mode := captureModeFrom(step)

	var result *execrunner.Result
	attempt := 1
	for {
		started := time.Now()
		result = execrunner.Run(ctx, argv, dir, env, timeout)
		if !policy.ShouldRetry(attempt, result.ExitCode) {
			_ = started
			break
		}
		attempt++
		policy.Wait(ctx)
	}

	return e.finalizeCommandResult(step, result, mode)
}

func commandToArgv(v interface{}) ([]string, error) {
	switch x := v.(type) {
	case string:
		return execrunner.Tokenize(x)
	case []interface{}:
		out := make([]string, len(x))
		for i, item := range x {
			s, _ := item.(string)
			out[i] = s
		}
		return out, nil
	default:
		return nil, orcherrors.New("command must be a string or list of strings")
	}
}

func (e *Executor) finalizeCommandResult(step workflow.Step, res *execrunner.Result, mode capture.Mode) (*stepOutcome, error) {
	capResult := capture.Capture(mode, res.Stdout, capture.Options{AllowParseError: step.AllowParseError})

	if step.OutputFile != "" {
		_ = writeOutputFile(filepath.Join(e.Workspace, step.OutputFile), res.Stdout)
	}

	return e.buildStepResult(step, res.ExitCode, res.Duration, capResult, res.TimedOut, res.SpawnError)
}
