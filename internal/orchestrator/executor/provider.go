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
	"time"

	"github.com/hoidn/agent-orchestration/internal/orchestrator/capture"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/deps"
	orcherrors "github.com/hoidn/agent-orchestration/internal/orchestrator/errors"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/execrunner"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/providers"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/retry"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/variables"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/workflow"
)

func (e *Executor) executeProvider(ctx context.Context, step workflow.Step, ns variables.Namespaces) (*stepOutcome, error) {
	template, ok := e.Registry.Get(step.Provider)
	if !ok {
		return nil, &providers.ErrUnknownProvider{Name: step.Provider}
	}

	sub := variables.New(ns)

	// provider_params substitution uses the same scoped namespaces as
	// command substitution (ns, built by the caller with the
	// iteration-local steps view when inside a for_each), unlike the
	// reference implementation's _create_provider_context, which reused
	// the full unscoped state.
	substitutedParams, _ := sub.Substitute(map[string]interface{}(step.ProviderParams)).(map[string]interface{})
	if sub.HasUndefined() {
		return nil, orcherrors.NewUndefinedVariablesError(sub.UndefinedVars())
	}

	mergedParams := providers.MergeParams(template.Defaults, substitutedParams)

	prompt, injectionDebug, err := e.buildPrompt(step, sub, mergedParams)
	if err != nil {
		return nil, err
	}
	if sub.HasUndefined() {
		return nil, orcherrors.NewUndefinedVariablesError(sub.UndefinedVars())
	}

	invocation := providers.Compose(template, mergedParams, prompt, sub)
	invocation.Argv = providers.InjectPrompt(invocation.Argv, prompt)

	// Exactly one prompt-audit write per provider step, written only when
	// debug is enabled, after the prompt (and any dependency injection) is
	// fully finalized -- the reference implementation writes this twice
	// when depends_on is present.
	if e.Options.Debug {
		e.writePromptAudit(step.Name, prompt)
	}

	secretValues, err := e.Secrets.Resolve(step.Secrets, step.Env)
	if err != nil {
		return nil, err
	}
	env := composeEnv(secretValues, step.Env)

	timeout := time.Duration(0)
	if step.TimeoutSec != nil {
		timeout = time.Duration(*step.TimeoutSec * float64(time.Second))
	}

	policy := retry.ForProvider(e.providerMaxRetries(step), e.Options.RetryDelaySec)
	mode := captureModeFrom(step)
	if step.CaptureMode == "" {
		mode = capture.ModeText
	}

	var result *execrunner.Result
	attempt := 1
	for {
		if invocation.InputMode == providers.InputModeStdin {
			result = runWithStdin(ctx, invocation.Argv, invocation.Stdin, e.Workspace, env, timeout)
		} else {
			result = execrunner.Run(ctx, invocation.Argv, e.Workspace, env, timeout)
		}
		if !policy.ShouldRetry(attempt, result.ExitCode) {
			break
		}
		attempt++
		policy.Wait(ctx)
	}

	if step.OutputFile != "" {
		_ = writeOutputFile(filepath.Join(e.Workspace, step.OutputFile), result.Stdout)
	}

	capResult := capture.Capture(mode, result.Stdout, capture.Options{AllowParseError: step.AllowParseError})
	if injectionDebug != nil {
		capResult.Debug = mergeDebug(capResult.Debug, map[string]interface{}{"injection": injectionDebug})
	}
	return e.buildStepResult(step, result.ExitCode, result.Duration, capResult, result.TimedOut, result.SpawnError)
}

func (e *Executor) providerMaxRetries(step workflow.Step) *int {
	if step.MaxRetries != nil {
		return step.MaxRetries
	}
	return e.Options.MaxRetries
}

// buildPrompt assembles the final prompt text: either the literal
// contents of input_file (never substituted -- a file meant to be
// injected verbatim) or the substituted `prompt` field, with any
// dependency injection text prepended/appended.
func (e *Executor) buildPrompt(step workflow.Step, sub *variables.Substitutor, mergedParams map[string]interface{}) (string, map[string]interface{}, error) {
	var prompt string
	if step.InputFile != "" {
		data, err := os.ReadFile(filepath.Join(e.Workspace, step.InputFile))
		if err != nil {
			return "", nil, orcherrors.NewExecutionError("reading input_file", err, map[string]interface{}{"step": step.Name})
		}
		prompt = string(data)
	} else {
		substituted := sub.Substitute(step.Prompt)
		prompt, _ = substituted.(string)
	}

	if step.DependsOn == nil {
		return prompt, nil, nil
	}

	resolver := deps.NewResolver(e.Workspace)
	resolution, err := resolver.Resolve(step.DependsOn.Required, step.DependsOn.Optional, sub)
	if err != nil {
		return "", nil, err
	}
	if !resolution.IsValid() {
		return "", nil, orcherrors.NewDependencyValidationError(resolution.MissingRequired)
	}

	cfg := injectConfigFrom(*step.DependsOn)
	if cfg.Mode == deps.InjectModeNone {
		return prompt, nil, nil
	}

	injector := deps.NewInjector(e.Workspace)
	injection := injector.Inject(cfg, resolution)
	debug := injection.ToDebug()

	if cfg.Position == deps.PositionPrepend {
		return injection.Text + "\n" + prompt, debug, nil
	}
	return prompt + "\n" + injection.Text, debug, nil
}

func injectConfigFrom(d workflow.DependsOn) deps.InjectConfig {
	if d.Inject.Bool != nil {
		if !*d.Inject.Bool {
			return deps.InjectConfig{Mode: deps.InjectModeNone}
		}
		return deps.InjectConfig{Mode: deps.InjectModeList, Position: deps.PositionPrepend}
	}
	mode := deps.InjectMode(d.Inject.Mode)
	if mode == "" {
		mode = deps.InjectModeNone
	}
	position := deps.InjectPosition(d.Inject.Position)
	if position == "" {
		position = deps.PositionPrepend
	}
	return deps.InjectConfig{Mode: mode, Position: position, Instruction: d.Inject.Instruction}
}

func (e *Executor) writePromptAudit(stepName, prompt string) {
	dir := stepLogDir(e.Workspace, e.State.RunRoot, stepName)
	_ = os.MkdirAll(dir, 0o755)
	masked := e.Secrets.MaskText(prompt)
	_ = os.WriteFile(filepath.Join(dir, stepName+".prompt.txt"), []byte(masked), 0o644)
}

func runWithStdin(ctx context.Context, argv []string, stdin, dir string, env []string, timeout time.Duration) *execrunner.Result {
	// Reuses execrunner.Run's process-management semantics; stdin mode
	// just means the prompt travels on stdin instead of argv, so we pipe
	// it in via a temp approach identical in spirit to the reference
	// implementation's subprocess.run(input=...).
	return execrunner.RunWithStdin(ctx, argv, dir, env, timeout, stdin)
}
