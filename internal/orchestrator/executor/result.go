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
	"os"
	"time"

	"github.com/hoidn/agent-orchestration/internal/orchestrator/capture"
	orcherrors "github.com/hoidn/agent-orchestration/internal/orchestrator/errors"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/state"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/workflow"
)

// buildStepResult turns a raw execution outcome (exit code, duration,
// capture result) into a persisted *state.StepResult and a stepOutcome
// used to drive control flow. A hard JSON parse failure (capture
// succeeded in producing bytes, but they don't parse and
// allow_parse_error is false) is surfaced as a typed error rather than a
// regular step failure, matching its exit-2 tier in spec §7's table.
func (e *Executor) buildStepResult(step workflow.Step, exitCode int, duration time.Duration, cap *capture.Result, timedOut bool, spawnErr error) (*stepOutcome, error) {
	if hard, _ := cap.Debug["hard_error"].(bool); hard {
		if overflow, _ := cap.Debug["json_overflow"].(bool); overflow {
			return nil, orcherrors.NewJSONOverflowError("json output exceeded the capture buffer limit", map[string]interface{}{"step": step.Name})
		}
		msg, _ := cap.Debug["json_parse_error"].(string)
		return nil, orcherrors.NewJSONParseError(msg, map[string]interface{}{"step": step.Name})
	}

	now := time.Now().UTC()
	started := now.Add(-duration)

	sr := &state.StepResult{
		ExitCode:    ptrInt(exitCode),
		StartedAt:   ptrTime(started),
		CompletedAt: ptrTime(now),
		DurationMs:  ptrInt64(durationMs(duration)),
		Truncated:   cap.Truncated,
	}

	switch cap.Mode {
	case capture.ModeText:
		sr.Output = e.Secrets.MaskText(cap.Output)
	case capture.ModeLines:
		masked := make([]string, len(cap.Lines))
		for i, l := range cap.Lines {
			masked[i] = e.Secrets.MaskText(l)
		}
		sr.Lines = masked
	case capture.ModeJSON:
		if cap.HasJSON {
			sr.JSON = e.Secrets.MaskValue(cap.JSONValue)
		} else {
			sr.Output = e.Secrets.MaskText(cap.Output)
		}
	}

	if len(cap.Debug) > 0 {
		sr.Debug = mergeDebug(sr.Debug, cap.Debug)
	}

	success := exitCode == 0
	if timedOut {
		success = false
		sr.Status = state.StepFailed
		sr.Error = &state.StepError{Type: string(orcherrors.KindTimeout), Message: "step timed out"}
	} else if spawnErr != nil {
		success = false
		sr.Status = state.StepFailed
		sr.Error = &state.StepError{Type: string(orcherrors.KindExecution), Message: spawnErr.Error()}
	} else if !success {
		sr.Status = state.StepFailed
		sr.Error = &state.StepError{Type: string(orcherrors.KindExecution), Message: "step exited non-zero", Context: map[string]interface{}{"exit_code": exitCode}}
	} else {
		sr.Status = state.StepCompleted
	}

	e.setStepResult(step.Name, sr)
	return &stepOutcome{success: success}, nil
}

// mergeDebug combines two debug maps rather than letting a later
// assignment overwrite an earlier one -- fixes the reference
// implementation's bug where injection-truncation debug info silently
// clobbered a json_parse_error key set moments earlier in the same step.
func mergeDebug(existing, incoming map[string]interface{}) map[string]interface{} {
	if existing == nil {
		existing = map[string]interface{}{}
	}
	for k, v := range incoming {
		existing[k] = v
	}
	return existing
}

func writeOutputFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
