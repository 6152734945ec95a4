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

// Package runlifecycle implements Run Lifecycle (spec §4's Run Lifecycle
// row and §6.3): minting run ids, creating a run's directory structure,
// and resuming, force-restarting, or repairing an existing run.
// Grounded in original_source/orchestrator/cli.py's run/resume command
// handlers and sdk/run.go's uuid-based run-id minting, adapted to the
// YYYYMMDDTHHMMSSZ-<6-char> shape spec §6.3 requires instead of a bare
// UUID.
package runlifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	orcherrors "github.com/hoidn/agent-orchestration/internal/orchestrator/errors"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/state"
)

const runsDirName = ".orchestrate/runs"

// NewRunID mints a run_id shaped YYYYMMDDTHHMMSSZ-xxxxxx, where the
// suffix is the first six characters of a fresh UUID's hex digits --
// already lowercase alphanumeric, so no further normalization is
// needed.
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405Z"), suffix)
}

// Manager owns the .orchestrate/runs/ directory under one workspace.
type Manager struct {
	Workspace string
}

func NewManager(workspace string) *Manager {
	return &Manager{Workspace: workspace}
}

func (m *Manager) runsRoot() string {
	return filepath.Join(m.Workspace, runsDirName)
}

func (m *Manager) runRoot(runID string) string {
	return filepath.Join(m.runsRoot(), runID)
}

// Create starts a brand-new run: mints a run_id, lays out
// <workspace>/.orchestrate/runs/<run_id>/{state.json,logs/}, and returns
// an initialized RunState, already saved to state.json, plus its Store.
func (m *Manager) Create(workflowPath string, workflowBytes []byte, ctxVars map[string]interface{}) (*state.RunState, *state.Store, error) {
	runID := NewRunID(time.Now())
	root := m.runRoot(runID)
	if err := os.MkdirAll(filepath.Join(root, "logs"), 0o755); err != nil {
		return nil, nil, orcherrors.NewExecutionError("creating run directory", err, nil)
	}

	store, err := state.NewStore(root)
	if err != nil {
		return nil, nil, err
	}

	abs, err := filepath.Abs(workflowPath)
	if err != nil {
		abs = workflowPath
	}

	rs := &state.RunState{
		SchemaVersion:    state.SchemaVersion,
		RunID:            runID,
		WorkflowFile:     abs,
		WorkflowChecksum: state.ChecksumWorkflow(workflowBytes),
		StartedAt:        time.Now().UTC(),
		Status:           state.StatusRunning,
		RunRoot:          root,
		Context:          ctxVars,
		Steps:            map[string]*state.StepResult{},
	}
	if err := store.Save(rs, "init"); err != nil {
		return nil, nil, err
	}
	return rs, store, nil
}

// ResumeOptions configures Resume's behavior for a --force-restart or
// --repair invocation.
type ResumeOptions struct {
	ForceRestart bool
	Repair       bool
}

// Peek loads a run's state document (repairing from backup first if
// asked) without performing the workflow-checksum check Resume
// enforces. The CLI layer uses this to recover WorkflowFile -- the path
// Resume itself needs bytes from -- before doing the real,
// checksum-verified resume.
func (m *Manager) Peek(runID string, repair bool) (*state.RunState, *state.Store, error) {
	root := m.runRoot(runID)
	if _, err := os.Stat(root); err != nil {
		return nil, nil, orcherrors.NewValidationError(fmt.Sprintf("no such run: %s", runID), nil)
	}

	store, err := state.NewStore(root)
	if err != nil {
		return nil, nil, err
	}

	rs, err := store.Load()
	if err != nil {
		if !repair {
			return nil, nil, orcherrors.NewExecutionError("loading run state", err, map[string]interface{}{"run_id": runID})
		}
		rs, err = store.AttemptRepair()
		if err != nil {
			return nil, nil, orcherrors.NewExecutionError("repair failed", err, map[string]interface{}{"run_id": runID})
		}
	}
	return rs, store, nil
}

// Resume loads an existing run by id. Without --force-restart, the
// workflow file on disk must still match the checksum recorded at
// create time (Invariant 1/3 in spec §3); a mismatch is a validation
// error (exit 2). --force-restart mints a brand-new run_id instead and
// leaves the old run directory untouched, per spec §9's stated Open
// Question resolution (no retention policy; stale run directories are
// not garbage collected). --repair restores state.json from its most
// recent backup before resuming when the live document is missing or
// corrupt.
func (m *Manager) Resume(runID, workflowPath string, workflowBytes []byte, opts ResumeOptions) (*state.RunState, *state.Store, error) {
	rs, store, err := m.Peek(runID, opts.Repair)
	if err != nil {
		return nil, nil, err
	}

	currentChecksum := state.ChecksumWorkflow(workflowBytes)
	if currentChecksum != rs.WorkflowChecksum {
		if !opts.ForceRestart {
			return nil, nil, orcherrors.NewValidationError(
				"workflow file has changed since this run started; use --force-restart to start a fresh run",
				map[string]interface{}{"run_id": runID, "recorded_checksum": rs.WorkflowChecksum, "current_checksum": currentChecksum},
			)
		}
		return m.Create(workflowPath, workflowBytes, rs.Context)
	}

	if rs.Status == state.StatusCompleted {
		// Resume idempotence: resuming a completed run is a no-op success.
		return rs, store, nil
	}

	rs.Status = state.StatusRunning
	if err := store.Save(rs, "resume"); err != nil {
		return nil, nil, err
	}
	return rs, store, nil
}

// IsCompleted reports whether Resume returned a run that needs no
// further execution (the idempotent-resume case).
func IsCompleted(rs *state.RunState) bool {
	return rs.Status == state.StatusCompleted
}

// Interrupted marks rs suspended in response to ctx cancellation and
// persists it, used by the CLI layer's signal handling.
func Interrupted(ctx context.Context, store *state.Store, rs *state.RunState) error {
	rs.Status = state.StatusSuspended
	return store.Save(rs, "interrupted")
}
