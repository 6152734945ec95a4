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

package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	orcherrors "github.com/hoidn/agent-orchestration/internal/orchestrator/errors"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/executor"
	orchlog "github.com/hoidn/agent-orchestration/internal/orchestrator/log"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/runlifecycle"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/workflow"
)

type resumeFlags struct {
	repair       bool
	forceRestart bool
	debug        bool
	backupState  bool
}

// NewResumeCommand builds `orchestrate resume <run-id>` (spec §6.1).
func NewResumeCommand() *cobra.Command {
	var f resumeFlags

	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a suspended or partially completed run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resumeRun(cmd.Context(), args[0], f)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&f.repair, "repair", false, "restore state.json from its most recent backup before resuming")
	flags.BoolVar(&f.forceRestart, "force-restart", false, "mint a fresh run if the workflow file has changed since the run started")
	flags.BoolVar(&f.debug, "debug", false, "write masked prompt audit files and verbose debug fields")
	flags.BoolVar(&f.backupState, "backup-state", false, "back up state.json before every state save (also enabled by --debug)")

	return cmd
}

func resumeRun(ctx context.Context, runID string, f resumeFlags) error {
	workspace, err := os.Getwd()
	if err != nil {
		return orcherrors.NewExecutionError("resolving workspace", err, nil)
	}

	mgr := runlifecycle.NewManager(workspace)

	// The run's own state document names the workflow file it was
	// started from; peek at it (skipping the checksum check) to recover
	// that path before the real, checksum-verified Resume call.
	probe, _, err := mgr.Peek(runID, f.repair)
	if err != nil {
		return err
	}

	workflowBytes, err := os.ReadFile(probe.WorkflowFile)
	if err != nil {
		return orcherrors.NewExecutionError("reading workflow file recorded for this run", err, map[string]interface{}{"run_id": runID})
	}

	rs, store, err := mgr.Resume(runID, probe.WorkflowFile, workflowBytes, runlifecycle.ResumeOptions{
		ForceRestart: f.forceRestart,
		Repair:       f.repair,
	})
	if err != nil {
		return err
	}

	if runlifecycle.IsCompleted(rs) {
		return nil
	}

	wf, errs := workflow.Load(probe.WorkflowFile)
	if len(errs) > 0 {
		return orcherrors.NewValidationError(workflow.ErrorMessages(errs)[0], nil)
	}

	logCfg := orchlog.FromEnv()
	if f.debug {
		logCfg.Level = "debug"
	}
	logger := orchlog.New(logCfg)

	opts := executor.Options{BackupState: f.backupState, Debug: f.debug}
	eng := executor.New(wf, rs, store, workspace, opts, logger)
	return executeWithSignals(ctx, eng)
}
