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
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	orcherrors "github.com/hoidn/agent-orchestration/internal/orchestrator/errors"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/executor"
	orchlog "github.com/hoidn/agent-orchestration/internal/orchestrator/log"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/queue"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/runlifecycle"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/workflow"
)

type runFlags struct {
	contextPairs     []string
	contextFile      string
	cleanProcessed   bool
	archiveProcessed string
	dryRun           bool
	debug            bool
	backupState      bool
	onError          string
	maxRetries       int
	retryDelay       int
	quiet            bool
	verbose          bool
	logLevel         string
}

// NewRunCommand builds `orchestrate run <workflow-path>` (spec §6.1).
func NewRunCommand() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run <workflow-path>",
		Short: "Run a workflow from the beginning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd.Context(), args[0], f)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&f.contextPairs, "context", nil, "context variable as KEY=VALUE (repeatable)")
	flags.StringVar(&f.contextFile, "context-file", "", "path to a JSON object merged into context")
	flags.BoolVar(&f.cleanProcessed, "clean-processed", false, "empty the processed/ queue directory before running")
	flags.StringVar(&f.archiveProcessed, "archive-processed", "", "zip the processed/ queue directory to this destination before running")
	flags.BoolVar(&f.dryRun, "dry-run", false, "validate the workflow and exit without executing steps")
	flags.BoolVar(&f.debug, "debug", false, "write masked prompt audit files and verbose debug fields")
	flags.BoolVar(&f.backupState, "backup-state", false, "back up state.json before every state save (also enabled by --debug)")
	flags.StringVar(&f.onError, "on-error", "stop", "default control flow on an unhandled step failure: stop|continue")
	flags.IntVar(&f.maxRetries, "max-retries", 0, "run-level provider retry override (0 = use provider/workflow default)")
	flags.IntVar(&f.retryDelay, "retry-delay", 0, "delay between retries in milliseconds")
	flags.BoolVarP(&f.quiet, "quiet", "q", false, "suppress non-error output")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "enable verbose output")
	flags.StringVar(&f.logLevel, "log-level", "", "debug|info|warn|error (overrides ORCHESTRATE_LOG_LEVEL)")

	return cmd
}

func runWorkflow(ctx context.Context, path string, f runFlags) error {
	wf, errs := workflow.Load(path)
	if len(errs) > 0 {
		return orcherrors.NewValidationError(strings.Join(workflow.ErrorMessages(errs), "; "), nil)
	}
	if f.dryRun {
		return nil
	}

	workspace, err := os.Getwd()
	if err != nil {
		return orcherrors.NewExecutionError("resolving workspace", err, nil)
	}

	if f.cleanProcessed {
		if err := queue.CleanDirectory(workspace, "processed"); err != nil {
			return orcherrors.NewExecutionError("--clean-processed", err, nil)
		}
	}
	if f.archiveProcessed != "" {
		archivePath, err := queue.ArchiveDirectory(workspace, "processed")
		if err != nil {
			return orcherrors.NewExecutionError("--archive-processed", err, nil)
		}
		if err := os.Rename(archivePath, f.archiveProcessed); err != nil {
			return orcherrors.NewExecutionError("moving archive to destination", err, nil)
		}
	}

	ctxVars, err := buildContext(f.contextPairs, f.contextFile)
	if err != nil {
		return err
	}

	workflowBytes, err := os.ReadFile(path)
	if err != nil {
		return orcherrors.NewExecutionError("reading workflow file", err, nil)
	}

	mgr := runlifecycle.NewManager(workspace)
	rs, store, err := mgr.Create(path, workflowBytes, ctxVars)
	if err != nil {
		return err
	}

	logCfg := orchlog.FromEnv()
	if f.verbose {
		logCfg.Level = "debug"
	}
	if f.debug {
		logCfg.Level = "debug"
	}
	if f.logLevel != "" {
		logCfg.Level = f.logLevel
	}
	if f.quiet {
		logCfg.Level = "error"
	}
	logger := orchlog.New(logCfg)

	opts := executor.Options{
		OnErrorDefault: f.onError,
		RetryDelaySec:  float64(f.retryDelay) / 1000.0,
		DryRun:         f.dryRun,
		BackupState:    f.backupState,
		Debug:          f.debug,
	}
	if f.maxRetries > 0 {
		opts.MaxRetries = &f.maxRetries
	}

	eng := executor.New(wf, rs, store, workspace, opts, logger)
	return executeWithSignals(ctx, eng)
}

// executeWithSignals runs the executor, translating SIGINT/SIGTERM into
// a context cancellation so the engine records status=suspended instead
// of being killed mid-write, then exits 130 per spec §6.1's exit code
// table.
func executeWithSignals(ctx context.Context, eng *executor.Executor) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := eng.Execute(sigCtx)
	if sigCtx.Err() != nil {
		os.Exit(130)
	}
	return err
}

func buildContext(pairs []string, file string) (map[string]interface{}, error) {
	ctxVars := map[string]interface{}{}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, orcherrors.NewValidationError(fmt.Sprintf("reading --context-file: %v", err), nil)
		}
		if err := json.Unmarshal(data, &ctxVars); err != nil {
			return nil, orcherrors.NewValidationError(fmt.Sprintf("--context-file is not a JSON object: %v", err), nil)
		}
	}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, orcherrors.NewValidationError(fmt.Sprintf("--context %q is not KEY=VALUE", pair), nil)
		}
		ctxVars[k] = v
	}
	return ctxVars, nil
}
