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

// Package cli implements the orchestrator's two-command CLI surface
// (spec §6.1): `run` and `resume`. This binary has no distributed
// execution or multi-tenant server mode (spec §1's non-goals), so there
// is no daemon, controller, MCP, management, or interactive-setup surface
// here -- just the two commands spec.md names.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	orcherrors "github.com/hoidn/agent-orchestration/internal/orchestrator/errors"
)

var (
	version = "dev"
	commit  = "unknown"
)

// SetVersion records build-time version info (set from main via
// -ldflags).
func SetVersion(v, c string) {
	version, commit = v, c
}

// NewRootCommand creates the root Cobra command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "orchestrate",
		Short:   "Run declarative multi-step YAML workflows",
		Long:    `orchestrate executes a directed graph of steps described in a YAML workflow document, recording durable per-step state so interrupted runs can resume.`,
		Version: fmt.Sprintf("%s (%s)", version, commit),

		SilenceUsage:  true, // we print our own error lines
		SilenceErrors: true, // and pick the exit code ourselves
	}
	return cmd
}

// HandleExitError prints err and exits with the code spec §7's table
// assigns to its TypedError kind, or 1 for anything untyped.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	os.Exit(orcherrors.ExitCodeFor(err))
}
