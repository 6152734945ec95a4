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

// Package deps implements the Dependency Resolver (glob expansion +
// validation) and the Dependency Injector (prompt-injection formatting).
// Grounded in original_source/orchestrator/deps/{resolver,injector}.py.
//
// Pattern substitution here goes through the same variables.Substitutor used everywhere else in
// the engine rather than the Python reference's separate, simpler
// string.replace-based mechanism -- a unification the Go port makes
// deliberately since spec §4.8 does not call for two substitution tiers.
package deps

import (
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	orcherrors "github.com/hoidn/agent-orchestration/internal/orchestrator/errors"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/pathsafety"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/variables"
)

// Resolution is the outcome of resolving one step's depends_on block.
type Resolution struct {
	RequiredFiles  []string
	OptionalFiles  []string
	MissingRequired []string
	PatternsUsed   map[string][]string
}

func (r Resolution) IsValid() bool { return len(r.MissingRequired) == 0 }

// Files returns every resolved file (required + optional) in
// deterministic lexicographic order.
func (r Resolution) Files() []string {
	all := append(append([]string{}, r.RequiredFiles...), r.OptionalFiles...)
	sort.Strings(all)
	return all
}

// Resolver resolves depends_on patterns against a workspace root.
type Resolver struct {
	Workspace string
}

func NewResolver(workspace string) *Resolver {
	return &Resolver{Workspace: workspace}
}

// Resolve expands required/optional glob patterns (after variable
// substitution) relative to the workspace, enforcing path safety on both
// the pattern text and every resolved symlink target. Missing required
// patterns are collected, not raised immediately -- the caller decides
// whether to turn a non-empty MissingRequired into a hard
// DependencyValidationError (exit 2).
func (r *Resolver) Resolve(required, optional []string, sub *variables.Substitutor) (Resolution, error) {
	reqFiles, reqPatterns, missing, err := r.resolvePatterns(required, sub, true)
	if err != nil {
		return Resolution{}, err
	}
	optFiles, optPatterns, _, err := r.resolvePatterns(optional, sub, false)
	if err != nil {
		return Resolution{}, err
	}

	patternsUsed := map[string][]string{}
	for k, v := range reqPatterns {
		patternsUsed[k] = v
	}
	for k, v := range optPatterns {
		patternsUsed[k] = v
	}

	return Resolution{
		RequiredFiles:   reqFiles,
		OptionalFiles:   optFiles,
		MissingRequired: missing,
		PatternsUsed:    patternsUsed,
	}, nil
}

func (r *Resolver) resolvePatterns(patterns []string, sub *variables.Substitutor, required bool) ([]string, map[string][]string, []string, error) {
	var allFiles []string
	patternsUsed := map[string][]string{}
	var missing []string

	for _, pattern := range patterns {
		expanded, _ := sub.Substitute(pattern).(string)

		if err := pathsafety.Check(expanded); err != nil {
			return nil, nil, nil, orcherrors.NewPathSafetyError(err.Error(), map[string]interface{}{"pattern": expanded})
		}

		fullPattern := filepath.Join(r.Workspace, expanded)
		matches, err := doublestar.FilepathGlob(fullPattern)
		if err != nil {
			return nil, nil, nil, orcherrors.NewDependencyValidationError([]string{expanded})
		}

		var relMatches []string
		for _, match := range matches {
			resolved, err := filepath.EvalSymlinks(match)
			if err != nil {
				resolved = match
			}
			if verr := pathsafety.CheckResolved(r.Workspace, resolved); verr != nil {
				return nil, nil, nil, orcherrors.NewPathSafetyError(verr.Error(), map[string]interface{}{"pattern": expanded, "match": match})
			}
			rel, err := filepath.Rel(r.Workspace, resolved)
			if err != nil {
				return nil, nil, nil, orcherrors.NewPathSafetyError("resolved path outside workspace", map[string]interface{}{"match": match})
			}
			relMatches = append(relMatches, rel)
		}
		sort.Strings(relMatches)

		if len(relMatches) > 0 {
			allFiles = append(allFiles, relMatches...)
			patternsUsed[expanded] = relMatches
		} else if required {
			missing = append(missing, expanded)
		}
	}

	return dedupe(allFiles), patternsUsed, missing, nil
}

func dedupe(files []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range files {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
