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

// Package conditions evaluates a step's `when` clause: exactly one of
// equals/exists/not_exists. equals and exists both treat an undefined
// substitution variable as a runtime false rather than an error; exists
// and not_exists treat a path-safety violation as a hard error. These are
// two different error-handling tiers within the same component, carried
// forward deliberately from original_source/orchestrator/workflow/conditions.py.
package conditions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hoidn/agent-orchestration/internal/orchestrator/pathsafety"
	"github.com/hoidn/agent-orchestration/internal/orchestrator/variables"
)

// When is the parsed form of a step's `when` clause.
type When struct {
	Equals    *EqualsClause
	Exists    string
	NotExists string
}

type EqualsClause struct {
	Left  string
	Right string
}

type Evaluator struct {
	Workspace string
}

func New(workspace string) *Evaluator {
	return &Evaluator{Workspace: workspace}
}

// Evaluate substitutes both operands (for equals) or the single path
// operand (for exists/not_exists) using sub, then applies the clause.
func (e *Evaluator) Evaluate(w When, sub *variables.Substitutor) (bool, error) {
	switch {
	case w.Equals != nil:
		return e.evaluateEquals(*w.Equals, sub), nil
	case w.Exists != "":
		return e.evaluateExists(w.Exists, sub, true)
	case w.NotExists != "":
		ok, err := e.evaluateExists(w.NotExists, sub, false)
		return ok, err
	default:
		return true, nil
	}
}

func (e *Evaluator) evaluateEquals(c EqualsClause, sub *variables.Substitutor) bool {
	left := sub.Substitute(c.Left)
	right := sub.Substitute(c.Right)
	// An undefined reference on either side resolves to a runtime false,
	// not an evaluator error -- the substitutor leaves the literal
	// "${...}" text in place and records the miss, so we detect it here
	// via HasUndefined rather than raising.
	if sub.HasUndefined() {
		return false
	}
	return e.toString(left) == e.toString(right)
}

func (e *Evaluator) evaluateExists(rawPath string, sub *variables.Substitutor, wantExists bool) (bool, error) {
	path := sub.Substitute(rawPath)
	pathStr := e.toString(path)

	if sub.HasUndefined() {
		return false, nil
	}

	if err := pathsafety.Check(pathStr); err != nil {
		return false, fmt.Errorf("when clause path safety violation: %w", err)
	}

	full := filepath.Join(e.Workspace, pathStr)
	resolved, err := filepath.EvalSymlinks(full)
	if err == nil {
		if verr := pathsafety.CheckResolved(e.Workspace, resolved); verr != nil {
			return false, fmt.Errorf("when clause path safety violation: %w", verr)
		}
	}

	_, statErr := os.Stat(full)
	exists := statErr == nil
	return exists == wantExists, nil
}

func (e *Evaluator) toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", x))
	}
}
