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

// Package pointers implements the `steps.<Name>.lines` / `steps.<Name>.json[.path...]`
// grammar used by the Variable Substitutor to reach into prior step results.
//
// Grounded in original_source/orchestrator/workflow/pointers.py; the JSON
// path walk is delegated to github.com/itchyny/gojq instead of hand-rolled
// map indexing, with error text shaped to match the reference
// implementation's wording.
package pointers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
)

// StepView is the minimal shape of a persisted step result the resolver
// needs: the captured text form (for `.lines`) and the captured JSON form
// (for `.json[...]`).
type StepView struct {
	Status string
	Lines  []string
	JSON   interface{}
	HasJSON bool
}

// Resolver resolves `steps.<Name>...` pointers against a snapshot of step
// results. The snapshot is supplied by the caller so that loop-scoped
// substitution can pass an iteration-local view instead of the whole
// run's steps.
type Resolver struct {
	Steps map[string]StepView
}

func New(steps map[string]StepView) *Resolver {
	return &Resolver{Steps: steps}
}

// Resolve evaluates a pointer path without the leading "steps." prefix:
// callers strip it and pass the dotted path starting at the step name,
// e.g. "Build.lines" or "Fetch.json.items.0.id".
func (r *Resolver) Resolve(path string) (interface{}, error) {
	segments := strings.Split(path, ".")
	if len(segments) < 2 {
		return nil, fmt.Errorf("invalid step pointer %q: expected <step>.<lines|json>[...]", path)
	}

	stepName := segments[0]
	if strings.ContainsAny(stepName, "[]") {
		return nil, fmt.Errorf("invalid step pointer %q: loop-iteration names cannot be referenced directly, use the 'item'/'loop' namespace inside the loop body", path)
	}

	view, ok := r.Steps[stepName]
	if !ok {
		return nil, fmt.Errorf("unknown step %q referenced by pointer %q", stepName, path)
	}

	switch segments[1] {
	case "lines":
		if len(segments) > 2 {
			idx, err := strconv.Atoi(segments[2])
			if err != nil {
				return nil, fmt.Errorf("invalid line index %q in pointer %q", segments[2], path)
			}
			if idx < 0 || idx >= len(view.Lines) {
				return nil, fmt.Errorf("line index %d out of range for step %q (%d lines captured)", idx, stepName, len(view.Lines))
			}
			return view.Lines[idx], nil
		}
		return view.Lines, nil
	case "json":
		if !view.HasJSON {
			return nil, fmt.Errorf("step %q has no captured json output", stepName)
		}
		if len(segments) == 2 {
			return view.JSON, nil
		}
		return resolveJSONPath(view.JSON, segments[2:], path)
	default:
		return nil, fmt.Errorf("invalid step pointer %q: second segment must be 'lines' or 'json'", path)
	}
}

// ResolveSafe is a variant returning (value, ok, err): ok is false
// whenever err is set, for every kind of failure alike ("not found" is
// not told apart from other errors).
func (r *Resolver) ResolveSafe(path string) (interface{}, bool, error) {
	v, err := r.Resolve(path)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func resolveJSONPath(root interface{}, segments []string, fullPath string) (interface{}, error) {
	query := "."
	for i, seg := range segments {
		if strings.ContainsAny(seg, "[]") {
			return nil, fmt.Errorf("invalid step pointer %q: loop-iteration brackets are not valid in a json path segment", fullPath)
		}
		if _, err := strconv.Atoi(seg); err == nil {
			query += fmt.Sprintf("[%s]", seg)
		} else {
			if i > 0 {
				query += "."
			}
			query += seg
		}
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("invalid json path %q in pointer %q: %w", strings.Join(segments, "."), fullPath, err)
	}

	iter := parsed.Run(root)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("json path %q not found for pointer %q", strings.Join(segments, "."), fullPath)
	}
	if err, isErr := v.(error); isErr {
		if strings.Contains(err.Error(), "cannot index") || strings.Contains(err.Error(), "has no keys") {
			return nil, fmt.Errorf("pointer %q: is not an object at %q", fullPath, strings.Join(segments, "."))
		}
		return nil, fmt.Errorf("pointer %q: missing key at %q: %w", fullPath, strings.Join(segments, "."), err)
	}
	return v, nil
}
