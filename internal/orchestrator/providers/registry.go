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

// Package providers holds the Provider Registry & Composer: built-in
// provider templates, workflow-declared overrides, parameter deep-merge,
// and the two-pass command-placeholder substitution that keeps ${PROMPT}
// literal until the very last step. Grounded in
// original_source/orchestrator/providers/{registry,executor}.py.
package providers

import "fmt"

// Registry holds built-in providers plus any the workflow declares,
// which override a built-in of the same name.
type Registry struct {
	templates map[string]Template
}

// NewRegistry returns a registry seeded with the three built-ins the
// reference implementation ships.
func NewRegistry() *Registry {
	r := &Registry{templates: map[string]Template{}}
	for _, t := range builtins() {
		r.templates[t.Name] = t
	}
	return r
}

func builtins() []Template {
	return []Template{
		{
			Name:      "claude",
			Command:   []string{"claude", "-p", "${PROMPT}"},
			Defaults:  map[string]interface{}{},
			InputMode: InputModeArgv,
		},
		{
			Name:      "gemini",
			Command:   []string{"gemini", "-p", "${PROMPT}"},
			Defaults:  map[string]interface{}{},
			InputMode: InputModeArgv,
		},
		{
			Name:      "codex",
			Command:   []string{"codex", "exec", "${PROMPT}"},
			Defaults:  map[string]interface{}{},
			InputMode: InputModeArgv,
		},
	}
}

// RegisterFromWorkflow installs a provider declared in the workflow's
// `providers` map. A workflow provider with the same name as a built-in
// replaces it entirely (no merge of command arrays).
func (r *Registry) RegisterFromWorkflow(t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.templates[t.Name] = t
	return nil
}

func (r *Registry) Get(name string) (Template, bool) {
	t, ok := r.templates[name]
	return t, ok
}

func (r *Registry) Exists(name string) bool {
	_, ok := r.templates[name]
	return ok
}

func (r *Registry) List() []string {
	out := make([]string, 0, len(r.templates))
	for name := range r.templates {
		out = append(out, name)
	}
	return out
}

// MergeParams deep-merges step params over the template defaults; the
// step wins on conflict, and the merge recurses only when both sides are
// maps (a map overriding a scalar, or vice versa, just takes the step's
// value wholesale).
func MergeParams(defaults map[string]interface{}, step map[string]interface{}) map[string]interface{} {
	out := deepCopyMap(defaults)
	return deepMerge(out, step)
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return x
	}
}

func deepMerge(base, override map[string]interface{}) map[string]interface{} {
	for k, v := range override {
		if baseMap, baseIsMap := base[k].(map[string]interface{}); baseIsMap {
			if overrideMap, overrideIsMap := v.(map[string]interface{}); overrideIsMap {
				base[k] = deepMerge(deepCopyMap(baseMap), overrideMap)
				continue
			}
		}
		base[k] = deepCopyValue(v)
	}
	return base
}

// ErrUnknownProvider is returned when a step names a provider the
// registry has neither as a built-in nor a workflow declaration.
type ErrUnknownProvider struct {
	Name string
}

func (e *ErrUnknownProvider) Error() string {
	return fmt.Sprintf("unknown provider %q", e.Name)
}
