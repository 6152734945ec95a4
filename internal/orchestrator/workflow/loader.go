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

package workflow

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	orcherrors "github.com/hoidn/agent-orchestration/internal/orchestrator/errors"
)

var supportedVersions = map[string]bool{"1.1": true, "1.1.1": true}

// Load reads, parses, and validates a workflow file. Errors accumulate
// across every check before a *TypedError is raised, rather than
// stopping at the first problem -- the reference implementation
// (loader.py) reports the whole list in one shot, which is much friendlier
// for someone fixing a DSL file by hand.
//
// Decoding into a statically-typed Step/Workflow struct (instead of a
// generic map[string]interface{}) sidesteps the PyYAML-specific "on"/"off"
// boolean-coercion footgun the reference implementation works around with
// a custom SafeLoader subclass: yaml.v3 only applies implicit scalar
// resolution to values, never to keys matched against a known struct
// field tag, so `on:` always lands on the Step.On field regardless of its
// spelling.
func Load(path string) (*Workflow, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{orcherrors.NewValidationError(fmt.Sprintf("reading workflow file: %v", err), nil)}
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, []error{orcherrors.NewValidationError(fmt.Sprintf("parsing yaml: %v", err), nil)}
	}

	var errs []error
	validateTopLevel(raw, &errs)

	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		errs = append(errs, orcherrors.NewValidationError(fmt.Sprintf("decoding workflow: %v", err), nil))
		return nil, errs
	}

	v := &validator{wf: &wf}
	v.validate(&errs)

	if len(errs) > 0 {
		return nil, errs
	}
	return &wf, nil
}

var knownTopLevelFields = map[string]bool{
	"version": true, "strict_flow": true, "context": true,
	"providers": true, "secrets": true, "steps": true,
}

func validateTopLevel(raw map[string]interface{}, errs *[]error) {
	for k := range raw {
		if !knownTopLevelFields[k] {
			addError(errs, fmt.Sprintf("unknown top-level field %q", k), k)
		}
	}
	version, _ := raw["version"].(string)
	if !supportedVersions[version] {
		addError(errs, fmt.Sprintf("unsupported version %q (supported: 1.1, 1.1.1)", version), "version")
	}
}

type validator struct {
	wf        *Workflow
	stepNames map[string]bool
}

func (v *validator) validate(errs *[]error) {
	v.stepNames = map[string]bool{}
	v.validateProviders(errs)
	v.collectStepNames(v.wf.Steps, errs)
	v.validateSteps(v.wf.Steps, errs, true)
	v.validateGotoTargets(v.wf.Steps, errs)
	checkEnvVariablesAny(v.wf.Context, "context", errs)
}

func (v *validator) validateProviders(errs *[]error) {
	for name, decl := range v.wf.Providers {
		if decl.InputMode == "stdin" {
			for _, tok := range decl.Command {
				if strings.Contains(tok, "${PROMPT}") {
					addError(errs, fmt.Sprintf("provider %q: input_mode=stdin forbids ${PROMPT} in command", name), "providers."+name)
				}
			}
		}
	}
}

func (v *validator) collectStepNames(steps []Step, errs *[]error) {
	for _, s := range steps {
		if s.Name == "" {
			addError(errs, "step missing required 'name' field", "")
			continue
		}
		if v.stepNames[s.Name] {
			addError(errs, fmt.Sprintf("duplicate step name %q", s.Name), s.Name)
		}
		v.stepNames[s.Name] = true
		if s.ForEach != nil {
			v.collectStepNames(s.ForEach.Steps, errs)
		}
	}
}

func (v *validator) validateSteps(steps []Step, errs *[]error, topLevel bool) {
	for _, s := range steps {
		v.validateStepKind(s, errs)
		v.validateOn(s, errs)
		v.validateDependsOn(s, errs)
		for _, val := range s.Env {
			checkEnvVariablesAny(val, "steps."+s.Name+".env", errs)
		}

		if s.ForEach != nil {
			v.validateForEach(s, errs)
		}
	}
}

func (v *validator) validateStepKind(s Step, errs *[]error) {
	count := 0
	if s.Command != nil {
		count++
	}
	if s.Provider != "" {
		count++
	}
	if s.WaitFor != nil {
		count++
	}
	if s.ForEach != nil {
		count++
	}
	if count != 1 {
		addError(errs, fmt.Sprintf("step %q must declare exactly one of command/provider/wait_for/for_each", s.Name), s.Name)
	}
}

func (v *validator) validateForEach(s Step, errs *[]error) {
	fe := s.ForEach
	hasItems := len(fe.Items) > 0
	hasItemsFrom := fe.ItemsFrom != ""
	if hasItems == hasItemsFrom {
		addError(errs, fmt.Sprintf("for_each step %q must set exactly one of items/items_from", s.Name), s.Name)
	}
	if len(fe.Steps) == 0 {
		addError(errs, fmt.Sprintf("for_each step %q requires at least one nested step", s.Name), s.Name)
	}
	v.validateSteps(fe.Steps, errs, false)
}

func (v *validator) validateOn(s Step, errs *[]error) {
	if s.On == nil {
		return
	}
	for _, h := range []*Handler{s.On.Success, s.On.Failure, s.On.Always} {
		if h != nil && h.Goto == "" {
			addError(errs, fmt.Sprintf("step %q: on handler missing 'goto'", s.Name), s.Name)
		}
	}
}

func (v *validator) validateDependsOn(s Step, errs *[]error) {
	if s.DependsOn == nil || s.DependsOn.Inject.Bool == nil && s.DependsOn.Inject.Mode == "" {
		return
	}
	if v.wf.Version != "1.1.1" {
		addError(errs, fmt.Sprintf("step %q: depends_on.inject requires version 1.1.1", s.Name), s.Name)
	}
}

func (v *validator) validateGotoTargets(steps []Step, errs *[]error) {
	var walk func([]Step)
	walk = func(ss []Step) {
		for _, s := range ss {
			if s.On != nil {
				for _, h := range []*Handler{s.On.Success, s.On.Failure, s.On.Always} {
					if h == nil || h.Goto == "" || h.Goto == "_end" {
						continue
					}
					if !v.stepNames[h.Goto] {
						addError(errs, fmt.Sprintf("step %q: goto target %q not found", s.Name, h.Goto), s.Name)
					}
				}
			}
			if s.ForEach != nil {
				walk(s.ForEach.Steps)
			}
		}
	}
	walk(steps)
}

// checkEnvVariablesAny recursively rejects ${env.*} references wherever
// they appear in a str/list/dict value tree.
func checkEnvVariablesAny(value interface{}, context string, errs *[]error) {
	switch v := value.(type) {
	case string:
		if strings.Contains(v, "${env.") {
			addError(errs, fmt.Sprintf("%s: ${env.*} references are not allowed", context), context)
		}
	case []interface{}:
		for i, item := range v {
			checkEnvVariablesAny(item, fmt.Sprintf("%s[%d]", context, i), errs)
		}
	case map[string]interface{}:
		for k, item := range v {
			checkEnvVariablesAny(item, context+"."+k, errs)
		}
	}
}

func addError(errs *[]error, message, path string) {
	*errs = append(*errs, orcherrors.NewValidationError(message, map[string]interface{}{"path": path}))
}

// ErrorMessages flattens a []error from Load into sorted strings, for a
// CLI that wants a stable, testable rendering.
func ErrorMessages(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	sort.Strings(out)
	return out
}
