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

// Package workflow defines the workflow DSL's data model (spec §3) and
// the strict Loader/Validator (spec §4.14) that turns YAML into it.
package workflow

import (
	"gopkg.in/yaml.v3"

	"github.com/hoidn/agent-orchestration/internal/orchestrator/retry"
)

// Workflow is the parsed, pre-validation-checked top-level document.
type Workflow struct {
	Version     string                 `yaml:"version"`
	StrictFlow  *bool                  `yaml:"strict_flow"`
	Context     map[string]interface{} `yaml:"context"`
	Providers   map[string]ProviderDecl `yaml:"providers"`
	Secrets     []string               `yaml:"secrets"`
	Steps       []Step                 `yaml:"steps"`
}

func (w *Workflow) IsStrictFlow() bool {
	if w.StrictFlow == nil {
		return true
	}
	return *w.StrictFlow
}

// ProviderDecl is a workflow-declared provider template.
type ProviderDecl struct {
	Command   []string               `yaml:"command"`
	Defaults  map[string]interface{} `yaml:"defaults"`
	InputMode string                 `yaml:"input_mode"`
}

// OnHandlers is a step's `on` block.
type OnHandlers struct {
	Success *Handler `yaml:"success"`
	Failure *Handler `yaml:"failure"`
	Always  *Handler `yaml:"always"`
}

type Handler struct {
	Goto string `yaml:"goto"`
}

// WhenClause is the raw, not-yet-parsed `when` map; conditions.When is
// built from it at execution time once substitution context is known.
type WhenClause struct {
	Equals    map[string]string `yaml:"equals"`
	Exists    string            `yaml:"exists"`
	NotExists string            `yaml:"not_exists"`
}

// DependsOn is a step's dependency declaration.
type DependsOn struct {
	Required []string    `yaml:"required"`
	Optional []string    `yaml:"optional"`
	Inject   InjectSpec  `yaml:"inject"`
}

// InjectSpec accepts either the `inject: true` shorthand (Bool set,
// treated as list-mode/prepend with the default instruction) or the full
// map form.
type InjectSpec struct {
	Bool        *bool
	Mode        string
	Position    string
	Instruction string
}

// UnmarshalYAML accepts either the `inject: true` scalar shorthand or the
// full map form; a plain struct target can't take both on its own since
// yaml.v3 never coerces a scalar node into a mapping.
func (i *InjectSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var b bool
		if err := value.Decode(&b); err != nil {
			return err
		}
		i.Bool = &b
		return nil
	}

	var full struct {
		Mode        string `yaml:"mode"`
		Position    string `yaml:"position"`
		Instruction string `yaml:"instruction"`
	}
	if err := value.Decode(&full); err != nil {
		return err
	}
	i.Mode = full.Mode
	i.Position = full.Position
	i.Instruction = full.Instruction
	return nil
}

// ForEach is a loop step's body.
type ForEach struct {
	Items     []interface{} `yaml:"items"`
	ItemsFrom string         `yaml:"items_from"`
	As        string         `yaml:"as"`
	Steps     []Step         `yaml:"steps"`
}

func (f ForEach) AsName() string {
	if f.As == "" {
		return "item"
	}
	return f.As
}

// Step is the polymorphic per-step definition. Exactly one of
// Command/Provider/WaitFor/ForEach is set; the loader enforces that
// mutual exclusivity.
type Step struct {
	Name       string                 `yaml:"name"`
	When       *WhenClause            `yaml:"when"`
	On         *OnHandlers            `yaml:"on"`
	Env        map[string]string      `yaml:"env"`
	Secrets    []string               `yaml:"secrets"`
	TimeoutSec *float64               `yaml:"timeout_sec"`
	// Retries accepts either `retries: 2` or `retries: {max: 2, delay_ms:
	// 500}`; see retry.Spec.UnmarshalYAML.
	Retries *retry.Spec `yaml:"retries"`

	Command interface{} `yaml:"command"` // string or []string
	Dir     string      `yaml:"dir"`

	Provider        string                 `yaml:"provider"`
	ProviderParams  map[string]interface{} `yaml:"provider_params"`
	Prompt          string                 `yaml:"prompt"`
	InputFile       string                 `yaml:"input_file"`
	OutputFile      string                 `yaml:"output_file"`
	DependsOn       *DependsOn             `yaml:"depends_on"`
	MaxRetries      *int                   `yaml:"max_retries"`

	WaitFor *WaitForSpec `yaml:"wait_for"`

	ForEach *ForEach `yaml:"for_each"`

	CaptureMode     string `yaml:"capture"`
	AllowParseError bool   `yaml:"allow_parse_error"`
}

type WaitForSpec struct {
	Pattern     string  `yaml:"pattern"`
	MinCount    int     `yaml:"min_count"`
	TimeoutSec  float64 `yaml:"timeout_sec"`
	IntervalSec float64 `yaml:"interval_sec"`
}
