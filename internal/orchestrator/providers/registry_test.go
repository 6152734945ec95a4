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

package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistrySeedsBuiltins(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Exists("claude"))
	assert.True(t, r.Exists("gemini"))
	assert.True(t, r.Exists("codex"))
	assert.False(t, r.Exists("unknown"))
}

func TestRegisterFromWorkflowOverridesBuiltin(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterFromWorkflow(Template{Name: "claude", Command: []string{"claude", "--custom", "${PROMPT}"}})
	require.NoError(t, err)

	tpl, ok := r.Get("claude")
	require.True(t, ok)
	assert.Equal(t, []string{"claude", "--custom", "${PROMPT}"}, tpl.Command)
}

func TestRegisterFromWorkflowAddsNewProvider(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterFromWorkflow(Template{Name: "custom", Command: []string{"custom-bin", "${PROMPT}"}})
	require.NoError(t, err)
	assert.True(t, r.Exists("custom"))
}

func TestRegisterFromWorkflowRejectsStdinWithPromptInCommand(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterFromWorkflow(Template{
		Name:      "broken",
		Command:   []string{"broken-bin", "${PROMPT}"},
		InputMode: InputModeStdin,
	})
	assert.Error(t, err)
}

func TestValidateAllowsStdinWithoutPromptPlaceholder(t *testing.T) {
	tpl := Template{Name: "ok", Command: []string{"ok-bin"}, InputMode: InputModeStdin}
	assert.NoError(t, tpl.Validate())
}

func TestListReturnsAllNames(t *testing.T) {
	r := NewRegistry()
	names := r.List()
	assert.Contains(t, names, "claude")
	assert.Contains(t, names, "gemini")
	assert.Contains(t, names, "codex")
}

func TestMergeParamsStepWinsOnScalarConflict(t *testing.T) {
	defaults := map[string]interface{}{"model": "default-model", "timeout": 30}
	step := map[string]interface{}{"model": "custom-model"}
	merged := MergeParams(defaults, step)
	assert.Equal(t, "custom-model", merged["model"])
	assert.Equal(t, 30, merged["timeout"])
}

func TestMergeParamsDeepMergesNestedMaps(t *testing.T) {
	defaults := map[string]interface{}{
		"opts": map[string]interface{}{"a": 1, "b": 2},
	}
	step := map[string]interface{}{
		"opts": map[string]interface{}{"b": 99},
	}
	merged := MergeParams(defaults, step)
	opts := merged["opts"].(map[string]interface{})
	assert.Equal(t, 1, opts["a"])
	assert.Equal(t, 99, opts["b"])
}

func TestMergeParamsDoesNotMutateInputs(t *testing.T) {
	defaults := map[string]interface{}{"a": map[string]interface{}{"x": 1}}
	step := map[string]interface{}{"a": map[string]interface{}{"x": 2}}
	_ = MergeParams(defaults, step)
	assert.Equal(t, 1, defaults["a"].(map[string]interface{})["x"])
	assert.Equal(t, 2, step["a"].(map[string]interface{})["x"])
}

func TestMergeParamsScalarOverridesMapWholesale(t *testing.T) {
	defaults := map[string]interface{}{"opts": map[string]interface{}{"a": 1}}
	step := map[string]interface{}{"opts": "now-a-string"}
	merged := MergeParams(defaults, step)
	assert.Equal(t, "now-a-string", merged["opts"])
}

func TestErrUnknownProviderMessage(t *testing.T) {
	err := &ErrUnknownProvider{Name: "ghost"}
	assert.Contains(t, err.Error(), "ghost")
}
