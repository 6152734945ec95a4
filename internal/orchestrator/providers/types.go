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

import "fmt"

type InputMode string

const (
	InputModeArgv  InputMode = "argv"
	InputModeStdin InputMode = "stdin"
)

// Template is a named provider definition: built-in or declared in the
// workflow's `providers` map (workflow entries override built-ins of the
// same name).
type Template struct {
	Name      string
	Command   []string
	Defaults  map[string]interface{}
	InputMode InputMode
}

// Validate enforces the one cross-field invariant in spec §3: stdin mode
// forbids a literal ${PROMPT} placeholder in command, since the prompt is
// piped to stdin instead.
func (t Template) Validate() error {
	if t.InputMode == InputModeStdin {
		for _, tok := range t.Command {
			if containsPromptPlaceholder(tok) {
				return fmt.Errorf("provider %q: input_mode=stdin forbids ${PROMPT} in command", t.Name)
			}
		}
	}
	return nil
}

func containsPromptPlaceholder(s string) bool {
	for i := 0; i+9 <= len(s); i++ {
		if s[i:i+9] == "${PROMPT}" {
			return true
		}
	}
	return false
}

// Params is the deep-merged parameter set (defaults <- step params, step
// wins) passed to command-building.
type Params map[string]interface{}

// Invocation is a fully resolved provider call ready for the Subprocess
// Runner.
type Invocation struct {
	Argv      []string
	Stdin     string
	InputMode InputMode
}
