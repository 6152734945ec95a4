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
	"strings"

	"github.com/hoidn/agent-orchestration/internal/orchestrator/variables"
)

const promptPlaceholder = "${PROMPT}"

// escape markers used to hide ${PROMPT} from the general substitutor's
// own ${...} grammar, so it survives the first pass untouched.
const (
	escDollar = "\x00"
	escBrace  = "\x01{"
)

// Compose builds a provider invocation from a template and the final
// prompt text. Every non-PROMPT placeholder in command is substituted via
// sub; ${PROMPT} is masked out during that pass so it cannot be
// accidentally consumed, then restored unchanged. params is not
// consulted: command placeholders resolve only through sub's namespaces,
// not from the merged provider params. Replacing ${PROMPT} with the
// prompt text is InjectPrompt's job, so the injected prompt is never
// rescanned for placeholders of its own.
func Compose(t Template, params map[string]interface{}, prompt string, sub *variables.Substitutor) Invocation {
	argv := make([]string, len(t.Command))
	for i, tok := range t.Command {
		argv[i] = composeToken(tok, sub)
	}

	if t.InputMode == InputModeStdin {
		return Invocation{Argv: argv, Stdin: prompt, InputMode: InputModeStdin}
	}
	return Invocation{Argv: argv, InputMode: InputModeArgv}
}

func composeToken(tok string, sub *variables.Substitutor) string {
	protected := maskPrompt(tok)
	substituted := sub.Substitute(protected)
	str, _ := substituted.(string)
	return unmaskPrompt(str)
}

func maskPrompt(s string) string {
	if !strings.Contains(s, promptPlaceholder) {
		return s
	}
	return strings.ReplaceAll(s, promptPlaceholder, escDollar+escBrace+"PROMPT}")
}

func unmaskPrompt(s string) string {
	return strings.ReplaceAll(s, escDollar+escBrace+"PROMPT}", promptPlaceholder)
}

// InjectPrompt performs the literal, final, never-rescanned substitution
// of ${PROMPT} with the fully-composed prompt text (after dependency
// injection has already run). Called once argv has been through Compose.
func InjectPrompt(argv []string, prompt string) []string {
	out := make([]string, len(argv))
	for i, tok := range argv {
		out[i] = strings.ReplaceAll(tok, promptPlaceholder, prompt)
	}
	return out
}
