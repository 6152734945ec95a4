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

// Package variables implements the `${ns.path}` substitution language:
// namespaces run/context/loop/item/steps, the `$$` escape for a literal
// `$`, and a full accumulation of every unresolved reference across one
// substitution pass (see SPEC_FULL.md's Open Question decision 3 -- this
// intentionally diverges from the Python reference's per-recursive-call
// reset of its undefined-variable accumulator).
//
// Grounded in original_source/orchestrator/variables/substitution.py.
package variables

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hoidn/agent-orchestration/internal/orchestrator/pointers"
)

var placeholderPattern = regexp.MustCompile(`\$\$|\$\{([^}]*)\}`)

// Namespaces holds the values addressable by ${ns...} during one
// substitution call. Steps is resolved through a pointers.Resolver so the
// executor can hand in an iteration-scoped view for loop isolation.
type Namespaces struct {
	Run     map[string]interface{}
	Context map[string]interface{}
	Loop    map[string]interface{}
	Item    interface{}
	Steps   *pointers.Resolver
}

// Substitutor performs one substitution pass over an arbitrary value tree
// (string, []interface{}, map[string]interface{}, or scalar) and records
// every `${...}` reference it could not resolve.
type Substitutor struct {
	ns       Namespaces
	undefined map[string]struct{}
}

func New(ns Namespaces) *Substitutor {
	return &Substitutor{ns: ns, undefined: map[string]struct{}{}}
}

// Substitute walks value recursively and returns the substituted result.
// Substitution is non-recursive at the text level: a value produced by
// resolving one placeholder is never rescanned for further placeholders.
// Call UndefinedVars() afterward for the full, sorted list of references
// that could not be resolved anywhere in the tree.
func (s *Substitutor) Substitute(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return s.substituteString(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = s.Substitute(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = s.Substitute(item)
		}
		return out
	default:
		return value
	}
}

// UndefinedVars returns every unresolved reference seen across all calls
// to Substitute on this Substitutor instance, sorted for deterministic
// error reporting.
func (s *Substitutor) UndefinedVars() []string {
	out := make([]string, 0, len(s.undefined))
	for k := range s.undefined {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// HasUndefined reports whether any reference failed to resolve so far.
func (s *Substitutor) HasUndefined() bool {
	return len(s.undefined) > 0
}

func (s *Substitutor) substituteString(input string) string {
	var sb strings.Builder
	last := 0
	for _, loc := range placeholderPattern.FindAllStringSubmatchIndex(input, -1) {
		sb.WriteString(input[last:loc[0]])
		last = loc[1]

		matched := input[loc[0]:loc[1]]
		if matched == "$$" {
			sb.WriteString("$")
			continue
		}

		ref := input[loc[2]:loc[3]]
		resolved, ok := s.resolveRef(ref)
		if !ok {
			s.undefined[ref] = struct{}{}
			sb.WriteString(matched)
			continue
		}
		sb.WriteString(stringify(resolved))
	}
	sb.WriteString(input[last:])
	return sb.String()
}

func (s *Substitutor) resolveRef(ref string) (interface{}, bool) {
	ref = strings.TrimSpace(ref)
	parts := strings.SplitN(ref, ".", 2)
	ns := parts[0]

	switch ns {
	case "run":
		if len(parts) == 1 {
			return s.ns.Run, s.ns.Run != nil
		}
		return lookupPath(s.ns.Run, parts[1])
	case "context":
		if len(parts) == 1 {
			return s.ns.Context, s.ns.Context != nil
		}
		return lookupPath(s.ns.Context, parts[1])
	case "loop":
		if len(parts) == 1 {
			return s.ns.Loop, s.ns.Loop != nil
		}
		return lookupPath(s.ns.Loop, parts[1])
	case "item":
		if len(parts) == 1 {
			return s.ns.Item, s.ns.Item != nil
		}
		return lookupPathAny(s.ns.Item, parts[1])
	case "steps":
		if len(parts) == 1 || s.ns.Steps == nil {
			return nil, false
		}
		v, err := s.ns.Steps.Resolve(parts[1])
		if err != nil {
			return nil, false
		}
		return v, true
	case "env":
		// ${env.*} is rejected at load time; at substitution time we
		// simply never resolve it, which the loader's validation pass
		// prevents from ever reaching here.
		return nil, false
	default:
		return nil, false
	}
}

func lookupPath(m map[string]interface{}, path string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	return lookupPathAny(m, path)
}

func lookupPathAny(root interface{}, path string) (interface{}, bool) {
	cur := root
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]interface{}:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		default:
			return nil, false
		}
	}
	return cur, true
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}
