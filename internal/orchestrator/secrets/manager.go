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

// Package secrets resolves declared secret names against the process
// environment, composes step-level overrides, and masks resolved values
// out of any text before it is persisted to state or logs.
//
// Grounded in original_source/orchestrator/security/secrets.py and the
// teacher's pkg/secrets masking helper.
package secrets

import (
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	orcherrors "github.com/hoidn/agent-orchestration/internal/orchestrator/errors"
)

// Manager resolves and masks secrets for one run. The masked-value
// registry is the one piece of deliberately confined global-ish mutable
// state in the engine (spec §9's design note): it only ever grows for the
// lifetime of a run and is never read back except to build the mask
// regex.
type Manager struct {
	mu     sync.RWMutex
	values map[string]string // declared name -> resolved value
	lookup func(string) (string, bool)
}

// New creates a Manager. lookup defaults to os.LookupEnv; tests may
// substitute a fake.
func New() *Manager {
	return &Manager{
		values: map[string]string{},
		lookup: os.LookupEnv,
	}
}

// Resolve implements the Secrets Manager's four-step algorithm:
//  1. For every declared name, look it up in the process environment. An
//     empty string counts as present.
//  2. Apply any step-level env override for that name (also tracked for
//     masking, since the override value must never leak either).
//  3. Collect every name that resolved to nothing into a missing list.
//  4. If anything is missing, return a *MissingSecretsError (exit 2)
//     carrying the full sorted list; otherwise return the resolved map
//     ready to merge into the subprocess environment.
func (m *Manager) Resolve(declared []string, stepEnv map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(declared))
	var missing []string

	for _, name := range declared {
		if override, ok := stepEnv[name]; ok {
			resolved[name] = override
			m.track(name, override)
			continue
		}
		if value, ok := m.lookup(name); ok {
			resolved[name] = value
			m.track(name, value)
			continue
		}
		missing = append(missing, name)
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, orcherrors.NewMissingSecretsError(missing)
	}
	return resolved, nil
}

func (m *Manager) track(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value != "" {
		m.values[name] = value
	}
}

// MaskText replaces every previously-resolved secret value found in text
// with "***". Values are sorted longest-first so that a short secret that
// happens to be a substring of a longer one never partially unmasks it.
func (m *Manager) MaskText(text string) string {
	m.mu.RLock()
	values := make([]string, 0, len(m.values))
	for _, v := range m.values {
		if v != "" {
			values = append(values, v)
		}
	}
	m.mu.RUnlock()

	if len(values) == 0 {
		return text
	}

	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })

	var pattern strings.Builder
	for i, v := range values {
		if i > 0 {
			pattern.WriteByte('|')
		}
		pattern.WriteString(regexp.QuoteMeta(v))
	}
	re := regexp.MustCompile(pattern.String())
	return re.ReplaceAllString(text, "***")
}

// MaskValue recursively masks every string found within an arbitrary
// value tree (used before a StepResult is persisted to state.json).
func (m *Manager) MaskValue(v interface{}) interface{} {
	switch x := v.(type) {
	case string:
		return m.MaskText(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = m.MaskValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, item := range x {
			out[k] = m.MaskValue(item)
		}
		return out
	default:
		return v
	}
}

// ClearMaskedValues resets the registry, for callers that want to
// validate secret declarations without enlarging the mask set.
func (m *Manager) ClearMaskedValues() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = map[string]string{}
}
