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

// Package pathsafety centralizes the workspace-escape checks shared by the
// Dependency Resolver and the Wait-For Poller: reject absolute paths,
// reject ".." traversal, and reject symlinks that resolve outside the
// workspace root.
//
// Two callers, two error-handling tiers (grounded in
// original_source/orchestrator/deps/resolver.py and fsq/wait.py): the
// Dependency Resolver raises hard on any violation, while the Wait-For
// Poller silently excludes an offending match from its result set. Both
// use the same Check/CheckResolved primitives below; callers choose
// whether to surface or swallow.
package pathsafety

import (
	"path/filepath"
	"strings"
)

// Check validates a workspace-relative pattern/path string before any
// filesystem I/O: no absolute paths, no ".." components.
func Check(relPath string) error {
	if filepath.IsAbs(relPath) {
		return &Violation{Path: relPath, Reason: "absolute path not allowed"}
	}
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if part == ".." {
			return &Violation{Path: relPath, Reason: "parent directory traversal not allowed"}
		}
	}
	return nil
}

// CheckResolved validates that a resolved (symlink-following) absolute
// path still falls under workspace. Used after glob expansion, where a
// symlink may point outside the sandbox even though the matched pattern
// itself was safe.
func CheckResolved(workspace, resolved string) error {
	workspace = filepath.Clean(workspace)
	resolved = filepath.Clean(resolved)
	rel, err := filepath.Rel(workspace, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return &Violation{Path: resolved, Reason: "symlink escapes workspace"}
	}
	return nil
}

// Violation is returned by Check/CheckResolved. Callers decide whether to
// propagate it as a hard error or to use it purely to filter a match out
// of a result set.
type Violation struct {
	Path   string
	Reason string
}

func (v *Violation) Error() string {
	return "path safety violation: " + v.Reason + ": " + v.Path
}
