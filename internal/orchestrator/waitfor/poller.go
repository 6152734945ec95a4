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

// Package waitfor implements the blocking glob poller used by `wait_for`
// steps: poll, filter path-safety violations out of the match set
// (rather than raising, unlike the Dependency Resolver's hard-raise
// tier), sleep, repeat until min_count matches or the timeout elapses.
//
// fsnotify is layered in purely as a wake-up optimization -- an event on
// the watched directory short-circuits the sleep early -- the
// poll/check/sleep contract itself stays deterministic and the fsnotify
// watcher is optional (its absence, e.g. on an unsupported filesystem,
// just falls back to plain interval polling).
//
// Grounded in original_source/orchestrator/fsq/wait.py.
package waitfor

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/hoidn/agent-orchestration/internal/orchestrator/pathsafety"
)

type Config struct {
	Workspace    string
	Pattern      string
	MinCount     int
	TimeoutSec   float64
	IntervalSec  float64
}

type Result struct {
	Files        []string
	WaitDuration time.Duration
	PollCount    int
	TimedOut     bool
}

// Wait blocks until MinCount files matching Pattern appear under
// Workspace, or TimeoutSec elapses. Pattern is not substituted here --
// the caller substitutes variables before calling Wait, since a pattern
// that still contains "${" is, per the reference implementation, not yet
// safe to validate and must be resolved first.
func Wait(ctx context.Context, cfg Config) (Result, error) {
	start := time.Now()
	deadline := start.Add(time.Duration(cfg.TimeoutSec * float64(time.Second)))
	interval := time.Duration(cfg.IntervalSec * float64(time.Second))

	watcher := newOptionalWatcher(cfg.Workspace)
	if watcher != nil {
		defer watcher.Close()
	}

	pollCount := 0
	for {
		pollCount++
		matches, err := findMatching(cfg.Workspace, cfg.Pattern)
		if err != nil {
			return Result{}, err
		}
		if len(matches) >= cfg.MinCount {
			duration := time.Since(start)
			if duration <= 0 {
				duration = time.Millisecond
			}
			return Result{Files: matches, WaitDuration: duration, PollCount: pollCount}, nil
		}

		now := time.Now()
		if now.After(deadline) || now.Equal(deadline) {
			return Result{Files: matches, WaitDuration: time.Since(start), PollCount: pollCount, TimedOut: true}, nil
		}

		sleepFor := interval
		if remaining := deadline.Sub(now); remaining < sleepFor {
			sleepFor = remaining
		}
		if sleepFor <= 0 {
			continue
		}

		if !sleepOrWake(ctx, watcher, sleepFor) {
			return Result{Files: matches, WaitDuration: time.Since(start), PollCount: pollCount, TimedOut: true}, nil
		}
	}
}

func newOptionalWatcher(workspace string) *fsnotify.Watcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	if err := w.Add(workspace); err != nil {
		w.Close()
		return nil
	}
	return w
}

func sleepOrWake(ctx context.Context, watcher *fsnotify.Watcher, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var events chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-events:
		return true
	}
}

// findMatching expands pattern under workspace, silently excluding any
// match that is a path-safety violation (absolute pattern segments are
// already rejected before this is called; here we're filtering resolved
// symlink targets) -- the softer of the two safety-enforcement tiers,
// preserving the as-seen match path rather than its resolved form.
func findMatching(workspace, pattern string) ([]string, error) {
	full := filepath.Join(workspace, pattern)
	matches, err := doublestar.FilepathGlob(full)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, m := range matches {
		resolved, err := filepath.EvalSymlinks(m)
		if err != nil {
			resolved = m
		}
		if verr := pathsafety.CheckResolved(workspace, resolved); verr != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// ValidatePattern checks a (already-substituted) pattern for path-safety
// violations before polling begins. A pattern that still contains "${"
// is skipped -- deferred to runtime the same way the reference
// implementation defers loader-time checks on unresolved patterns.
func ValidatePattern(pattern string) error {
	if strings.Contains(pattern, "${") {
		return nil
	}
	return pathsafety.Check(pattern)
}
