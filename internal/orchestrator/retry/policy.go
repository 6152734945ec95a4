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

// Package retry implements the retry state machine: exit codes {1, 124}
// are retryable, providers default to max_retries=1 unless the run
// overrides it, and commands only retry when the step declares an
// explicit `retries` field. Grounded in
// original_source/orchestrator/exec/retry.py.
package retry

import (
	"context"
	"time"

	"gopkg.in/yaml.v3"
)

// retryableExitCodes are the only exit codes a Policy ever retries.
// Invocation-preparation failures (missing placeholder, missing secret,
// bad pointer) never reach this table because they fail before a
// subprocess is even spawned.
var retryableExitCodes = map[int]bool{1: true, 124: true}

type Policy struct {
	MaxRetries int
	DelaySec   float64
}

// ForProvider builds the policy for a provider step: 1 retry (2
// attempts) unless the given override replaces it.
func ForProvider(runMaxRetries *int, delaySec float64) Policy {
	max := 1
	if runMaxRetries != nil {
		max = *runMaxRetries
	}
	return Policy{MaxRetries: max, DelaySec: delaySec}
}

// Spec is a step's `retries` declaration, accepting either the bare
// int shorthand (`retries: 2`) or the map form (`retries: {max: 2,
// delay_ms: 500}`) that also overrides the run's retry delay.
type Spec struct {
	Max     *int
	DelayMs *int
}

// UnmarshalYAML accepts either the scalar shorthand or the full map
// form; a plain struct target can't take both since yaml.v3 never
// coerces a scalar node into a mapping.
func (s *Spec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var n int
		if err := value.Decode(&n); err != nil {
			return err
		}
		s.Max = &n
		return nil
	}

	var full struct {
		Max     *int `yaml:"max"`
		DelayMs *int `yaml:"delay_ms"`
	}
	if err := value.Decode(&full); err != nil {
		return err
	}
	s.Max = full.Max
	s.DelayMs = full.DelayMs
	return nil
}

// ForCommand builds the policy for a command step: retries only happen
// if the step declares an explicit `retries` field. A map-form
// delay_ms overrides the run's default retry delay.
func ForCommand(spec *Spec, delaySec float64) Policy {
	if spec == nil || spec.Max == nil {
		return Policy{MaxRetries: 0, DelaySec: delaySec}
	}
	if spec.DelayMs != nil {
		delaySec = float64(*spec.DelayMs) / 1000.0
	}
	return Policy{MaxRetries: *spec.Max, DelaySec: delaySec}
}

// ShouldRetry reports whether attempt (1-indexed) having produced
// exitCode should be retried.
func (p Policy) ShouldRetry(attempt, exitCode int) bool {
	if attempt > p.MaxRetries {
		return false
	}
	return retryableExitCodes[exitCode]
}

// Wait sleeps the configured delay, respecting cancellation.
func (p Policy) Wait(ctx context.Context) {
	if p.DelaySec <= 0 {
		return
	}
	select {
	case <-time.After(time.Duration(p.DelaySec * float64(time.Second))):
	case <-ctx.Done():
	}
}

// Attempts returns the total number of attempts (initial + retries).
func (p Policy) Attempts() int {
	return p.MaxRetries + 1
}
