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

// Package state implements the Run State document: its shape (spec §3)
// and the durable store (spec §4.13) -- atomic persist, backup rotation,
// and repair. Grounded in original_source/orchestrator/state.py.
package state

import "time"

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSuspended Status = "suspended"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// RunState is the full persisted document for one run. Invariant 2 (spec
// §3): Steps is a flat map; loop children are addressed by the
// "Parent[i].Child" key shape, never nested maps-of-maps.
type RunState struct {
	SchemaVersion     int                    `json:"schema_version"`
	RunID             string                 `json:"run_id"`
	WorkflowFile      string                 `json:"workflow_file"`
	WorkflowChecksum  string                 `json:"workflow_checksum"`
	StartedAt         time.Time              `json:"started_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
	Status            Status                 `json:"status"`
	RunRoot           string                 `json:"run_root"`
	Context           map[string]interface{} `json:"context"`
	Steps             map[string]*StepResult `json:"steps"`
	ForEach           map[string][]interface{} `json:"for_each,omitempty"`
}

// StepError captures the error{type,message,context} shape every failed
// StepResult carries, per spec §7's propagation policy.
type StepError struct {
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// StepResult is one step's persisted outcome.
type StepResult struct {
	Status      StepStatus `json:"status"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty"`

	Output string      `json:"output,omitempty"`
	Lines  []string    `json:"lines,omitempty"`
	JSON   interface{} `json:"json,omitempty"`

	Truncated bool                   `json:"truncated,omitempty"`
	Error     *StepError             `json:"error,omitempty"`
	Debug     map[string]interface{} `json:"debug,omitempty"`

	// wait_for-specific.
	Files        []string `json:"files,omitempty"`
	WaitDuration *int64   `json:"wait_duration_ms,omitempty"`
	PollCount    *int     `json:"poll_count,omitempty"`
	TimedOut     bool     `json:"timed_out,omitempty"`
}

// IsTerminal reports whether Status represents a result that resume
// should never re-run.
func (s *StepResult) IsTerminal() bool {
	return s.Status == StepCompleted || s.Status == StepSkipped
}
