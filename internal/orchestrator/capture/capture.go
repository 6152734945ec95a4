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

// Package capture implements the three output-capture modes (text, lines,
// json) and their hard size caps, grounded in
// original_source/orchestrator/exec/output_capture.py.
package capture

import (
	"bytes"
	"encoding/json"
	"strings"
)

type Mode string

const (
	ModeText  Mode = "text"
	ModeLines Mode = "lines"
	ModeJSON  Mode = "json"
)

const (
	TextLimitBytes  = 8 * 1024
	LinesLimit      = 10_000
	JSONBufferLimit = 1024 * 1024
)

// Result is the capture outcome, shaped so ToStateDict mirrors the
// per-mode field-inclusion rules of StepResult (spec §3).
type Result struct {
	Mode      Mode
	Output    string // ModeText
	Lines     []string
	JSONValue interface{}
	HasJSON   bool
	Truncated bool
	Debug     map[string]interface{}
}

// ToStateDict returns only the fields relevant to Mode, matching the
// reference implementation's CaptureResult.to_state_dict.
func (r *Result) ToStateDict() map[string]interface{} {
	out := map[string]interface{}{}
	switch r.Mode {
	case ModeText:
		out["output"] = r.Output
	case ModeLines:
		out["lines"] = r.Lines
	case ModeJSON:
		if r.HasJSON {
			out["json"] = r.JSONValue
		} else {
			out["output"] = r.Output
		}
	}
	if r.Truncated {
		out["truncated"] = true
	}
	if len(r.Debug) > 0 {
		out["debug"] = r.Debug
	}
	return out
}

// Options controls json-mode behavior; AllowParseError lets a step
// succeed (exit 0) with a debug.json_parse_error annotation instead of
// raising JSONParseError when the buffered bytes don't parse as JSON.
type Options struct {
	AllowParseError bool
}

// Capture dispatches on mode. raw is the full, untruncated stdout the
// Subprocess Runner collected. Capture writes no files: the executor's
// callers copy the untruncated bytes to output_file when the step sets
// one, and nothing spills an overflowing stdout to a per-step log file.
func Capture(mode Mode, raw []byte, opts Options) *Result {
	switch mode {
	case ModeLines:
		return captureLines(raw)
	case ModeJSON:
		return captureJSON(raw, opts)
	default:
		return captureText(raw)
	}
}

func captureText(raw []byte) *Result {
	text, truncated := capText(raw)
	return &Result{Mode: ModeText, Output: text, Truncated: truncated}
}

// capText applies the text-mode size cap without committing to a Mode,
// reused by json-mode's degrade-to-text paths.
func capText(raw []byte) (string, bool) {
	if len(raw) <= TextLimitBytes {
		return string(raw), false
	}
	return string(raw[:TextLimitBytes]), true
}

func captureLines(raw []byte) *Result {
	text := string(raw)
	// Preserve the reference implementation's splitlines semantics: a
	// trailing newline does not produce a final empty element.
	text = strings.TrimSuffix(text, "\n")
	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}
	if len(lines) <= LinesLimit {
		return &Result{Mode: ModeLines, Lines: lines}
	}
	return &Result{Mode: ModeLines, Lines: lines[:LinesLimit], Truncated: true}
}

func captureJSON(raw []byte, opts Options) *Result {
	overflowed := len(raw) > JSONBufferLimit
	buf := raw
	if overflowed {
		buf = raw[:JSONBufferLimit]
	}

	var value interface{}
	dec := json.NewDecoder(bytes.NewReader(buf))
	err := dec.Decode(&value)

	switch {
	case err == nil && !overflowed:
		return &Result{Mode: ModeJSON, JSONValue: value, HasJSON: true}
	case err == nil && overflowed:
		// Parsed successfully against the truncated buffer but the raw
		// output exceeded the cap: still a truncation, not a parse error.
		return &Result{Mode: ModeJSON, JSONValue: value, HasJSON: true, Truncated: true}
	case overflowed && opts.AllowParseError:
		// Truncation almost certainly broke the JSON, but the step accepts
		// degrading to the raw (text-capped) output instead of failing.
		text, truncated := capText(raw)
		return &Result{
			Mode:      ModeJSON,
			Output:    text,
			Truncated: truncated,
			Debug:     map[string]interface{}{"json_overflow": true},
		}
	case overflowed:
		// Truncation almost certainly broke the JSON and the step has not
		// opted into allow_parse_error: a hard json_overflow error, not a
		// parse error, since the cause is size not malformed input.
		return &Result{
			Mode:      ModeJSON,
			Truncated: true,
			Debug:     map[string]interface{}{"json_overflow": true, "hard_error": true},
		}
	case opts.AllowParseError:
		text, truncated := capText(raw)
		return &Result{
			Mode:      ModeJSON,
			Output:    text,
			Truncated: truncated,
			Debug:     map[string]interface{}{"json_parse_error": err.Error()},
		}
	default:
		// Caller translates this into a hard JSONParseError (exit 2).
		return &Result{
			Mode:  ModeJSON,
			Debug: map[string]interface{}{"json_parse_error": err.Error(), "hard_error": true},
		}
	}
}
