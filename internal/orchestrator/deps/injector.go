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

package deps

import (
	"fmt"
	"os"
	"strings"
)

// MaxInjectionSize caps the total bytes a dependency injection may add to
// a prompt, regardless of mode.
const MaxInjectionSize = 256 * 1024

type InjectMode string

const (
	InjectModeList    InjectMode = "list"
	InjectModeContent InjectMode = "content"
	InjectModeNone    InjectMode = "none"
)

type InjectPosition string

const (
	PositionPrepend InjectPosition = "prepend"
	PositionAppend  InjectPosition = "append"
)

type InjectConfig struct {
	Mode        InjectMode
	Position    InjectPosition
	Instruction string
}

// InjectionResult is the text to splice into the prompt plus bookkeeping
// surfaced through the step's debug.injection fields (spec §4.9).
type InjectionResult struct {
	Text           string
	TotalSize      int
	ShownSize      int
	FilesShown     []string
	FilesTruncated []string
	FilesOmitted   int
}

// ToDebug renders the bookkeeping into debug.injection's required shape.
func (r InjectionResult) ToDebug() map[string]interface{} {
	return map[string]interface{}{
		"total_size":      r.TotalSize,
		"shown_size":      r.ShownSize,
		"files_shown":     r.FilesShown,
		"files_truncated": r.FilesTruncated,
		"files_omitted":   r.FilesOmitted,
	}
}

// Injector formats a Resolution's file list into prompt text.
type Injector struct {
	Workspace string
}

func NewInjector(workspace string) *Injector {
	return &Injector{Workspace: workspace}
}

// Inject builds the injection text for cfg.Mode. cfg.Mode == none returns
// an empty result (the caller skips injection entirely in that case).
func (inj *Injector) Inject(cfg InjectConfig, res Resolution) InjectionResult {
	if cfg.Mode == InjectModeNone {
		return InjectionResult{}
	}

	instruction := cfg.Instruction
	if instruction == "" {
		instruction = defaultInstruction(cfg.Mode)
	}

	switch cfg.Mode {
	case InjectModeList:
		return inj.listInjection(instruction, res)
	case InjectModeContent:
		return inj.contentInjection(instruction, res)
	default:
		return InjectionResult{}
	}
}

func defaultInstruction(mode InjectMode) string {
	if mode == InjectModeContent {
		return "The following files are relevant to this task:"
	}
	return "The following files are available:"
}

func (inj *Injector) listInjection(instruction string, res Resolution) InjectionResult {
	files := res.Files()
	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n")

	totalSize := sb.Len()
	for _, f := range files {
		totalSize += len(fmt.Sprintf("  - %s\n", f))
	}

	var shown []string
	omitted := 0
	for i, f := range files {
		line := fmt.Sprintf("  - %s\n", f)
		if sb.Len()+len(line) > MaxInjectionSize {
			omitted = len(files) - i
			break
		}
		sb.WriteString(line)
		shown = append(shown, f)
	}

	return InjectionResult{
		Text:         sb.String(),
		TotalSize:    totalSize,
		ShownSize:    sb.Len(),
		FilesShown:   shown,
		FilesOmitted: omitted,
	}
}

func (inj *Injector) contentInjection(instruction string, res Resolution) InjectionResult {
	files := res.Files()
	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n\n")

	totalSize := sb.Len()
	var shown []string
	var truncatedFiles []string
	omitted := 0

	for i, f := range files {
		data, err := os.ReadFile(inj.Workspace + string(os.PathSeparator) + f)
		if err != nil {
			continue
		}
		totalSize += len(data)

		// Reserve space using the full byte count; the header shrinks by a
		// few digits once truncated, but that slack isn't worth a second
		// pass to reclaim.
		headerEstimate := fmt.Sprintf("=== File: %s (%d/%d bytes) ===\n", f, len(data), len(data))
		remaining := MaxInjectionSize - sb.Len() - len(headerEstimate)
		if remaining <= 0 {
			omitted = len(files) - i
			break
		}

		content := data
		truncatedMarker := ""
		if len(content) > remaining {
			content = content[:remaining]
			truncatedMarker = "\n... (truncated)"
		}

		// A remainder smaller than 100 bytes after truncation isn't worth
		// appending as a dangling fragment; omit the whole file instead.
		if len(content) < 100 && len(content) < len(data) {
			omitted++
			continue
		}

		header := fmt.Sprintf("=== File: %s (%d/%d bytes) ===\n", f, len(content), len(data))
		sb.WriteString(header)
		sb.Write(content)
		sb.WriteString(truncatedMarker)
		sb.WriteString("\n\n")
		shown = append(shown, f)

		if len(content) < len(data) {
			truncatedFiles = append(truncatedFiles, f)
			omitted = len(files) - i - 1
			break
		}
	}

	return InjectionResult{
		Text:           sb.String(),
		TotalSize:      totalSize,
		ShownSize:      sb.Len(),
		FilesShown:     shown,
		FilesTruncated: truncatedFiles,
		FilesOmitted:   omitted,
	}
}
