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

package capture

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureTextUnderLimit(t *testing.T) {
	r := Capture(ModeText, []byte("hello world"), Options{})
	assert.Equal(t, "hello world", r.Output)
	assert.False(t, r.Truncated)
	assert.Equal(t, map[string]interface{}{"output": "hello world"}, r.ToStateDict())
}

func TestCaptureTextOverLimitTruncates(t *testing.T) {
	raw := bytes.Repeat([]byte("a"), TextLimitBytes+100)
	r := Capture(ModeText, raw, Options{})
	assert.True(t, r.Truncated)
	assert.Len(t, r.Output, TextLimitBytes)
	assert.Equal(t, true, r.ToStateDict()["truncated"])
}

func TestCaptureLinesSplitsAndDropsTrailingNewline(t *testing.T) {
	r := Capture(ModeLines, []byte("first\nsecond\nthird\n"), Options{})
	assert.Equal(t, []string{"first", "second", "third"}, r.Lines)
	assert.False(t, r.Truncated)
}

func TestCaptureLinesEmptyInput(t *testing.T) {
	r := Capture(ModeLines, []byte(""), Options{})
	assert.Empty(t, r.Lines)
}

func TestCaptureLinesOverLimitTruncates(t *testing.T) {
	lines := make([]string, LinesLimit+5)
	for i := range lines {
		lines[i] = "x"
	}
	raw := []byte(strings.Join(lines, "\n"))
	r := Capture(ModeLines, raw, Options{})
	assert.Len(t, r.Lines, LinesLimit)
	assert.True(t, r.Truncated)
}

func TestCaptureJSONValid(t *testing.T) {
	r := Capture(ModeJSON, []byte(`{"a":1,"b":[1,2,3]}`), Options{})
	require.True(t, r.HasJSON)
	assert.False(t, r.Truncated)
	m, ok := r.JSONValue.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), m["a"])
}

func TestCaptureJSONParseErrorSoft(t *testing.T) {
	r := Capture(ModeJSON, []byte("not json"), Options{AllowParseError: true})
	assert.False(t, r.HasJSON)
	assert.NotEmpty(t, r.Debug["json_parse_error"])
	assert.Nil(t, r.Debug["hard_error"])
}

func TestCaptureJSONParseErrorHard(t *testing.T) {
	r := Capture(ModeJSON, []byte("not json"), Options{AllowParseError: false})
	assert.False(t, r.HasJSON)
	assert.Equal(t, true, r.Debug["hard_error"])
}

func TestCaptureJSONOverflowCutStringIsTruncated(t *testing.T) {
	inner := strings.Repeat("a", JSONBufferLimit)
	raw := []byte(`"` + inner + `"`)
	r := Capture(ModeJSON, raw, Options{})
	assert.True(t, r.Truncated)
}

func TestCaptureJSONOverflowUnparseable(t *testing.T) {
	raw := []byte("[" + strings.Repeat("1,", JSONBufferLimit))
	r := Capture(ModeJSON, raw, Options{})
	assert.True(t, r.Truncated)
	assert.False(t, r.HasJSON)
	assert.Equal(t, true, r.Debug["json_overflow"])
}

func TestToStateDictOmitsJSONWhenAbsent(t *testing.T) {
	r := Capture(ModeJSON, []byte("not json"), Options{AllowParseError: true})
	dict := r.ToStateDict()
	_, hasJSON := dict["json"]
	assert.False(t, hasJSON)
	assert.NotEmpty(t, dict["debug"])
}

func TestDefaultModeIsText(t *testing.T) {
	r := Capture(Mode("unknown"), []byte("abc"), Options{})
	assert.Equal(t, ModeText, r.Mode)
	assert.Equal(t, "abc", r.Output)
}
