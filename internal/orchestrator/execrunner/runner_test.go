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

package execrunner

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeSplitsOnWhitespace(t *testing.T) {
	toks, err := Tokenize("echo hello world")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hello", "world"}, toks)
}

func TestTokenizeSingleQuotesGroupLiteralToken(t *testing.T) {
	toks, err := Tokenize(`echo 'hello $VAR world'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hello $VAR world"}, toks)
}

func TestTokenizeDoubleQuotesAllowEscapes(t *testing.T) {
	toks, err := Tokenize(`echo "a \"quoted\" word"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", `a "quoted" word`}, toks)
}

func TestTokenizeBackslashEscapesNextChar(t *testing.T) {
	toks, err := Tokenize(`echo hello\ world`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hello world"}, toks)
}

func TestTokenizeMetacharactersAreLiteral(t *testing.T) {
	toks, err := Tokenize("echo a|b && c > d")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "a|b", "&&", "c", ">", "d"}, toks)
}

func TestTokenizeUnterminatedSingleQuoteErrors(t *testing.T) {
	_, err := Tokenize("echo 'unterminated")
	assert.Error(t, err)
}

func TestTokenizeUnterminatedDoubleQuoteErrors(t *testing.T) {
	_, err := Tokenize(`echo "unterminated`)
	assert.Error(t, err)
}

func TestTokenizeTrailingBackslashErrors(t *testing.T) {
	_, err := Tokenize(`echo hello\`)
	assert.Error(t, err)
}

func TestRunSuccessfulExit(t *testing.T) {
	res := Run(context.Background(), []string{"true"}, "", os.Environ(), 0)
	assert.Equal(t, 0, res.ExitCode)
	assert.NoError(t, res.SpawnError)
	assert.False(t, res.TimedOut)
}

func TestRunNonZeroExit(t *testing.T) {
	res := Run(context.Background(), []string{"false"}, "", os.Environ(), 0)
	assert.Equal(t, 1, res.ExitCode)
}

func TestRunCapturesStdout(t *testing.T) {
	res := Run(context.Background(), []string{"printf", "hello"}, "", os.Environ(), 0)
	assert.Equal(t, "hello", string(res.Stdout))
}

func TestRunSpawnErrorForMissingBinary(t *testing.T) {
	res := Run(context.Background(), []string{"definitely-not-a-real-binary-xyz"}, "", os.Environ(), 0)
	assert.Error(t, res.SpawnError)
	assert.Equal(t, 1, res.ExitCode)
}

func TestRunTimesOut(t *testing.T) {
	res := Run(context.Background(), []string{"sleep", "5"}, "", os.Environ(), 20*time.Millisecond)
	assert.True(t, res.TimedOut)
	assert.Equal(t, 124, res.ExitCode)
}

func TestRunWithStdinPipesInput(t *testing.T) {
	res := RunWithStdin(context.Background(), []string{"cat"}, "", os.Environ(), 0, "piped input")
	assert.Equal(t, "piped input", string(res.Stdout))
}

func TestRunEmptyArgvIsSpawnError(t *testing.T) {
	res := Run(context.Background(), nil, "", os.Environ(), 0)
	assert.Error(t, res.SpawnError)
	assert.Equal(t, 1, res.ExitCode)
}
