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

package waitfor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitReturnsImmediatelyWhenAlreadySatisfied(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ready.txt"), []byte("x"), 0o644))

	res, err := Wait(context.Background(), Config{
		Workspace: dir, Pattern: "*.txt", MinCount: 1, TimeoutSec: 1, IntervalSec: 0.05,
	})
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assert.Equal(t, []string{filepath.Join(dir, "ready.txt")}, res.Files)
}

func TestWaitTimesOutWhenNeverSatisfied(t *testing.T) {
	dir := t.TempDir()

	res, err := Wait(context.Background(), Config{
		Workspace: dir, Pattern: "*.txt", MinCount: 1, TimeoutSec: 0.1, IntervalSec: 0.02,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Empty(t, res.Files)
}

func TestWaitSucceedsOnceFileAppearsDuringPolling(t *testing.T) {
	dir := t.TempDir()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "late.txt"), []byte("x"), 0o644)
	}()

	res, err := Wait(context.Background(), Config{
		Workspace: dir, Pattern: "*.txt", MinCount: 1, TimeoutSec: 2, IntervalSec: 0.02,
	})
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assert.Len(t, res.Files, 1)
}

func TestWaitRequiresMinCount(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.txt"), []byte("x"), 0o644))

	res, err := Wait(context.Background(), Config{
		Workspace: dir, Pattern: "*.txt", MinCount: 2, TimeoutSec: 0.1, IntervalSec: 0.02,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Len(t, res.Files, 1)
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := Wait(ctx, Config{
		Workspace: dir, Pattern: "*.txt", MinCount: 1, TimeoutSec: 5, IntervalSec: 1,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
}

func TestValidatePatternRejectsUnsafePath(t *testing.T) {
	assert.Error(t, ValidatePattern("../escape/*.txt"))
}

func TestValidatePatternSkipsUnresolvedTemplate(t *testing.T) {
	assert.NoError(t, ValidatePattern("${context.dir}/*.txt"))
}

func TestValidatePatternAllowsOrdinaryPattern(t *testing.T) {
	assert.NoError(t, ValidatePattern("artifacts/*.json"))
}
