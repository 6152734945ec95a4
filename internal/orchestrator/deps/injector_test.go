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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInjectModeNoneReturnsEmpty(t *testing.T) {
	inj := NewInjector(t.TempDir())
	res := inj.Inject(InjectConfig{Mode: InjectModeNone}, Resolution{RequiredFiles: []string{"a.txt"}})
	assert.Empty(t, res.Text)
}

func TestInjectListModeIncludesFileNames(t *testing.T) {
	inj := NewInjector(t.TempDir())
	res := inj.Inject(InjectConfig{Mode: InjectModeList}, Resolution{RequiredFiles: []string{"a.txt", "b.txt"}})
	assert.Contains(t, res.Text, "  - a.txt")
	assert.Contains(t, res.Text, "  - b.txt")
	assert.Contains(t, res.Text, "The following files are available:")
	assert.Equal(t, []string{"a.txt", "b.txt"}, res.FilesShown)
	assert.Zero(t, res.FilesOmitted)
}

func TestInjectListModeDebugBookkeeping(t *testing.T) {
	inj := NewInjector(t.TempDir())
	res := inj.Inject(InjectConfig{Mode: InjectModeList}, Resolution{RequiredFiles: []string{"a.txt"}})
	debug := res.ToDebug()
	assert.Equal(t, res.TotalSize, debug["total_size"])
	assert.Equal(t, res.ShownSize, debug["shown_size"])
	assert.Equal(t, []string{"a.txt"}, debug["files_shown"])
	assert.Equal(t, 0, debug["files_omitted"])
}

func TestInjectListModeCustomInstruction(t *testing.T) {
	inj := NewInjector(t.TempDir())
	res := inj.Inject(InjectConfig{Mode: InjectModeList, Instruction: "Custom header:"}, Resolution{RequiredFiles: []string{"a.txt"}})
	assert.Contains(t, res.Text, "Custom header:")
}

func TestInjectContentModeIncludesFileBody(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt")

	inj := NewInjector(dir)
	res := inj.Inject(InjectConfig{Mode: InjectModeContent}, Resolution{RequiredFiles: []string{"a.txt"}})
	assert.Contains(t, res.Text, "content of a.txt")
	assert.Contains(t, res.Text, "=== File: a.txt (")
	assert.Contains(t, res.Text, "bytes) ===")
	assert.Equal(t, []string{"a.txt"}, res.FilesShown)
	assert.Empty(t, res.FilesTruncated)
}

func TestInjectContentModeSkipsUnreadableFile(t *testing.T) {
	inj := NewInjector(t.TempDir())
	res := inj.Inject(InjectConfig{Mode: InjectModeContent}, Resolution{RequiredFiles: []string{"missing.txt"}})
	assert.NotContains(t, res.Text, "missing.txt")
}

func TestInjectListModeTruncatesAtMaxSize(t *testing.T) {
	files := make([]string, 0, 50000)
	for i := 0; i < 50000; i++ {
		files = append(files, "a/very/long/path/to/a/file/number/"+string(rune('a'+i%26))+".txt")
	}
	inj := NewInjector(t.TempDir())
	res := inj.Inject(InjectConfig{Mode: InjectModeList}, Resolution{RequiredFiles: files})
	assert.LessOrEqual(t, len(res.Text), MaxInjectionSize+200)
}
