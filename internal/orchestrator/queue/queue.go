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

// Package queue gives the `--clean-processed`/`--archive-processed` CLI
// flags (spec §6.1) something concrete to do. It is not part of the core
// engine (spec §1 scopes archiving/cleaning as an external-collaborator
// contract), but the CLI surface names the flags, so a thin, path-safety
// checked helper lives here. Grounded in original_source/orchestrator/fsq/queue.py.
package queue

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hoidn/agent-orchestration/internal/orchestrator/pathsafety"
)

const taskTimeFormat = "20060102T150405"

// WriteTask atomically writes data to dir/name.task via a temp file in
// the same directory followed by a rename, so a reader polling dir never
// observes a partially written task file.
func WriteTask(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	final := filepath.Join(dir, name+".task")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return final, nil
}

// MoveTask relocates a processed or failed task file into a
// timestamp-suffixed subdirectory of dest, e.g. processed/20260101T120000/.
func MoveTask(taskPath, dest string) (string, error) {
	sub := filepath.Join(dest, time.Now().UTC().Format(taskTimeFormat))
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(sub, filepath.Base(taskPath))
	if err := os.Rename(taskPath, target); err != nil {
		return "", err
	}
	return target, nil
}

// CleanDirectory removes every direct entry under dir (non-recursive
// into sub-entries' contents -- whole entries are removed, not walked),
// after checking dir doesn't escape workspace.
func CleanDirectory(workspace, dir string) error {
	if err := pathsafety.Check(dir); err != nil {
		return err
	}
	full := filepath.Join(workspace, dir)
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(full, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// ArchiveDirectory zips dir's contents into workspace/<dir>-<timestamp>.zip,
// again after a path-safety check.
func ArchiveDirectory(workspace, dir string) (string, error) {
	if err := pathsafety.Check(dir); err != nil {
		return "", err
	}
	full := filepath.Join(workspace, dir)
	archivePath := fmt.Sprintf("%s-%s.zip", full, time.Now().UTC().Format(taskTimeFormat))

	zf, err := os.Create(archivePath)
	if err != nil {
		return "", err
	}
	defer zf.Close()

	zw := zip.NewWriter(zf)
	defer zw.Close()

	err = filepath.Walk(full, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(full, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return "", err
	}
	return archivePath, nil
}

// ListTasks returns every *.task file under dir, sorted by name for
// deterministic processing order.
func ListTasks(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.task"))
	if err != nil {
		return nil, err
	}
	return matches, nil
}
