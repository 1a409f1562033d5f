/*
 * Copyright (c) SAS Institute Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/Systemcluster/wrappe/lib/payload"
)

const (
	// LockName guards concurrent runners targeting the same directory.
	LockName = ".wrappe.lock"
	// MarkerName records the version id of a completed extraction.
	MarkerName = ".wrappe.version"
)

// Progress counts extracted files and written bytes. Both fields are
// updated atomically by the worker pool.
type Progress struct {
	Files atomic.Uint64
	Bytes atomic.Uint64
}

// Extractor reifies a validated payload view into an unpack directory.
type Extractor struct {
	View *payload.View
	// Dir is the resolved unpack directory.
	Dir string

	lock  *flock.Flock
	paths []string
	log   zerolog.Logger
}

func New(v *payload.View, dir string, log zerolog.Logger) *Extractor {
	e := &Extractor{
		View: v,
		Dir:  dir,
		lock: flock.New(filepath.Join(dir, LockName)),
		log:  log,
	}
	// parents precede children, so one forward pass resolves all paths
	e.paths = make([]string, len(v.Dirs))
	for n := range v.Dirs {
		d := &v.Dirs[n]
		e.paths[n] = filepath.Join(e.parentPath(d.Parent), d.NameString())
	}
	return e
}

func (e *Extractor) parentPath(parent uint32) string {
	if parent == payload.RootParent {
		return e.Dir
	}
	return e.paths[parent]
}

// FilePath returns the on-disk path of a file entry.
func (e *Extractor) FilePath(f *payload.FileEntry) string {
	return filepath.Join(e.parentPath(f.Parent), f.NameString())
}

// CommandPath returns the on-disk path of the packed command.
func (e *Extractor) CommandPath() string {
	return e.FilePath(e.View.Command())
}

// Lock takes the advisory lock on the unpack directory, creating the
// directory first. Blocks until concurrent runners release it.
func (e *Extractor) Lock() error {
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return fmt.Errorf("couldn't create unpack directory %s: %w", e.Dir, err)
	}
	if err := e.lock.Lock(); err != nil {
		return fmt.Errorf("couldn't lock unpack directory %s: %w", e.Dir, err)
	}
	return nil
}

func (e *Extractor) Unlock() error {
	return e.lock.Unlock()
}

// WriteMarker records the payload version after a complete extraction.
// A missing or mismatching marker forces the next runner to extract.
func (e *Extractor) WriteMarker() error {
	marker := filepath.Join(e.Dir, MarkerName)
	if err := os.WriteFile(marker, []byte(e.View.Info.VersionHex()), 0o644); err != nil {
		return fmt.Errorf("couldn't write version marker: %w", err)
	}
	return nil
}

func (e *Extractor) readMarker() (string, bool) {
	data, err := os.ReadFile(filepath.Join(e.Dir, MarkerName))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Cleanup removes the unpack directory unless another runner holds the
// lock. The caller must have released its own lock first.
func Cleanup(dir string, log zerolog.Logger) {
	guard := flock.New(filepath.Join(dir, LockName))
	held, err := guard.TryLock()
	if err != nil || !held {
		log.Debug().Str("dir", dir).Msg("unpack directory is still in use, skipping cleanup")
		return
	}
	guard.Close()
	if err := os.RemoveAll(dir); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("couldn't remove unpack directory")
		return
	}
	log.Debug().Str("dir", dir).Msg("removed unpack directory")
}
