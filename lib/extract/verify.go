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
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Systemcluster/wrappe/lib/payload"
)

// ShouldExtract decides whether the payload has to be reified again.
// Extraction is skipped only when the version marker matches this
// payload and the verification policy is satisfied by what is on disk.
func (e *Extractor) ShouldExtract() bool {
	info := e.View.Info
	if info.Versioning == payload.VersioningNone {
		return true
	}
	marker, ok := e.readMarker()
	if !ok {
		e.log.Debug().Msg("no version marker, extracting")
		return true
	}
	if marker != info.VersionHex() {
		e.log.Debug().Str("found", marker).Msg("version marker mismatch, extracting")
		return true
	}
	switch info.Verification {
	case payload.VerifyNone:
		return false
	case payload.VerifyExistence:
		return !e.verifyExistence()
	case payload.VerifyChecksum:
		return !e.verifyChecksum()
	}
	return true
}

func (e *Extractor) verifyExistence() bool {
	for n := range e.paths {
		fi, err := os.Lstat(e.paths[n])
		if err != nil || !fi.IsDir() {
			e.log.Debug().Str("dir", e.paths[n]).Msg("missing directory, extracting")
			return false
		}
	}
	for n := range e.View.Files {
		f := &e.View.Files[n]
		fi, err := os.Lstat(e.FilePath(f))
		if err != nil || !fi.Mode().IsRegular() || uint64(fi.Size()) != f.Size {
			e.log.Debug().Str("file", f.NameString()).Msg("missing or resized file, extracting")
			return false
		}
	}
	for n := range e.View.Links {
		l := &e.View.Links[n]
		site := filepath.Join(e.parentPath(l.Parent), l.NameString())
		if fi, err := os.Lstat(site); err != nil || fi.Mode()&os.ModeSymlink == 0 {
			e.log.Debug().Str("symlink", l.NameString()).Msg("missing symlink, extracting")
			return false
		}
	}
	return true
}

func (e *Extractor) verifyChecksum() bool {
	if !e.verifyExistence() {
		return false
	}
	group := errgroup.Group{}
	group.SetLimit(runtime.NumCPU())
	for n := range e.View.Files {
		f := &e.View.Files[n]
		group.Go(func() error {
			sum, err := hashFile(e.FilePath(f))
			if err != nil || sum != f.Hash {
				e.log.Debug().Str("file", f.NameString()).Msg("checksum mismatch, extracting")
				return io.ErrUnexpectedEOF
			}
			return nil
		})
	}
	return group.Wait() == nil
}

func hashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	digest := xxhash.New()
	if _, err := io.Copy(digest, f); err != nil {
		return 0, err
	}
	return digest.Sum64(), nil
}

// prune removes everything under the unpack directory that the payload
// does not describe. Only the replace versioning policy prunes; the
// lock and marker files always survive.
func (e *Extractor) prune() error {
	keep := map[string]bool{
		filepath.Join(e.Dir, LockName):   true,
		filepath.Join(e.Dir, MarkerName): true,
	}
	for n := range e.paths {
		keep[e.paths[n]] = true
	}
	for n := range e.View.Files {
		keep[e.FilePath(&e.View.Files[n])] = true
	}
	for n := range e.View.Links {
		l := &e.View.Links[n]
		keep[filepath.Join(e.parentPath(l.Parent), l.NameString())] = true
	}
	return filepath.WalkDir(e.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || path == e.Dir || keep[path] {
			return err
		}
		e.log.Debug().Str("path", path).Msg("pruning stale entry")
		if err := os.RemoveAll(path); err != nil {
			return err
		}
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
}
