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

// Package atomicfile writes output files through a temporary sibling
// that only replaces the destination on Commit. A packed binary is
// therefore never left half-written: abandoning the file on error
// removes the temporary.
package atomicfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

type File struct {
	name string
	tmp  *os.File
}

func New(name string) (*File, error) {
	tmp, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".tmp")
	if err != nil {
		return nil, err
	}
	return &File{name: name, tmp: tmp}, nil
}

// Handle exposes the temporary for offset-addressed writes.
func (f *File) Handle() *os.File { return f.tmp }

func (f *File) Write(d []byte) (int, error) { return f.tmp.Write(d) }

func (f *File) WriteAt(d []byte, off int64) (int, error) { return f.tmp.WriteAt(d, off) }

func (f *File) Seek(offset int64, whence int) (int64, error) { return f.tmp.Seek(offset, whence) }

// Close abandons the file if it has not been committed.
func (f *File) Close() error {
	if f.tmp == nil {
		return nil
	}
	f.tmp.Close()
	os.Remove(f.tmp.Name())
	f.tmp = nil
	return nil
}

// Commit renames the temporary over the destination with the given
// mode bits.
func (f *File) Commit(mode os.FileMode) error {
	if f.tmp == nil {
		return errors.New("file is closed")
	}
	if err := f.tmp.Chmod(mode); err != nil {
		return err
	}
	if err := f.tmp.Close(); err != nil {
		return err
	}
	// rename can't overwrite on windows
	if err := os.Remove(f.name); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(f.tmp.Name(), f.name); err != nil {
		return err
	}
	f.tmp = nil
	return nil
}

var _ io.WriteCloser = (*File)(nil)
