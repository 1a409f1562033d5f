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

package payload

import (
	"io"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

func entryBytes[T any](e *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(e)), int(unsafe.Sizeof(*e)))
}

// SectionHash hashes the raw bytes of the metadata arrays in container
// order. The runner recomputes it before trusting the arrays.
func SectionHash(dirs []DirectoryEntry, files []FileEntry, links []SymlinkEntry) uint64 {
	d := xxhash.New()
	for n := range dirs {
		d.Write(entryBytes(&dirs[n]))
	}
	for n := range files {
		d.Write(entryBytes(&files[n]))
	}
	for n := range links {
		d.Write(entryBytes(&links[n]))
	}
	return d.Sum64()
}

// WriteMeta writes the three metadata arrays in container order.
func WriteMeta(w io.Writer, dirs []DirectoryEntry, files []FileEntry, links []SymlinkEntry) error {
	for n := range dirs {
		if _, err := w.Write(entryBytes(&dirs[n])); err != nil {
			return err
		}
	}
	for n := range files {
		if _, err := w.Write(entryBytes(&files[n])); err != nil {
			return err
		}
	}
	for n := range links {
		if _, err := w.Write(entryBytes(&links[n])); err != nil {
			return err
		}
	}
	return nil
}

// WriteTrailer writes the StartInfo footer followed by the magic.
func WriteTrailer(w io.Writer, info *StartInfo) error {
	if _, err := w.Write(entryBytes(info)); err != nil {
		return err
	}
	_, err := w.Write(Magic[:])
	return err
}

// Padding returns the number of zero bytes needed to align the
// metadata region when the payload currently holds n bytes.
func Padding(n uint64) uint64 {
	return (8 - n%8) % 8
}

// SetName stores a name into a fixed inline array. It reports false
// when the name does not fit.
func SetName(dst []byte, name string) (uint32, bool) {
	if len(name) > len(dst) {
		return 0, false
	}
	copy(dst, name)
	return uint32(len(name)), true
}
