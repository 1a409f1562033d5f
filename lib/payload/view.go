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
	"bytes"
	"errors"
	"fmt"
	"unsafe"
)

var (
	ErrNotPacked     = errors.New("not a packed binary")
	ErrFormatVersion = errors.New("unsupported container format version")
	ErrTruncated     = errors.New("container is truncated")
	ErrBounds        = errors.New("container offsets out of range")
	ErrByteOrder     = errors.New("container requires a little-endian host")
)

// Sizes of the on-disk structures. The const conversions underflow at
// compile time if the Go struct layout ever diverges from these.
const (
	StartInfoSize = 752
	TrailerSize   = StartInfoSize + 8
	DirEntrySize  = 152
	FileEntrySize = 184
	LinkEntrySize = 416
)

const (
	_ = uint(unsafe.Sizeof(StartInfo{}) - StartInfoSize)
	_ = uint(StartInfoSize - unsafe.Sizeof(StartInfo{}))
	_ = uint(unsafe.Sizeof(DirectoryEntry{}) - DirEntrySize)
	_ = uint(DirEntrySize - unsafe.Sizeof(DirectoryEntry{}))
	_ = uint(unsafe.Sizeof(FileEntry{}) - FileEntrySize)
	_ = uint(FileEntrySize - unsafe.Sizeof(FileEntry{}))
	_ = uint(unsafe.Sizeof(SymlinkEntry{}) - LinkEntrySize)
	_ = uint(LinkEntrySize - unsafe.Sizeof(SymlinkEntry{}))
)

func hostLittleEndian() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}

// View is a validated, zero-copy window over a mapped packed binary.
// The metadata arrays alias the mapped bytes and stay valid only while
// the mapping does.
type View struct {
	Info  *StartInfo
	Dirs  []DirectoryEntry
	Files []FileEntry
	Links []SymlinkEntry

	payload []byte
}

func viewSlice[T any](b []byte, off, size, count int) []T {
	if count == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[off])), count)
}

// Open locates and validates the container at the tail of image. The
// image must be the complete mapped file of the running executable.
func Open(image []byte) (*View, error) {
	if !hostLittleEndian() {
		return nil, ErrByteOrder
	}
	if len(image) < TrailerSize {
		return nil, ErrNotPacked
	}
	if !bytes.Equal(image[len(image)-8:], Magic[:]) {
		return nil, ErrNotPacked
	}
	infoPos := len(image) - TrailerSize
	if infoPos%8 != 0 {
		return nil, fmt.Errorf("%w: footer is misaligned", ErrBounds)
	}
	info := (*StartInfo)(unsafe.Pointer(&image[infoPos]))
	if info.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: payload version %d, runner version %d",
			ErrFormatVersion, info.FormatVersion, FormatVersion)
	}
	if info.PayloadSize > uint64(infoPos) {
		return nil, ErrTruncated
	}
	payload := image[uint64(infoPos)-info.PayloadSize : infoPos]

	metaBytes := uint64(info.DirCount)*DirEntrySize +
		uint64(info.FileCount)*FileEntrySize +
		uint64(info.LinkCount)*LinkEntrySize
	switch {
	case info.MetaOffset > info.PayloadSize,
		metaBytes > info.PayloadSize-info.MetaOffset,
		info.MetaOffset+metaBytes != info.PayloadSize:
		return nil, fmt.Errorf("%w: metadata region", ErrBounds)
	case info.DictOffset < info.BlobSize,
		info.DictSize > info.MetaOffset,
		info.DictOffset > info.MetaOffset-info.DictSize:
		return nil, fmt.Errorf("%w: dictionary region", ErrBounds)
	case info.MetaOffset%8 != 0:
		return nil, fmt.Errorf("%w: metadata region is misaligned", ErrBounds)
	}

	v := &View{Info: info, payload: payload}
	off := int(info.MetaOffset)
	v.Dirs = viewSlice[DirectoryEntry](payload, off, DirEntrySize, int(info.DirCount))
	off += int(info.DirCount) * DirEntrySize
	v.Files = viewSlice[FileEntry](payload, off, FileEntrySize, int(info.FileCount))
	off += int(info.FileCount) * FileEntrySize
	v.Links = viewSlice[SymlinkEntry](payload, off, LinkEntrySize, int(info.LinkCount))

	if err := v.validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// safeName rejects names that could climb out of the unpack directory
// when joined onto a parent path.
func safeName(name []byte) bool {
	if len(name) == 0 {
		return false
	}
	s := string(name)
	if s == "." || s == ".." {
		return false
	}
	for _, c := range name {
		if c == '/' || c == '\\' || c == 0 {
			return false
		}
	}
	return true
}

func (v *View) validate() error {
	info := v.Info
	if hash := SectionHash(v.Dirs, v.Files, v.Links); hash != info.SectionHash {
		return fmt.Errorf("%w: metadata hash %016x, expected %016x",
			ErrBounds, hash, info.SectionHash)
	}
	blobEnd := info.DictOffset
	if info.DictSize == 0 {
		blobEnd = info.MetaOffset
	}
	for n := range v.Dirs {
		d := &v.Dirs[n]
		if d.NameLen > NameSize || !safeName(d.Name[:d.NameLen]) {
			return fmt.Errorf("%w: directory %d name", ErrBounds, n)
		}
		// parents precede children so paths resolve in one pass
		if d.Parent != RootParent && d.Parent >= uint32(n) {
			return fmt.Errorf("%w: directory %d precedes its parent", ErrBounds, n)
		}
	}
	for n := range v.Files {
		f := &v.Files[n]
		if f.NameLen > NameSize || !safeName(f.Name[:f.NameLen]) {
			return fmt.Errorf("%w: file %d name", ErrBounds, n)
		}
		if f.Parent != RootParent && f.Parent >= info.DirCount {
			return fmt.Errorf("%w: file %d parent index", ErrBounds, n)
		}
		if f.Compressed > blobEnd || f.Offset > blobEnd-f.Compressed {
			return fmt.Errorf("%w: file %d blob region", ErrBounds, n)
		}
	}
	for n := range v.Links {
		l := &v.Links[n]
		if l.NameLen > NameSize || !safeName(l.Name[:l.NameLen]) || l.TargetLen > TargetSize {
			return fmt.Errorf("%w: symlink %d name", ErrBounds, n)
		}
		if l.Parent != RootParent && l.Parent >= info.DirCount {
			return fmt.Errorf("%w: symlink %d parent index", ErrBounds, n)
		}
	}
	if info.FileCount > 0 && info.CommandIndex >= info.FileCount {
		return fmt.Errorf("%w: command index", ErrBounds)
	}
	return nil
}

// Blob returns the compressed bytes of a file entry, aliasing the
// mapped image.
func (v *View) Blob(f *FileEntry) []byte {
	return v.payload[f.Offset : f.Offset+f.Compressed]
}

// Dict returns the shared decompression dictionary, or nil.
func (v *View) Dict() []byte {
	if v.Info.DictSize == 0 {
		return nil
	}
	return v.payload[v.Info.DictOffset : v.Info.DictOffset+v.Info.DictSize]
}

// Command returns the file entry of the packed command.
func (v *View) Command() *FileEntry {
	return &v.Files[v.Info.CommandIndex]
}
