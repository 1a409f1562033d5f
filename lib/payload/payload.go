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

// Package payload defines the container format appended to a runner image.
//
// The container is the byte-concatenation, in order, of:
//
//	[compressed file blobs]
//	[optional zstd dictionary]
//	[0-7 bytes of zero padding to an 8-byte boundary]
//	[DirectoryEntry array]
//	[FileEntry array]
//	[SymlinkEntry array]
//	[StartInfo]
//	[8-byte magic "wrappe\0\0"]
//
// All integers are little-endian. Every structure is fixed-size with
// naturally aligned fields and no implicit padding, so a memory-mapped
// image can be reinterpreted as typed arrays without deserialization.
// Offsets held in StartInfo are relative to the payload start (the first
// blob byte), never to the start of the file, so rewriting the runner
// image ahead of the payload does not invalidate them.
package payload

// Magic is the 8-byte anchor at the very end of a packed binary.
var Magic = [8]byte{'w', 'r', 'a', 'p', 'p', 'e', 0, 0}

// FormatVersion is bumped whenever the container layout changes. The
// runner refuses payloads with any other value.
const FormatVersion uint32 = 300

const (
	// NameSize is the inline name capacity of every entry.
	NameSize = 128
	// TargetSize is the inline symlink target capacity.
	TargetSize = 256
	// ArgsSize is the capacity of the packed argument suffix.
	ArgsSize = 512

	// RootParent marks entries whose parent is the unpack root.
	RootParent uint32 = 0xffffffff
)

// UnpackTarget selects the base directory files are extracted under.
type UnpackTarget uint8

const (
	TargetTemp UnpackTarget = iota
	TargetLocal
	TargetCwd
)

// Versioning selects how existing unpack directories are treated.
type Versioning uint8

const (
	VersioningSideBySide Versioning = iota
	VersioningReplace
	VersioningNone
)

// Verification selects how an existing unpack directory is checked
// before extraction is skipped.
type Verification uint8

const (
	VerifyNone Verification = iota
	VerifyExistence
	VerifyChecksum
)

// ShowInformation selects how much nominal output the runner prints.
type ShowInformation uint8

const (
	ShowNone ShowInformation = iota
	ShowTitle
	ShowVerbose
)

// Console selects the Windows console policy of the runner.
type Console uint8

const (
	ConsoleAuto Console = iota
	ConsoleAlways
	ConsoleNever
	ConsoleAttach
)

// CurrentDir selects the working directory of the spawned command.
type CurrentDir uint8

const (
	DirInherit CurrentDir = iota
	DirUnpack
	DirRunner
	DirCommand
)

// Subsystem is the packer's hint about the command executable.
type Subsystem uint8

const (
	SubsystemUnknown Subsystem = iota
	SubsystemConsole
	SubsystemGUI
)

// StartInfo is the fixed-size footer. It sits immediately before the
// trailing magic. Field offsets (size 752 bytes):
//
//	  0  VersionID         [16]byte
//	 16  VersionString     [8]byte
//	 24  PayloadSize       uint64
//	 32  BlobSize          uint64
//	 40  DictOffset        uint64
//	 48  DictSize          uint64
//	 56  MetaOffset        uint64
//	 64  TotalUncompressed uint64
//	 72  SectionHash       uint64
//	 80  FormatVersion     uint32
//	 84  DirCount          uint32
//	 88  FileCount         uint32
//	 92  LinkCount         uint32
//	 96  CommandIndex      uint32
//	100  UnpackTarget      uint8
//	101  Versioning        uint8
//	102  Verification      uint8
//	103  ShowInformation   uint8
//	104  Console           uint8
//	105  CurrentDir        uint8
//	106  Cleanup           uint8
//	107  Once              uint8
//	108  Subsystem         uint8
//	109  UnpackDirLen      uint8
//	110  ArgsLen           uint16
//	112  UnpackDir         [128]byte
//	240  Arguments         [512]byte
type StartInfo struct {
	VersionID         [16]byte
	VersionString     [8]byte
	PayloadSize       uint64
	BlobSize          uint64
	DictOffset        uint64
	DictSize          uint64
	MetaOffset        uint64
	TotalUncompressed uint64
	SectionHash       uint64
	FormatVersion     uint32
	DirCount          uint32
	FileCount         uint32
	LinkCount         uint32
	CommandIndex      uint32
	UnpackTarget      UnpackTarget
	Versioning        Versioning
	Verification      Verification
	ShowInformation   ShowInformation
	Console           Console
	CurrentDir        CurrentDir
	Cleanup           uint8
	Once              uint8
	Subsystem         Subsystem
	UnpackDirLen      uint8
	ArgsLen           uint16
	UnpackDir         [NameSize]byte
	Arguments         [ArgsSize]byte
}

// DirectoryEntry describes one directory. Parents precede children in
// the array. Field offsets (size 152 bytes):
//
//	  0  Name       [128]byte
//	128  MtimeSec   int64
//	136  Parent     uint32
//	140  MtimeNanos uint32
//	144  NameLen    uint32
//	148  Reserved   uint32
type DirectoryEntry struct {
	Name       [NameSize]byte
	MtimeSec   int64
	Parent     uint32
	MtimeNanos uint32
	NameLen    uint32
	Reserved   uint32
}

// FileEntry describes one regular file. Field offsets (size 184 bytes):
//
//	  0  Name       [128]byte
//	128  Offset     uint64
//	136  Compressed uint64
//	144  Size       uint64
//	152  Hash       uint64
//	160  MtimeSec   int64
//	168  Parent     uint32
//	172  Mode       uint32
//	176  MtimeNanos uint32
//	180  NameLen    uint32
type FileEntry struct {
	Name       [NameSize]byte
	Offset     uint64 // into the blob region, relative to payload start
	Compressed uint64
	Size       uint64 // uncompressed
	Hash       uint64 // xxhash64 of the uncompressed contents
	MtimeSec   int64
	Parent     uint32
	Mode       uint32
	MtimeNanos uint32
	NameLen    uint32
}

// Symlink kinds, relevant on Windows where file and directory links
// are distinct object types.
const (
	LinkFile uint32 = iota
	LinkDir
)

// SymlinkEntry describes one symbolic link. The target is stored as a
// slash-delimited path, relative to the payload root when possible.
// Field offsets (size 416 bytes):
//
//	  0  Name       [128]byte
//	128  Target     [256]byte
//	384  MtimeSec   int64
//	392  Parent     uint32
//	396  MtimeNanos uint32
//	400  NameLen    uint32
//	404  TargetLen  uint32
//	408  Kind       uint32
//	412  Mode       uint32
type SymlinkEntry struct {
	Name       [NameSize]byte
	Target     [TargetSize]byte
	MtimeSec   int64
	Parent     uint32
	MtimeNanos uint32
	NameLen    uint32
	TargetLen  uint32
	Kind       uint32
	Mode       uint32
}

func (e *DirectoryEntry) NameString() string { return string(e.Name[:e.NameLen]) }
func (e *FileEntry) NameString() string      { return string(e.Name[:e.NameLen]) }
func (e *SymlinkEntry) NameString() string   { return string(e.Name[:e.NameLen]) }

func (e *SymlinkEntry) TargetString() string { return string(e.Target[:e.TargetLen]) }

// VersionHex returns the printable form of the 128-bit version id, as
// written into the verification marker.
func (i *StartInfo) VersionHex() string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 32)
	for n, b := range i.VersionID {
		out[n*2] = hexdigits[b>>4]
		out[n*2+1] = hexdigits[b&0xf]
	}
	return string(out)
}

// Version returns the 8-character printable version string, trimmed of
// trailing NULs.
func (i *StartInfo) Version() string {
	end := len(i.VersionString)
	for end > 0 && i.VersionString[end-1] == 0 {
		end--
	}
	return string(i.VersionString[:end])
}

// UnpackDirName returns the configured unpack directory name.
func (i *StartInfo) UnpackDirName() string {
	return string(i.UnpackDir[:i.UnpackDirLen])
}

// Args returns the packed argument suffix. Arguments are separated by
// NUL bytes.
func (i *StartInfo) Args() []string {
	if i.ArgsLen == 0 {
		return nil
	}
	raw := i.Arguments[:i.ArgsLen]
	var args []string
	start := 0
	for n, b := range raw {
		if b == 0 {
			args = append(args, string(raw[start:n]))
			start = n + 1
		}
	}
	if start < len(raw) {
		args = append(args, string(raw[start:]))
	}
	return args
}

// SetArgs packs an argument suffix. It fails if the NUL-joined form
// exceeds ArgsSize.
func (i *StartInfo) SetArgs(args []string) bool {
	total := 0
	for n, a := range args {
		if n > 0 {
			total++
		}
		total += len(a)
	}
	if total > ArgsSize {
		return false
	}
	pos := 0
	for n, a := range args {
		if n > 0 {
			i.Arguments[pos] = 0
			pos++
		}
		copy(i.Arguments[pos:], a)
		pos += len(a)
	}
	i.ArgsLen = uint16(pos)
	return true
}
