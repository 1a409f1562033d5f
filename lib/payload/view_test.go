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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeImage assembles a minimal container behind a fake runner image
// whose length is deliberately not 8-byte aligned.
func makeImage(t *testing.T) []byte {
	t.Helper()
	runner := bytes.Repeat([]byte{0xcc}, 101)

	blobs := []byte("hello furnace...") // 16 bytes, two fake blobs
	dirs := []DirectoryEntry{{Parent: RootParent}}
	n, ok := SetName(dirs[0].Name[:], "sub")
	require.True(t, ok)
	dirs[0].NameLen = n

	files := []FileEntry{
		{Parent: RootParent, Offset: 0, Compressed: 10, Size: 20, Hash: 7},
		{Parent: 0, Offset: 10, Compressed: 6, Size: 3, Hash: 8},
	}
	for i, name := range []string{"a.txt", "b.bin"} {
		n, ok := SetName(files[i].Name[:], name)
		require.True(t, ok)
		files[i].NameLen = n
	}

	links := []SymlinkEntry{{Parent: 0, Kind: LinkFile}}
	n, ok = SetName(links[0].Name[:], "lnk")
	require.True(t, ok)
	links[0].NameLen = n
	n, ok = SetName(links[0].Target[:], "a.txt")
	require.True(t, ok)
	links[0].TargetLen = n

	info := StartInfo{
		FormatVersion: FormatVersion,
		BlobSize:      uint64(len(blobs)),
		DictOffset:    uint64(len(blobs)),
		MetaOffset:    uint64(len(blobs)),
		DirCount:      1,
		FileCount:     2,
		LinkCount:     1,
		CommandIndex:  1,
		SectionHash:   SectionHash(dirs, files, links),
	}
	info.PayloadSize = info.MetaOffset + DirEntrySize + 2*FileEntrySize + LinkEntrySize

	var image bytes.Buffer
	image.Write(runner)
	image.Write(make([]byte, Padding(uint64(len(runner)))))
	image.Write(blobs)
	require.NoError(t, WriteMeta(&image, dirs, files, links))
	require.NoError(t, WriteTrailer(&image, &info))
	return image.Bytes()
}

func TestOpen(t *testing.T) {
	view, err := Open(makeImage(t))
	require.NoError(t, err)
	require.Len(t, view.Dirs, 1)
	require.Len(t, view.Files, 2)
	require.Len(t, view.Links, 1)

	assert.Equal(t, "sub", view.Dirs[0].NameString())
	assert.Equal(t, "a.txt", view.Files[0].NameString())
	assert.Equal(t, "lnk", view.Links[0].NameString())
	assert.Equal(t, "a.txt", view.Links[0].TargetString())
	assert.Equal(t, []byte("hello furn"), view.Blob(&view.Files[0]))
	assert.Equal(t, []byte("ace..."), view.Blob(&view.Files[1]))
	assert.Nil(t, view.Dict())
	assert.Equal(t, "b.bin", view.Command().NameString())
}

func TestOpenNotPacked(t *testing.T) {
	_, err := Open([]byte("way too short"))
	assert.ErrorIs(t, err, ErrNotPacked)

	image := makeImage(t)
	image[len(image)-1] = 'x'
	_, err = Open(image)
	assert.ErrorIs(t, err, ErrNotPacked)
}

func TestOpenVersionMismatch(t *testing.T) {
	image := makeImage(t)
	// FormatVersion sits 80 bytes into the footer
	pos := len(image) - TrailerSize + 80
	image[pos]++
	_, err := Open(image)
	assert.ErrorIs(t, err, ErrFormatVersion)
}

func TestOpenMisaligned(t *testing.T) {
	image := makeImage(t)
	_, err := Open(image[1:])
	assert.ErrorIs(t, err, ErrBounds)
}

func TestOpenTruncated(t *testing.T) {
	image := makeImage(t)
	// PayloadSize sits 24 bytes into the footer
	pos := len(image) - TrailerSize + 24
	image[pos+5] = 0xff
	_, err := Open(image)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestOpenTamperedMetadata(t *testing.T) {
	image := makeImage(t)
	// flip one byte inside the first directory entry
	metaPos := len(image) - TrailerSize - (DirEntrySize + 2*FileEntrySize + LinkEntrySize)
	image[metaPos] ^= 0xff
	_, err := Open(image)
	assert.ErrorIs(t, err, ErrBounds)
}

func TestOpenRejectsTraversalNames(t *testing.T) {
	for _, name := range []string{"..", "a/b", `a\b`} {
		image := buildWithFileName(t, name)
		_, err := Open(image)
		assert.ErrorIs(t, err, ErrBounds, "name %q", name)
	}
}

func buildWithFileName(t *testing.T, name string) []byte {
	t.Helper()
	files := []FileEntry{{Parent: RootParent}}
	n, ok := SetName(files[0].Name[:], name)
	require.True(t, ok)
	files[0].NameLen = n

	info := StartInfo{
		FormatVersion: FormatVersion,
		FileCount:     1,
		SectionHash:   SectionHash(nil, files, nil),
		PayloadSize:   FileEntrySize,
	}
	var image bytes.Buffer
	require.NoError(t, WriteMeta(&image, nil, files, nil))
	require.NoError(t, WriteTrailer(&image, &info))
	return image.Bytes()
}
