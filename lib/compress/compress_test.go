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

package compress

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Systemcluster/wrappe/lib/manifest"
	"github.com/Systemcluster/wrappe/lib/payload"
)

func writeInput(t *testing.T, contents map[string][]byte) *manifest.Manifest {
	t.Helper()
	root := t.TempDir()
	m := &manifest.Manifest{Root: root}
	names := make([]string, 0, len(contents))
	for name := range contents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(root, name)
		require.NoError(t, os.WriteFile(path, contents[name], 0o644))
		m.Files = append(m.Files, manifest.File{
			Rel:    name,
			Path:   path,
			Name:   name,
			Parent: payload.RootParent,
			Mode:   0o644,
			Size:   uint64(len(contents[name])),
			Mtime:  time.Now(),
		})
		m.TotalSize += uint64(len(contents[name]))
	}
	return m
}

func decompress(t *testing.T, blob, dict []byte) []byte {
	t.Helper()
	opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if dict != nil {
		opts = append(opts, zstd.WithDecoderDicts(dict))
	}
	dec, err := zstd.NewReader(nil, opts...)
	require.NoError(t, err)
	defer dec.Close()
	out, err := dec.DecodeAll(blob, nil)
	require.NoError(t, err)
	return out
}

func TestRun(t *testing.T) {
	contents := map[string][]byte{
		"empty.bin": {},
		"small.txt": []byte("hello"),
		"large.bin": bytes.Repeat([]byte("wrappe says hi. "), 4096),
	}
	m := writeInput(t, contents)

	out, err := os.CreateTemp(t.TempDir(), "blobs")
	require.NoError(t, err)
	defer out.Close()
	const base = 64

	progress := &Progress{}
	result, err := Run(m, out, base, Options{Level: 8, Progress: progress})
	require.NoError(t, err)
	require.Len(t, result.Files, len(contents))

	var total uint64
	for n, entry := range result.Files {
		content := contents[entry.NameString()]
		assert.Equal(t, m.Files[n].Rel, entry.NameString())
		assert.EqualValues(t, len(content), entry.Size)
		assert.Equal(t, xxhash.Sum64(content), entry.Hash)

		blob := make([]byte, entry.Compressed)
		_, err := out.ReadAt(blob, base+int64(entry.Offset))
		require.NoError(t, err)
		decompressed := decompress(t, blob, nil)
		if len(content) == 0 {
			assert.Empty(t, decompressed)
		} else {
			assert.Equal(t, content, decompressed)
		}
		total += entry.Compressed
	}
	assert.Equal(t, total, result.BlobSize)
	assert.EqualValues(t, len(contents), progress.Files)
	assert.Equal(t, m.TotalSize, progress.Bytes)

	// blobs must tile the region without gaps or overlap
	sorted := append([]payload.FileEntry{}, result.Files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
	var cursor uint64
	for _, entry := range sorted {
		assert.Equal(t, cursor, entry.Offset)
		cursor += entry.Compressed
	}
}

func TestRunDeterministic(t *testing.T) {
	contents := map[string][]byte{}
	for n := 0; n < 32; n++ {
		contents[fmt.Sprintf("f%02d.bin", n)] = bytes.Repeat([]byte{byte(n)}, 1000*(n+1))
	}
	m := writeInput(t, contents)

	var results []*Result
	for n := 0; n < 2; n++ {
		out, err := os.CreateTemp(t.TempDir(), "blobs")
		require.NoError(t, err)
		defer out.Close()
		result, err := Run(m, out, 0, Options{Level: 8, Workers: 4})
		require.NoError(t, err)
		results = append(results, result)
	}
	assert.Equal(t, results[0], results[1])
}

func TestTrainDictionaryFallback(t *testing.T) {
	contents := map[string][]byte{}
	for n := 0; n < 7; n++ {
		contents[fmt.Sprintf("f%d.txt", n)] = []byte("the same sample text, over and over again")
	}
	m := writeInput(t, contents)
	assert.Nil(t, TrainDictionary(m, 8, zerolog.Nop()))
}

func TestRunWithDictionary(t *testing.T) {
	contents := map[string][]byte{}
	for n := 0; n < 16; n++ {
		contents[fmt.Sprintf("f%02d.json", n)] = []byte(fmt.Sprintf(
			`{"record":%d,"status":"alive","payload":"a longer shared structure that repeats"}`, n))
	}
	m := writeInput(t, contents)

	dict := TrainDictionary(m, 8, zerolog.Nop())
	if dict == nil {
		t.Skip("training produced no dictionary for this corpus")
	}

	out, err := os.CreateTemp(t.TempDir(), "blobs")
	require.NoError(t, err)
	defer out.Close()
	result, err := Run(m, out, 0, Options{Level: 8, Dict: dict})
	require.NoError(t, err)

	for _, entry := range result.Files {
		blob := make([]byte, entry.Compressed)
		_, err := out.ReadAt(blob, int64(entry.Offset))
		require.NoError(t, err)
		assert.Equal(t, contents[entry.NameString()], decompress(t, blob, dict))
	}
}

func TestRunMissingFile(t *testing.T) {
	m := writeInput(t, map[string][]byte{"a.txt": []byte("a")})
	m.Files[0].Path = filepath.Join(t.TempDir(), "gone")
	out, err := os.CreateTemp(t.TempDir(), "blobs")
	require.NoError(t, err)
	defer out.Close()
	_, err = Run(m, out, 0, Options{Level: 8})
	assert.Error(t, err)
}
