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

package manifest

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Systemcluster/wrappe/lib/payload"
)

func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "c", "d"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("bee"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "real.txt"), []byte("hi"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c", "d", "deep.bin"), make([]byte, 1024), 0o600))
	if runtime.GOOS != "windows" {
		require.NoError(t, os.Symlink("real.txt", filepath.Join(root, "a", "link")))
	}
	return root
}

func TestWalk(t *testing.T) {
	root := writeTree(t)
	m, err := Walk(root, zerolog.Nop())
	require.NoError(t, err)

	var dirs []string
	for _, d := range m.Dirs {
		dirs = append(dirs, d.Rel)
	}
	assert.Equal(t, []string{"a", "c", "c/d"}, dirs)
	assert.Equal(t, payload.RootParent, m.Dirs[0].Parent)
	assert.Equal(t, payload.RootParent, m.Dirs[1].Parent)
	assert.EqualValues(t, 1, m.Dirs[2].Parent)

	var files []string
	for _, f := range m.Files {
		files = append(files, f.Rel)
	}
	assert.Equal(t, []string{"a/real.txt", "b.txt", "c/d/deep.bin"}, files)
	assert.EqualValues(t, 0, m.Files[0].Parent)
	assert.Equal(t, payload.RootParent, m.Files[1].Parent)
	assert.EqualValues(t, 2, m.Files[2].Parent)
	assert.EqualValues(t, 3+2+1024, m.TotalSize)

	index, ok := m.FileIndex("a/real.txt")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "a", "real.txt"), m.Files[index].Path)
	_, ok = m.FileIndex("nope")
	assert.False(t, ok)

	if runtime.GOOS != "windows" {
		require.Len(t, m.Links, 1)
		assert.Equal(t, "a/link", m.Links[0].Rel)
		assert.Equal(t, "real.txt", m.Links[0].Target)
		assert.Equal(t, payload.LinkFile, m.Links[0].Kind)
		assert.EqualValues(t, 0, m.Links[0].Parent)
		assert.EqualValues(t, 0o755, m.Files[0].Mode)
	}
}

func TestWalkDeterministic(t *testing.T) {
	root := writeTree(t)
	first, err := Walk(root, zerolog.Nop())
	require.NoError(t, err)
	second, err := Walk(root, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWalkSingleFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "tool.bin")
	require.NoError(t, os.WriteFile(file, []byte("payload"), 0o755))

	m, err := Walk(file, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, m.Files, 1)
	assert.Empty(t, m.Dirs)
	assert.Equal(t, "tool.bin", m.Files[0].Rel)
	assert.Equal(t, payload.RootParent, m.Files[0].Parent)
	assert.EqualValues(t, 7, m.TotalSize)
}

func TestWalkDirectoryLink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks")
	}
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "real"), 0o755))
	require.NoError(t, os.Symlink("real", filepath.Join(root, "alias")))

	m, err := Walk(root, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, m.Links, 1)
	assert.Equal(t, payload.LinkDir, m.Links[0].Kind)
}

func TestWalkNameTooLong(t *testing.T) {
	root := t.TempDir()
	name := strings.Repeat("n", payload.NameSize+1)
	require.NoError(t, os.WriteFile(filepath.Join(root, name), nil, 0o644))

	_, err := Walk(root, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name longer")
}

func TestWalkMissingInput(t *testing.T) {
	_, err := Walk(filepath.Join(t.TempDir(), "absent"), zerolog.Nop())
	assert.Error(t, err)
}
