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

package assemble

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Systemcluster/wrappe/lib/extract"
	"github.com/Systemcluster/wrappe/lib/manifest"
	"github.com/Systemcluster/wrappe/lib/payload"
	"github.com/Systemcluster/wrappe/lib/runners"
)

// fakeRunner drops a stand-in runner image for the native triple into
// a directory consumed through WRAPPE_RUNNERS. Its length is odd on
// purpose, the payload must still end up 8-byte aligned.
func fakeRunner(t *testing.T) []byte {
	t.Helper()
	image := bytes.Repeat([]byte("startpe!"), 125)[:999]
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, runners.Native()), image, 0o755))
	t.Setenv(runners.RunnersEnv, dir)
	return image
}

func writeInput(t *testing.T) string {
	t.Helper()
	input := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(input, "run.sh"),
		[]byte("#!/bin/sh\nexit 0\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(input, "empty.bin"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(input, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(input, "data", "big.txt"),
		bytes.Repeat([]byte("all work and no play makes a dull payload. "), 2048), 0o644))
	if runtime.GOOS != "windows" {
		require.NoError(t, os.Symlink("big.txt", filepath.Join(input, "data", "link")))
	}
	return input
}

func packInput(t *testing.T, input, output, version string) {
	t.Helper()
	m, err := manifest.Walk(input, zerolog.Nop())
	require.NoError(t, err)

	info := payload.StartInfo{Verification: payload.VerifyChecksum}
	info.VersionID[0] = version[len(version)-1]
	copy(info.VersionString[:], version)
	copy(info.UnpackDir[:], "e2e-app")
	info.UnpackDirLen = 7
	require.True(t, info.SetArgs([]string{"--baked"}))

	runner, err := runners.Find("native")
	require.NoError(t, err)
	require.NoError(t, Pack(m, Options{
		Runner:      runner,
		Output:      output,
		CommandRel:  "run.sh",
		Compression: 8,
		Info:        info,
		Log:         zerolog.Nop(),
	}))
}

func TestPackAndExtract(t *testing.T) {
	runnerImage := fakeRunner(t)
	input := writeInput(t)
	output := filepath.Join(t.TempDir(), "packed")
	packInput(t, input, output, "V1")

	image, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, runnerImage, image[:len(runnerImage)])
	assert.Equal(t, payload.Magic[:], image[len(image)-8:])
	if runtime.GOOS != "windows" {
		fi, err := os.Stat(output)
		require.NoError(t, err)
		assert.NotZero(t, fi.Mode().Perm()&0o111)
	}

	view, err := payload.Open(image)
	require.NoError(t, err)
	info := view.Info
	assert.Equal(t, "e2e-app", info.UnpackDirName())
	assert.Equal(t, "V1", info.Version())
	assert.Equal(t, []string{"--baked"}, info.Args())
	assert.Equal(t, "run.sh", view.Command().NameString())
	assert.EqualValues(t, 3, info.FileCount)
	assert.EqualValues(t, 1, info.DirCount)

	dir := filepath.Join(t.TempDir(), "unpack")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	ex := extract.New(view, dir, zerolog.Nop())
	require.NoError(t, ex.Extract(context.Background(), 0, nil))
	require.NoError(t, ex.WriteMarker())

	original, err := os.ReadFile(filepath.Join(input, "data", "big.txt"))
	require.NoError(t, err)
	extracted, err := os.ReadFile(filepath.Join(dir, "data", "big.txt"))
	require.NoError(t, err)
	assert.Equal(t, original, extracted)

	fi, err := os.Stat(filepath.Join(dir, "empty.bin"))
	require.NoError(t, err)
	assert.EqualValues(t, 0, fi.Size())

	srcInfo, err := os.Stat(filepath.Join(input, "run.sh"))
	require.NoError(t, err)
	outInfo, err := os.Stat(filepath.Join(dir, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, srcInfo.ModTime().Unix(), outInfo.ModTime().Unix())
	if runtime.GOOS != "windows" {
		assert.EqualValues(t, 0o755, outInfo.Mode().Perm())
		target, err := os.Readlink(filepath.Join(dir, "data", "link"))
		require.NoError(t, err)
		assert.Equal(t, "big.txt", target)
	}

	assert.False(t, ex.ShouldExtract())
}

func TestPackDeterministic(t *testing.T) {
	fakeRunner(t)
	input := writeInput(t)
	outputs := [2]string{}
	for n := range outputs {
		outputs[n] = filepath.Join(t.TempDir(), "packed")
		packInput(t, input, outputs[n], "V1")
	}
	first, err := os.ReadFile(outputs[0])
	require.NoError(t, err)
	second, err := os.ReadFile(outputs[1])
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPackSideBySide(t *testing.T) {
	fakeRunner(t)
	input := writeInput(t)
	base := t.TempDir()

	for _, version := range []string{"V1", "V2"} {
		output := filepath.Join(t.TempDir(), "packed")
		packInput(t, input, output, version)
		image, err := os.ReadFile(output)
		require.NoError(t, err)
		view, err := payload.Open(image)
		require.NoError(t, err)

		dir := filepath.Join(base, "e2e-app", view.Info.Version())
		require.NoError(t, os.MkdirAll(dir, 0o755))
		ex := extract.New(view, dir, zerolog.Nop())
		require.NoError(t, ex.Extract(context.Background(), 0, nil))
		require.NoError(t, ex.WriteMarker())
	}

	for _, version := range []string{"V1", "V2"} {
		marker := filepath.Join(base, "e2e-app", version, extract.MarkerName)
		_, err := os.Stat(marker)
		assert.NoError(t, err, "marker for %s", version)
	}
}

func TestPackCommandMissing(t *testing.T) {
	fakeRunner(t)
	input := writeInput(t)
	m, err := manifest.Walk(input, zerolog.Nop())
	require.NoError(t, err)

	err = Pack(m, Options{
		Runner:     runners.Native(),
		Output:     filepath.Join(t.TempDir(), "packed"),
		CommandRel: "missing.sh",
		Log:        zerolog.Nop(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not contained")
}

func TestPackUnknownRunner(t *testing.T) {
	fakeRunner(t)
	input := writeInput(t)
	m, err := manifest.Walk(input, zerolog.Nop())
	require.NoError(t, err)

	err = Pack(m, Options{
		Runner:     "plan9-386",
		Output:     filepath.Join(t.TempDir(), "packed"),
		CommandRel: "run.sh",
		Log:        zerolog.Nop(),
	})
	assert.Error(t, err)
}
