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

// Package assemble produces the packed binary: runner image, blob
// region, dictionary, metadata arrays, footer, magic.
package assemble

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/Systemcluster/wrappe/lib/atomicfile"
	"github.com/Systemcluster/wrappe/lib/compress"
	"github.com/Systemcluster/wrappe/lib/magic"
	"github.com/Systemcluster/wrappe/lib/manifest"
	"github.com/Systemcluster/wrappe/lib/payload"
	"github.com/Systemcluster/wrappe/lib/peresource"
	"github.com/Systemcluster/wrappe/lib/runners"
)

type Options struct {
	// Runner is the resolved target triple.
	Runner string
	// Output is the path of the packed binary.
	Output string
	// CommandRel is the slash-delimited path of the command inside
	// the input tree.
	CommandRel string
	// Compression is the zstd level, 0 to 22.
	Compression int
	// BuildDictionary trains a shared dictionary before compressing.
	BuildDictionary bool
	// Info carries the policy fields and version identity; counts,
	// offsets, and hashes are filled in here.
	Info payload.StartInfo
	// Editor rewrites PE resources; nil selects the default.
	Editor peresource.Editor
	// Progress is sampled by the UI when non-nil.
	Progress *compress.Progress
	Log      zerolog.Logger
}

// Pack writes the packed binary for a classified input tree. On any
// error the partial output is removed.
func Pack(m *manifest.Manifest, opts Options) error {
	commandIndex, ok := m.FileIndex(opts.CommandRel)
	if !ok {
		return fmt.Errorf("command is not contained in the input: %s", opts.CommandRel)
	}
	commandAbs := m.Files[commandIndex].Path

	out, err := atomicfile.New(opts.Output)
	if err != nil {
		return fmt.Errorf("couldn't create output file %s: %w", opts.Output, err)
	}
	defer out.Close()

	runnerSize, err := writeRunner(out, commandAbs, opts)
	if err != nil {
		return err
	}
	// dead padding so the payload start, and with it the metadata
	// region, lands on an 8-byte boundary
	base := runnerSize + int64(payload.Padding(uint64(runnerSize)))
	if _, err := out.Seek(base, io.SeekStart); err != nil {
		return err
	}

	var dict []byte
	if opts.BuildDictionary {
		dict = compress.TrainDictionary(m, opts.Compression, opts.Log)
	}
	blobs, err := compress.Run(m, out.Handle(), base, compress.Options{
		Level:    opts.Compression,
		Dict:     dict,
		Progress: opts.Progress,
	})
	if err != nil {
		return err
	}

	info := &opts.Info
	info.FormatVersion = payload.FormatVersion
	info.BlobSize = blobs.BlobSize
	info.DictOffset = blobs.BlobSize
	info.DictSize = uint64(len(dict))
	if len(dict) > 0 {
		if _, err := out.WriteAt(dict, base+int64(blobs.BlobSize)); err != nil {
			return err
		}
	}
	cursor := blobs.BlobSize + uint64(len(dict))
	info.MetaOffset = cursor + payload.Padding(cursor)

	dirs, links, err := metaEntries(m)
	if err != nil {
		return err
	}
	info.DirCount = uint32(len(dirs))
	info.FileCount = uint32(len(blobs.Files))
	info.LinkCount = uint32(len(links))
	info.CommandIndex = commandIndex
	info.PayloadSize = info.MetaOffset +
		uint64(len(dirs))*payload.DirEntrySize +
		uint64(len(blobs.Files))*payload.FileEntrySize +
		uint64(len(links))*payload.LinkEntrySize
	info.TotalUncompressed = m.TotalSize
	info.SectionHash = payload.SectionHash(dirs, blobs.Files, links)
	if info.Subsystem == payload.SubsystemUnknown {
		info.Subsystem = peresource.Subsystem(commandAbs)
	}

	if _, err := out.Seek(base+int64(info.MetaOffset), io.SeekStart); err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	if err := payload.WriteMeta(w, dirs, blobs.Files, links); err != nil {
		return fmt.Errorf("couldn't write metadata: %w", err)
	}
	if err := payload.WriteTrailer(w, info); err != nil {
		return fmt.Errorf("couldn't write footer: %w", err)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := out.Commit(0o755); err != nil {
		return fmt.Errorf("couldn't commit output file: %w", err)
	}
	opts.Log.Info().Str("output", opts.Output).
		Uint64("payload", info.PayloadSize).
		Int("files", len(blobs.Files)).
		Msg("packed")
	return nil
}

// writeRunner copies the runner image to the output, transferring PE
// resources from the command first when both images are PE. Resource
// transfer failure costs the icons, not the pack.
func writeRunner(out *atomicfile.File, commandAbs string, opts Options) (int64, error) {
	editPE := magic.DetectFile(commandAbs) == magic.FileTypePE
	if !editPE {
		return runners.Copy(opts.Runner, out)
	}

	scratch, err := os.CreateTemp(filepath.Dir(opts.Output), "wrappe-runner")
	if err != nil {
		return 0, err
	}
	scratchPath := scratch.Name()
	defer os.Remove(scratchPath)
	if _, err := runners.Copy(opts.Runner, scratch); err != nil {
		scratch.Close()
		return 0, err
	}
	if err := scratch.Close(); err != nil {
		return 0, err
	}

	if magic.DetectFile(scratchPath) != magic.FileTypePE {
		opts.Log.Warn().Str("runner", opts.Runner).
			Msg("runner is not a PE executable, skipping resource transfer")
	} else {
		editor := opts.Editor
		if editor == nil {
			editor = peresource.NewEditor()
		}
		copied, err := editor.CopyResources(scratchPath, commandAbs)
		if err != nil {
			opts.Log.Warn().Err(err).
				Msg("couldn't transfer resources, output will lack icons")
		} else if copied > 0 {
			opts.Log.Info().Int("resources", copied).Msg("transferred resources")
		}
	}

	in, err := os.Open(scratchPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	return io.Copy(out, in)
}

func metaEntries(m *manifest.Manifest) ([]payload.DirectoryEntry, []payload.SymlinkEntry, error) {
	dirs := make([]payload.DirectoryEntry, len(m.Dirs))
	for n := range m.Dirs {
		d := &m.Dirs[n]
		e := &dirs[n]
		e.Parent = d.Parent
		e.MtimeSec = d.Mtime.Unix()
		e.MtimeNanos = uint32(d.Mtime.Nanosecond())
		nameLen, ok := payload.SetName(e.Name[:], d.Name)
		if !ok {
			return nil, nil, fmt.Errorf("directory name longer than %d bytes: %s", payload.NameSize, d.Rel)
		}
		e.NameLen = nameLen
	}
	links := make([]payload.SymlinkEntry, len(m.Links))
	for n := range m.Links {
		l := &m.Links[n]
		e := &links[n]
		e.Parent = l.Parent
		e.Kind = l.Kind
		e.MtimeSec = l.Mtime.Unix()
		e.MtimeNanos = uint32(l.Mtime.Nanosecond())
		nameLen, ok := payload.SetName(e.Name[:], l.Name)
		if !ok {
			return nil, nil, fmt.Errorf("symlink name longer than %d bytes: %s", payload.NameSize, l.Rel)
		}
		e.NameLen = nameLen
		targetLen, ok := payload.SetName(e.Target[:], l.Target)
		if !ok {
			return nil, nil, fmt.Errorf("symlink target longer than %d bytes: %s", payload.TargetSize, l.Rel)
		}
		e.TargetLen = targetLen
	}
	return dirs, links, nil
}
