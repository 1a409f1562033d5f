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

// Package manifest walks an input tree and classifies it into the
// ordered directory, file, and symlink lists the container stores.
package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Systemcluster/wrappe/lib/payload"
)

type Dir struct {
	Rel    string // slash-delimited, relative to the root
	Name   string
	Parent uint32
	Mtime  time.Time
}

type File struct {
	Rel    string
	Path   string // absolute path on disk
	Name   string
	Parent uint32
	Mode   uint32
	Size   uint64
	Mtime  time.Time
}

type Link struct {
	Rel    string
	Name   string
	Target string // slash-delimited, as recorded on disk
	Parent uint32
	Kind   uint32
	Mtime  time.Time
}

// Manifest is the classified input tree. Directories are ordered so
// that every parent precedes its children; files and symlinks are
// ordered lexicographically by relative path. Two walks of identical
// trees produce identical manifests.
type Manifest struct {
	Root      string // absolute path the relative paths hang off
	Dirs      []Dir
	Files     []File
	Links     []Link
	TotalSize uint64
}

// FileIndex returns the index of the file with the given relative
// slash-delimited path.
func (m *Manifest) FileIndex(rel string) (uint32, bool) {
	for n := range m.Files {
		if m.Files[n].Rel == rel {
			return uint32(n), true
		}
	}
	return 0, false
}

type rawEntry struct {
	rel    string
	info   fs.FileInfo
	target string
	kind   uint32
}

// Walk classifies the tree rooted at input. Input may also be a single
// file, in which case the manifest contains just that file. Directory
// listing runs in parallel; the result order is deterministic.
func Walk(input string, log zerolog.Logger) (*Manifest, error) {
	input, err := filepath.Abs(input)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(input)
	if err != nil {
		return nil, fmt.Errorf("couldn't read input: %w", err)
	}
	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("input is neither a file nor a directory: %s", input)
		}
		m := &Manifest{Root: filepath.Dir(input), TotalSize: uint64(info.Size())}
		m.Files = append(m.Files, File{
			Rel:    info.Name(),
			Path:   input,
			Name:   info.Name(),
			Parent: payload.RootParent,
			Mode:   uint32(info.Mode().Perm()),
			Size:   uint64(info.Size()),
			Mtime:  info.ModTime(),
		})
		return m, nil
	}

	var mu sync.Mutex
	var entries []rawEntry
	var group errgroup.Group
	var scan func(dir, rel string) error
	scan = func(dir, rel string) error {
		listing, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("couldn't read directory %s: %w", dir, err)
		}
		for _, ent := range listing {
			ent := ent
			abs := filepath.Join(dir, ent.Name())
			erel := path.Join(rel, ent.Name())
			info, err := ent.Info()
			if err != nil {
				return fmt.Errorf("couldn't read entry %s: %w", abs, err)
			}
			switch {
			case info.Mode()&fs.ModeSymlink != 0:
				target, err := os.Readlink(abs)
				if err != nil {
					return fmt.Errorf("couldn't read link %s: %w", abs, err)
				}
				e := rawEntry{rel: erel, info: info, target: filepath.ToSlash(target)}
				e.kind = classifyLink(abs, target)
				if escapes(input, abs, target) {
					log.Warn().Str("link", erel).Str("target", e.target).
						Msg("symlink target escapes the input root, the runner will refuse to create it")
				}
				mu.Lock()
				entries = append(entries, e)
				mu.Unlock()
			case info.IsDir():
				mu.Lock()
				entries = append(entries, rawEntry{rel: erel, info: info})
				mu.Unlock()
				group.Go(func() error { return scan(abs, erel) })
			case info.Mode().IsRegular():
				mu.Lock()
				entries = append(entries, rawEntry{rel: erel, info: info})
				mu.Unlock()
			default:
				// devices, sockets, fifos
				log.Warn().Str("entry", erel).Stringer("mode", info.Mode()).
					Msg("skipping special file")
			}
		}
		return nil
	}
	group.Go(func() error { return scan(input, "") })
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	m := &Manifest{Root: input}
	// lexicographic order guarantees every directory sorts before its
	// contents, so a single pass can assign parent indices
	parents := map[string]uint32{"": payload.RootParent}
	for _, e := range entries {
		name := path.Base(e.rel)
		if len(name) > payload.NameSize {
			return nil, fmt.Errorf("entry name longer than %d bytes: %s", payload.NameSize, e.rel)
		}
		parentRel := path.Dir(e.rel)
		if parentRel == "." {
			parentRel = ""
		}
		parent, ok := parents[parentRel]
		if !ok {
			return nil, fmt.Errorf("entry has no included parent: %s", e.rel)
		}
		switch {
		case e.info.Mode()&fs.ModeSymlink != 0:
			if len(e.target) > payload.TargetSize {
				return nil, fmt.Errorf("symlink target longer than %d bytes: %s", payload.TargetSize, e.rel)
			}
			m.Links = append(m.Links, Link{
				Rel: e.rel, Name: name, Target: e.target,
				Parent: parent, Kind: e.kind, Mtime: e.info.ModTime(),
			})
		case e.info.IsDir():
			parents[e.rel] = uint32(len(m.Dirs))
			m.Dirs = append(m.Dirs, Dir{
				Rel: e.rel, Name: name, Parent: parent, Mtime: e.info.ModTime(),
			})
		default:
			m.Files = append(m.Files, File{
				Rel:    e.rel,
				Path:   filepath.Join(input, filepath.FromSlash(e.rel)),
				Name:   name,
				Parent: parent,
				Mode:   uint32(e.info.Mode().Perm()),
				Size:   uint64(e.info.Size()),
				Mtime:  e.info.ModTime(),
			})
			m.TotalSize += uint64(e.info.Size())
		}
	}
	return m, nil
}

// classifyLink stats through the link to decide between a file and a
// directory link. Dangling links default to file links.
func classifyLink(site, target string) uint32 {
	resolved := target
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(site), resolved)
	}
	if info, err := os.Stat(resolved); err == nil && info.IsDir() {
		return payload.LinkDir
	}
	return payload.LinkFile
}

// escapes reports whether the link target resolves outside the root.
func escapes(root, site, target string) bool {
	if filepath.IsAbs(target) {
		return !strings.HasPrefix(filepath.Clean(target), root+string(filepath.Separator))
	}
	resolved := filepath.Clean(filepath.Join(filepath.Dir(site), target))
	return resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator))
}
