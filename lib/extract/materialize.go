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

package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/Systemcluster/wrappe/lib/payload"
)

// Extract reifies the payload under the unpack directory. The caller
// must hold the directory lock. On error the directory is left partial
// with no version marker, so the next runner extracts again.
func (e *Extractor) Extract(ctx context.Context, workers int, progress *Progress) error {
	// an interrupted extraction must not pass for a complete one
	os.Remove(filepath.Join(e.Dir, MarkerName))
	if e.View.Info.Versioning == payload.VersioningReplace {
		if err := e.prune(); err != nil {
			return fmt.Errorf("couldn't prune the unpack directory: %w", err)
		}
	}
	if err := e.makeDirs(); err != nil {
		return err
	}
	// links go in before file contents, a target may name a payload
	// file that does not exist yet
	if err := e.makeLinks(); err != nil {
		return err
	}
	if err := e.extractFiles(ctx, workers, progress); err != nil {
		return err
	}
	// writing files bumps the parent mtimes, so directories come last
	e.setDirTimes()
	return nil
}

func (e *Extractor) makeDirs() error {
	for n := range e.paths {
		path := e.paths[n]
		if err := os.Mkdir(path, 0o755); err != nil {
			fi, serr := os.Lstat(path)
			if serr == nil && fi.IsDir() {
				continue
			}
			if serr == nil {
				if err := e.clearSite(path); err != nil {
					return err
				}
				if err := os.Mkdir(path, 0o755); err == nil {
					continue
				}
			}
			return fmt.Errorf("couldn't create directory %s: %w", path, err)
		}
	}
	return nil
}

// clearSite removes whatever blocks an entry site. Symlink sites are
// always reclaimed so a repeated extraction can recreate its own
// links; blocking files and directories fall only under the replace
// policy.
func (e *Extractor) clearSite(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if fi.Mode()&os.ModeSymlink == 0 && e.View.Info.Versioning != payload.VersioningReplace {
		return fmt.Errorf("refusing to replace existing %s", path)
	}
	return os.RemoveAll(path)
}

func (e *Extractor) extractFiles(ctx context.Context, workers int, progress *Progress) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	dict := e.View.Dict()
	jobs := make(chan *payload.FileEntry)
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(jobs)
		for n := range e.View.Files {
			select {
			case jobs <- &e.View.Files[n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
			if len(dict) > 0 {
				opts = append(opts, zstd.WithDecoderDicts(dict))
			}
			dec, err := zstd.NewReader(nil, opts...)
			if err != nil {
				return err
			}
			defer dec.Close()
			for f := range jobs {
				if err := e.extractOne(dec, f, progress); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return group.Wait()
}

func (e *Extractor) extractOne(dec *zstd.Decoder, f *payload.FileEntry, progress *Progress) error {
	path := e.FilePath(f)
	if fi, err := os.Lstat(path); err == nil && !fi.Mode().IsRegular() {
		if err := e.clearSite(path); err != nil {
			return err
		}
	}
	mode := fs.FileMode(f.Mode)
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("couldn't create %s: %w", path, err)
	}
	if err := dec.Reset(bytes.NewReader(e.View.Blob(f))); err != nil {
		out.Close()
		return err
	}
	written, err := io.Copy(out, dec)
	if err != nil {
		out.Close()
		return fmt.Errorf("couldn't decompress %s: %w", path, err)
	}
	if uint64(written) != f.Size {
		out.Close()
		return fmt.Errorf("decompressed %s to %d bytes, expected %d", path, written, f.Size)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("couldn't write %s: %w", path, err)
	}
	// the create mode is filtered through the umask, restore it
	if f.Mode != 0 {
		if err := os.Chmod(path, mode); err != nil {
			e.log.Debug().Err(err).Str("file", path).Msg("couldn't set permissions")
		}
	}
	mtime := time.Unix(f.MtimeSec, int64(f.MtimeNanos))
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		e.log.Debug().Err(err).Str("file", path).Msg("couldn't set mtime")
	}
	if progress != nil {
		progress.Files.Add(1)
		progress.Bytes.Add(uint64(written))
	}
	return nil
}

func (e *Extractor) makeLinks() error {
	for n := range e.View.Links {
		l := &e.View.Links[n]
		site := filepath.Join(e.parentPath(l.Parent), l.NameString())
		target := l.TargetString()
		if err := e.checkLinkTarget(site, target); err != nil {
			return err
		}
		if _, err := os.Lstat(site); err == nil {
			if err := e.clearSite(site); err != nil {
				return err
			}
		}
		if err := makeLink(filepath.FromSlash(target), site, l.Kind); err != nil {
			return fmt.Errorf("couldn't create symlink %s: %w", site, err)
		}
		mtime := time.Unix(l.MtimeSec, int64(l.MtimeNanos))
		if err := lchtimes(site, mtime); err != nil {
			e.log.Debug().Err(err).Str("symlink", site).Msg("couldn't set mtime")
		}
	}
	return nil
}

// checkLinkTarget refuses symlinks that point outside the unpack
// directory. Targets are stored relative to the link site.
func (e *Extractor) checkLinkTarget(site, target string) error {
	if target == "" || strings.HasPrefix(target, "/") || filepath.IsAbs(filepath.FromSlash(target)) {
		return fmt.Errorf("refusing symlink %s with absolute target %s", site, target)
	}
	resolved := filepath.Clean(filepath.Join(filepath.Dir(site), filepath.FromSlash(target)))
	if resolved != e.Dir && !strings.HasPrefix(resolved, e.Dir+string(os.PathSeparator)) {
		return fmt.Errorf("refusing symlink %s escaping the unpack directory: %s", site, target)
	}
	return nil
}

func (e *Extractor) setDirTimes() {
	// children before parents, creating a child would bump the parent
	for n := len(e.paths) - 1; n >= 0; n-- {
		d := &e.View.Dirs[n]
		mtime := time.Unix(d.MtimeSec, int64(d.MtimeNanos))
		if err := os.Chtimes(e.paths[n], mtime, mtime); err != nil {
			e.log.Debug().Err(err).Str("dir", e.paths[n]).Msg("couldn't set mtime")
		}
	}
}
