//
// Copyright (c) SAS Institute Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package compress turns a manifest into the compressed blob region
// and the file entry array of a payload.
package compress

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/Systemcluster/wrappe/lib/manifest"
	"github.com/Systemcluster/wrappe/lib/payload"
)

// Files larger than this are compressed through a temporary spill file
// instead of memory.
const spillLimit = 64 << 20

// Progress is sampled by the UI while packing runs. Counters only grow.
type Progress struct {
	Files uint64
	Bytes uint64
}

func (p *Progress) done(bytes uint64) {
	atomic.AddUint64(&p.Files, 1)
	atomic.AddUint64(&p.Bytes, bytes)
}

type Options struct {
	// Level is the zstd compression level, 0 to 22.
	Level int
	// Dict is the shared compression dictionary, or nil.
	Dict []byte
	// Workers caps the worker pool; 0 means one per logical CPU.
	Workers int
	// Progress receives completion counts when non-nil.
	Progress *Progress
}

// Result describes the blob region written by Run.
type Result struct {
	Files    []payload.FileEntry
	BlobSize uint64
}

type packedBlob struct {
	blob    blobWriter
	entry   payload.FileEntry
	release func()
}

// Run compresses every manifest file into out. Compression runs on a
// worker pool, but blob regions are assigned and written in manifest
// order, so identical inputs produce identical archives regardless of
// scheduling.
func Run(m *manifest.Manifest, out io.WriterAt, base int64, opts Options) (*Result, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	level := zstd.EncoderLevelFromZstd(opts.Level)

	res := &Result{Files: make([]payload.FileEntry, len(m.Files))}
	ready := make([]chan *packedBlob, len(m.Files))
	for n := range ready {
		ready[n] = make(chan *packedBlob, 1)
	}

	group, ctx := errgroup.WithContext(context.Background())
	var compressors errgroup.Group
	compressors.SetLimit(workers)
	group.Go(func() error {
		for n := range m.Files {
			n := n
			if ctx.Err() != nil {
				break
			}
			compressors.Go(func() error {
				pb, err := compressOne(&m.Files[n], level, opts.Dict)
				if err != nil {
					return err
				}
				ready[n] <- pb
				return nil
			})
		}
		return compressors.Wait()
	})
	group.Go(func() error {
		var cursor uint64
		for n := range m.Files {
			var pb *packedBlob
			select {
			case pb = <-ready[n]:
			case <-ctx.Done():
				return ctx.Err()
			}
			pb.entry.Offset = cursor
			cursor += pb.entry.Compressed
			err := pb.blob.writeTo(out, base+int64(pb.entry.Offset))
			pb.release()
			if err != nil {
				return fmt.Errorf("couldn't write %s to archive: %w", m.Files[n].Rel, err)
			}
			res.Files[n] = pb.entry
			if opts.Progress != nil {
				opts.Progress.done(pb.entry.Size)
			}
		}
		res.BlobSize = cursor
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func compressOne(f *manifest.File, level zstd.EncoderLevel, dict []byte) (*packedBlob, error) {
	in, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open %s: %w", f.Path, err)
	}
	defer in.Close()

	hashed := NewHashReader(in)
	pb := &packedBlob{release: func() {}}
	if f.Size > spillLimit {
		spill, err := os.CreateTemp("", "wrappe-blob")
		if err != nil {
			return nil, err
		}
		pb.blob = &fileBlob{f: spill}
		pb.release = func() {
			spill.Close()
			os.Remove(spill.Name())
		}
	} else {
		pb.blob = &memBlob{}
	}

	if err := encode(pb.blob, hashed, level, dict); err != nil {
		pb.release()
		return nil, fmt.Errorf("couldn't compress %s: %w", f.Path, err)
	}
	size, err := pb.blob.size()
	if err != nil {
		pb.release()
		return nil, err
	}

	pb.entry = payload.FileEntry{
		Compressed: uint64(size),
		Size:       uint64(hashed.N),
		Hash:       hashed.Sum64(),
		MtimeSec:   f.Mtime.Unix(),
		MtimeNanos: uint32(f.Mtime.Nanosecond()),
		Parent:     f.Parent,
		Mode:       f.Mode,
	}
	nameLen, ok := payload.SetName(pb.entry.Name[:], f.Name)
	if !ok {
		pb.release()
		return nil, fmt.Errorf("file name longer than %d bytes: %s", payload.NameSize, f.Rel)
	}
	pb.entry.NameLen = nameLen
	return pb, nil
}

func encode(dst io.Writer, src io.Reader, level zstd.EncoderLevel, dict []byte) error {
	eopts := []zstd.EOption{
		zstd.WithEncoderLevel(level),
		// the worker pool provides the parallelism
		zstd.WithEncoderConcurrency(1),
	}
	if dict != nil {
		eopts = append(eopts, zstd.WithEncoderDict(dict))
	}
	enc, err := zstd.NewWriter(dst, eopts...)
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// blobWriter holds one compressed blob until its offset is known.
type blobWriter interface {
	io.Writer
	size() (int64, error)
	writeTo(out io.WriterAt, off int64) error
}

type memBlob struct {
	bytes.Buffer
}

func (b *memBlob) size() (int64, error) { return int64(b.Len()), nil }

func (b *memBlob) writeTo(out io.WriterAt, off int64) error {
	_, err := out.WriteAt(b.Bytes(), off)
	return err
}

type fileBlob struct {
	f *os.File
}

func (b *fileBlob) Write(d []byte) (int, error) { return b.f.Write(d) }

func (b *fileBlob) size() (int64, error) {
	info, err := b.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (b *fileBlob) writeTo(out io.WriterAt, off int64) error {
	if _, err := b.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	buf := make([]byte, 1<<20)
	for {
		n, err := b.f.Read(buf)
		if n > 0 {
			if _, werr := out.WriteAt(buf[:n], off); werr != nil {
				return werr
			}
			off += int64(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
