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

// Package runners holds the prebuilt runner images the packer can
// prepend to a payload. Images are produced by the cross-compilation
// pipeline and dropped into images/ as zstd-compressed files named
// after their target triple, e.g. linux-amd64.zst. A directory named
// by WRAPPE_RUNNERS is consulted first, which is how development
// builds and tests supply runners without rebuilding the packer.
package runners

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

//go:embed all:images
var images embed.FS

// RunnersEnv names an extra directory of runner images.
const RunnersEnv = "WRAPPE_RUNNERS"

// Native is the triple of the platform the packer itself runs on.
func Native() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

func available() map[string]string {
	found := map[string]string{}
	entries, err := fs.ReadDir(images, "images")
	if err == nil {
		for _, e := range entries {
			name := strings.TrimSuffix(e.Name(), ".zst")
			if name == e.Name() || e.IsDir() {
				continue
			}
			found[name] = "embed:" + e.Name()
		}
	}
	if dir := os.Getenv(RunnersEnv); dir != "" {
		entries, err := os.ReadDir(dir)
		if err == nil {
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				name := strings.TrimSuffix(e.Name(), ".zst")
				found[name] = filepath.Join(dir, e.Name())
			}
		}
	}
	return found
}

// List returns the available triples, the native one first when
// present, the rest sorted.
func List() []string {
	found := available()
	names := make([]string, 0, len(found))
	for name := range found {
		if name != Native() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := found[Native()]; ok {
		names = append([]string{Native()}, names...)
	}
	return names
}

// Find resolves a runner selector to a triple. "native" and "default"
// select the packer's own platform; anything else matches a full
// triple or a unique prefix.
func Find(name string) (string, error) {
	if name == "" || name == "native" || name == "default" {
		name = Native()
	}
	found := available()
	if _, ok := found[name]; ok {
		return name, nil
	}
	var matches []string
	for triple := range found {
		if strings.HasPrefix(triple, name) {
			matches = append(matches, triple)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("not a valid runner: %s (available: %s)",
			name, strings.Join(List(), ", "))
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("runner %s is ambiguous between %s",
			name, strings.Join(matches, ", "))
	}
}

// Copy writes the runner image for a triple into w, decompressing
// zstd-stored images on the way.
func Copy(triple string, w io.Writer) (int64, error) {
	location, ok := available()[triple]
	if !ok {
		return 0, fmt.Errorf("not a valid runner: %s", triple)
	}
	var in io.ReadCloser
	var err error
	compressed := strings.HasSuffix(location, ".zst")
	if rest, found := strings.CutPrefix(location, "embed:"); found {
		var f fs.File
		f, err = images.Open("images/" + rest)
		in = f
	} else {
		in, err = os.Open(location)
	}
	if err != nil {
		return 0, fmt.Errorf("couldn't open runner %s: %w", triple, err)
	}
	defer in.Close()
	if !compressed {
		return io.Copy(w, in)
	}
	dec, err := zstd.NewReader(in)
	if err != nil {
		return 0, err
	}
	defer dec.Close()
	n, err := io.Copy(w, dec)
	if err != nil {
		return n, fmt.Errorf("couldn't decompress runner %s: %w", triple, err)
	}
	return n, nil
}
