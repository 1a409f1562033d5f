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

// Package magic classifies executable images by signature.
package magic

import (
	"bytes"
	"io"
	"os"
)

type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypePE
	FileTypeELF
	FileTypeMachO
)

func Detect(r io.Reader) FileType {
	var buf [64]byte
	blob := buf[:]
	if _, err := io.ReadFull(r, blob); err != nil {
		return FileTypeUnknown
	}
	switch {
	case blob[0] == 'M' && blob[1] == 'Z':
		return FileTypePE
	case bytes.HasPrefix(blob, []byte{0x7f, 'E', 'L', 'F'}):
		return FileTypeELF
	case bytes.HasPrefix(blob, []byte{0xfe, 0xed, 0xfa, 0xce}),
		bytes.HasPrefix(blob, []byte{0xfe, 0xed, 0xfa, 0xcf}),
		bytes.HasPrefix(blob, []byte{0xcf, 0xfa, 0xed, 0xfe}),
		bytes.HasPrefix(blob, []byte{0xce, 0xfa, 0xed, 0xfe}),
		bytes.HasPrefix(blob, []byte{0xca, 0xfe, 0xba, 0xbe}):
		return FileTypeMachO
	}
	return FileTypeUnknown
}

func DetectFile(path string) FileType {
	f, err := os.Open(path)
	if err != nil {
		return FileTypeUnknown
	}
	defer f.Close()
	return Detect(f)
}
