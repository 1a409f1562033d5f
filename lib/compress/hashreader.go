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

package compress

import (
	"io"

	"github.com/cespare/xxhash/v2"
)

// HashReader wraps a Reader and hashes and counts every byte read
// from it, so content hashes come for free during compression.
type HashReader struct {
	R io.Reader // underlying Reader
	N int64     // number of bytes read

	digest *xxhash.Digest
}

func NewHashReader(r io.Reader) *HashReader {
	return &HashReader{R: r, digest: xxhash.New()}
}

func (c *HashReader) Read(d []byte) (int, error) {
	n, err := c.R.Read(d)
	if n > 0 {
		_, _ = c.digest.Write(d[:n])
		c.N += int64(n)
	}
	return n, err
}

// Sum64 returns the xxhash64 of everything read so far.
func (c *HashReader) Sum64() uint64 {
	return c.digest.Sum64()
}
