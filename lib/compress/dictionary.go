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
	"os"

	"github.com/klauspost/compress/dict"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/Systemcluster/wrappe/lib/manifest"
)

const (
	// sampleLimit caps the bytes sampled from each file.
	sampleLimit = 128 << 10
	// dictLimit caps the trained dictionary size.
	dictLimit = 128 << 10
	// minSamples is the smallest corpus a dictionary is trained from.
	minSamples = 8
)

// TrainDictionary samples the manifest files and trains a shared zstd
// dictionary. It returns nil when the corpus is too small or training
// fails; packing proceeds without a dictionary in that case.
func TrainDictionary(m *manifest.Manifest, level int, log zerolog.Logger) []byte {
	var samples [][]byte
	for n := range m.Files {
		f := &m.Files[n]
		if f.Size == 0 {
			continue
		}
		in, err := os.Open(f.Path)
		if err != nil {
			log.Warn().Err(err).Str("file", f.Rel).Msg("couldn't sample file for dictionary")
			continue
		}
		sample, err := io.ReadAll(io.LimitReader(in, sampleLimit))
		in.Close()
		if err != nil {
			log.Warn().Err(err).Str("file", f.Rel).Msg("couldn't sample file for dictionary")
			continue
		}
		samples = append(samples, sample)
	}
	if len(samples) < minSamples {
		log.Warn().Int("samples", len(samples)).
			Msg("couldn't build dictionary: not enough samples")
		return nil
	}
	trained, err := dict.BuildZstdDict(samples, dict.Options{
		MaxDictSize: dictLimit,
		HashBytes:   6,
		ZstdLevel:   zstd.EncoderLevelFromZstd(level),
		Output:      io.Discard,
	})
	if err != nil {
		log.Warn().Err(err).Msg("couldn't build dictionary")
		return nil
	}
	var total int
	for _, s := range samples {
		total += len(s)
	}
	log.Info().Int("dictionary", len(trained)).Int("sampled", total).
		Msg("built compression dictionary")
	return trained
}
