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

// Package config holds the build identity and the optional packing
// defaults file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Set at build time with -ldflags -X.
var (
	Version = "unknown"
	Commit  = "unknown"
)

// DefaultsName is looked up in the working directory when no defaults
// file is named explicitly.
const DefaultsName = ".wrappe.yaml"

// Defaults carries flag defaults for the packer. Flags given on the
// command line always win over the file.
type Defaults struct {
	Runner          string `yaml:"runner"`
	Compression     *int   `yaml:"compression"`
	UnpackTarget    string `yaml:"unpack-target"`
	UnpackDirectory string `yaml:"unpack-directory"`
	Versioning      string `yaml:"versioning"`
	Verification    string `yaml:"verification"`
	ShowInformation string `yaml:"show-information"`
	Console         string `yaml:"console"`
	CurrentDir      string `yaml:"current-dir"`
	Cleanup         *bool  `yaml:"cleanup"`
	Once            *bool  `yaml:"once"`
	BuildDictionary *bool  `yaml:"build-dictionary"`
}

// ReadFile parses a defaults file, rejecting unknown keys.
func ReadFile(path string) (*Defaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defaults := new(Defaults)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(defaults); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("couldn't parse %s: %w", path, err)
	}
	return defaults, nil
}

// Load reads the defaults file from the working directory. A missing
// file yields empty defaults.
func Load() (*Defaults, error) {
	defaults, err := ReadFile(DefaultsName)
	if errors.Is(err, os.ErrNotExist) {
		return new(Defaults), nil
	}
	return defaults, err
}
