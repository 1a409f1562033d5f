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

// Package peresource transfers icon, version, and manifest resources
// from a command executable onto a packed PE runner image. Rewriting
// the resource section changes the image, so it has to happen before
// the payload is appended.
package peresource

import (
	"fmt"
	"os"

	"github.com/tc-hib/winres"

	"github.com/Systemcluster/wrappe/lib/atomicfile"
)

// Editor rewrites icon and version blocks on a target PE image.
type Editor interface {
	// CopyResources transfers the branding resources of source onto
	// target in place. It reports the number of resources copied.
	CopyResources(target, source string) (int, error)
}

func NewEditor() Editor { return winresEditor{} }

type winresEditor struct{}

func (winresEditor) CopyResources(target, source string) (int, error) {
	src, err := os.Open(source)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	loaded, err := winres.LoadFromEXE(src)
	if err != nil {
		return 0, fmt.Errorf("couldn't load resources from %s: %w", source, err)
	}

	branding := &winres.ResourceSet{}
	copied := 0
	loaded.Walk(func(typeID, resID winres.Identifier, langID uint16, data []byte) bool {
		switch typeID {
		case winres.RT_ICON, winres.RT_GROUP_ICON, winres.RT_VERSION, winres.RT_MANIFEST:
			if err := branding.Set(typeID, resID, langID, data); err == nil {
				copied++
			}
		}
		return true
	})
	if copied == 0 {
		return 0, nil
	}

	in, err := os.Open(target)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := atomicfile.New(target)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	info, err := in.Stat()
	if err != nil {
		return 0, err
	}
	if err := branding.WriteToEXE(out, in); err != nil {
		return 0, fmt.Errorf("couldn't rewrite resources on %s: %w", target, err)
	}
	// the rename in Commit can't replace target while it is open
	in.Close()
	if err := out.Commit(info.Mode()); err != nil {
		return 0, err
	}
	return copied, nil
}
