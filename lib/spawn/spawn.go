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

// Package spawn launches the unpacked command and forwards its exit
// status, honoring the working-directory, console, and single-instance
// policies baked into the payload.
package spawn

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/Systemcluster/wrappe/lib/payload"
)

// Environment passed to the spawned command.
const (
	EnvUnpackDir = "WRAPPE_UNPACK_DIR"
	EnvLaunchDir = "WRAPPE_LAUNCH_DIR"
)

type Options struct {
	// Command is the absolute path of the unpacked command.
	Command string
	// BakedArgs were stored at pack time and always come first.
	BakedArgs []string
	// ExtraArgs is the runner's own argument tail.
	ExtraArgs []string
	// UnpackDir and LaunchDir are exported into the environment.
	UnpackDir string
	LaunchDir string
	// RunnerPath is the canonical path of the runner executable.
	RunnerPath string

	CurrentDir payload.CurrentDir
	Console    payload.Console
	Subsystem  payload.Subsystem
	// Once skips the launch when the command is already running.
	Once bool

	Log zerolog.Logger
}

// Run launches the command and waits for it. waited is false when the
// console policy detached the child or the once policy suppressed the
// launch; the caller must skip cleanup in that case.
func Run(opts Options) (code int, waited bool, err error) {
	if opts.Once {
		running, err := alreadyRunning(opts.Command)
		if err != nil {
			opts.Log.Debug().Err(err).Msg("couldn't enumerate processes")
		} else if running {
			opts.Log.Info().Str("command", opts.Command).Msg("command is already running")
			focusExisting(opts.Command)
			return 0, false, nil
		}
	}

	args := make([]string, 0, len(opts.BakedArgs)+len(opts.ExtraArgs))
	args = append(args, opts.BakedArgs...)
	args = append(args, opts.ExtraArgs...)
	cmd := exec.Command(opts.Command, args...)
	cmd.Env = append(os.Environ(),
		EnvUnpackDir+"="+opts.UnpackDir,
		EnvLaunchDir+"="+opts.LaunchDir)

	switch opts.CurrentDir {
	case payload.DirInherit:
	case payload.DirUnpack:
		cmd.Dir = opts.UnpackDir
	case payload.DirRunner:
		cmd.Dir = filepath.Dir(opts.RunnerPath)
	case payload.DirCommand:
		cmd.Dir = filepath.Dir(opts.Command)
	}

	wait := prepareConsole(cmd, opts.Console, opts.Subsystem, opts.Log)
	if wait {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return 1, false, fmt.Errorf("couldn't start %s: %w", opts.Command, err)
	}
	opts.Log.Debug().Int("pid", cmd.Process.Pid).Str("command", opts.Command).Msg("started")
	if !wait {
		// the child outlives the runner
		cmd.Process.Release()
		return 0, false, nil
	}
	err = cmd.Wait()
	if err == nil {
		return 0, true, nil
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return exit.ExitCode(), true, nil
	}
	return 1, true, err
}
