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

// startpe is the runner: the executable prepended to every packed
// payload. It extracts its own tail into the unpack directory and
// launches the packed command, forwarding arguments and exit status.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/Systemcluster/wrappe/lib/extract"
	"github.com/Systemcluster/wrappe/lib/payload"
	"github.com/Systemcluster/wrappe/lib/spawn"
)

func main() {
	os.Exit(run())
}

func fatal(format string, args ...any) int {
	spawn.Alert("wrappe", fmt.Sprintf(format, args...))
	return 1
}

func run() int {
	exe, image, _, err := extract.SelfImage()
	if err != nil {
		return fatal("%s", err)
	}
	view, err := payload.Open(image)
	if err != nil {
		return fatal("%s: %s", exe, err)
	}
	info := view.Info

	level := zerolog.InfoLevel
	switch info.ShowInformation {
	case payload.ShowNone:
		level = zerolog.ErrorLevel
	case payload.ShowVerbose:
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).
		With().Timestamp().Logger()
	log.Info().Msgf("%s %s", info.UnpackDirName(), info.Version())

	dir, err := extract.Resolve(info)
	if err != nil {
		return fatal("%s", err)
	}
	ex := extract.New(view, dir, log)
	if err := ex.Lock(); err != nil {
		return fatal("%s", err)
	}
	if ex.ShouldExtract() {
		log.Debug().Str("dir", dir).Uint32("files", info.FileCount).Msg("unpacking")
		progress := &extract.Progress{}
		if err := ex.Extract(context.Background(), 0, progress); err != nil {
			ex.Unlock()
			return fatal("couldn't unpack to %s: %s", dir, err)
		}
		if err := ex.WriteMarker(); err != nil {
			ex.Unlock()
			return fatal("%s", err)
		}
		log.Debug().Uint64("files", progress.Files.Load()).
			Uint64("bytes", progress.Bytes.Load()).Msg("unpacked")
	} else {
		log.Debug().Str("dir", dir).Msg("unpack directory is up to date")
	}
	ex.Unlock()

	launchDir, err := os.Getwd()
	if err != nil {
		launchDir = dir
	}
	code, waited, err := spawn.Run(spawn.Options{
		Command:    ex.CommandPath(),
		BakedArgs:  info.Args(),
		ExtraArgs:  os.Args[1:],
		UnpackDir:  dir,
		LaunchDir:  launchDir,
		RunnerPath: exe,
		CurrentDir: info.CurrentDir,
		Console:    info.Console,
		Subsystem:  info.Subsystem,
		Once:       info.Once != 0,
		Log:        log,
	})
	if err != nil {
		return fatal("%s", err)
	}
	cleanup := info.Cleanup != 0 || os.Getenv("STARTPE_CLEANUP") == "1"
	if waited && cleanup {
		extract.Cleanup(dir, log)
	}
	return code
}
