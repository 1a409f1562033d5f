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

// Package shared holds the packer's command skeleton: the root
// command, logging, and the exit-code convention. 0 is success, 1 a
// packing failure, 2 a usage error.
package shared

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Systemcluster/wrappe/config"
)

var Logger zerolog.Logger

var argVersion bool

var RootCmd = &cobra.Command{
	Use:              "wrappe [flags] <input> <command> [output] [-- <args>...]",
	Short:            "Pack a directory into a self-extracting executable",
	PersistentPreRun: showVersion,
	SilenceUsage:     true,
}

func init() {
	RootCmd.PersistentFlags().BoolVar(&argVersion, "version", false, "Show version and exit")
	out := os.Stderr
	if term.IsTerminal(int(out.Fd())) {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(out).With().Timestamp().Logger()
	}
}

func showVersion(cmd *cobra.Command, args []string) {
	if argVersion {
		fmt.Printf("wrappe version %s (%s)\n", config.Version, config.Commit)
		os.Exit(0)
	}
}

// Fail prints an operational error and exits 1. Usage errors travel
// back through cobra instead and exit 2 in Main.
func Fail(err error) error {
	if err != nil {
		Logger.Error().Msg(err.Error())
		os.Exit(1)
	}
	return err
}

func Main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
