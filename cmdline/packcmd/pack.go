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

// Package packcmd implements the packing command line.
package packcmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/Systemcluster/wrappe/cmdline/shared"
	"github.com/Systemcluster/wrappe/config"
	"github.com/Systemcluster/wrappe/lib/assemble"
	"github.com/Systemcluster/wrappe/lib/compress"
	"github.com/Systemcluster/wrappe/lib/manifest"
	"github.com/Systemcluster/wrappe/lib/payload"
	"github.com/Systemcluster/wrappe/lib/runners"
)

var (
	argRunner          string
	argCompression     int
	argUnpackTarget    string
	argUnpackDirectory string
	argVersioning      string
	argVerification    string
	argVersionString   string
	argShowInfo        string
	argConsole         string
	argCurrentDir      string
	argCleanup         bool
	argOnce            bool
	argBuildDictionary bool
	argListRunners     bool
)

func init() {
	flags := shared.RootCmd.Flags()
	flags.StringVarP(&argRunner, "runner", "r", "native", "Runner target, a triple or a unique prefix")
	flags.IntVarP(&argCompression, "compression", "c", 8, "Compression level, 0 to 22")
	flags.StringVarP(&argUnpackTarget, "unpack-target", "t", "temp", "Unpack root: temp, local, or cwd")
	flags.StringVarP(&argUnpackDirectory, "unpack-directory", "d", "", "Directory name inside the unpack root")
	flags.StringVarP(&argVersioning, "versioning", "s", "sidebyside", "Unpack versioning: sidebyside, replace, or none")
	flags.StringVar(&argVersionString, "version-string", "", "Version string, up to 8 characters")
	flags.StringVarP(&argVerification, "verification", "e", "existence", "Pre-skip verification: existence, checksum, or none")
	flags.StringVarP(&argShowInfo, "show-information", "i", "title", "Runner output: title, verbose, or none")
	flags.StringVarP(&argConsole, "console", "o", "auto", "Console policy: auto, always, never, or attach")
	flags.StringVarP(&argCurrentDir, "current-dir", "w", "inherit", "Working directory of the command: inherit, unpack, runner, or command")
	flags.BoolVar(&argCleanup, "cleanup", false, "Remove the unpack directory after the command exits")
	flags.BoolVar(&argOnce, "once", false, "Skip launching when the command is already running")
	flags.BoolVarP(&argBuildDictionary, "build-dictionary", "b", false, "Train a shared compression dictionary")
	flags.BoolVarP(&argListRunners, "list-runners", "l", false, "List available runners and exit")
	shared.RootCmd.Args = checkArgs
	shared.RootCmd.RunE = runPack
}

func checkArgs(cmd *cobra.Command, args []string) error {
	if argListRunners {
		return nil
	}
	n := len(args)
	if dash := cmd.Flags().ArgsLenAtDash(); dash >= 0 {
		n = dash
	}
	if n < 2 || n > 3 {
		return fmt.Errorf("expected <input> <command> [output], got %d arguments", n)
	}
	return nil
}

func runPack(cmd *cobra.Command, args []string) error {
	if argListRunners {
		for _, triple := range runners.List() {
			fmt.Println(triple)
		}
		return nil
	}
	var extra []string
	if dash := cmd.Flags().ArgsLenAtDash(); dash >= 0 {
		extra = args[dash:]
		args = args[:dash]
	}
	if err := applyDefaults(cmd.Flags()); err != nil {
		return err
	}

	info := payload.StartInfo{}
	var err error
	if info.UnpackTarget, err = parseChoice("unpack-target", argUnpackTarget, map[string]payload.UnpackTarget{
		"temp": payload.TargetTemp, "local": payload.TargetLocal, "cwd": payload.TargetCwd,
	}); err != nil {
		return err
	}
	if info.Versioning, err = parseChoice("versioning", argVersioning, map[string]payload.Versioning{
		"sidebyside": payload.VersioningSideBySide, "replace": payload.VersioningReplace, "none": payload.VersioningNone,
	}); err != nil {
		return err
	}
	if info.Verification, err = parseChoice("verification", argVerification, map[string]payload.Verification{
		"existence": payload.VerifyExistence, "checksum": payload.VerifyChecksum, "none": payload.VerifyNone,
	}); err != nil {
		return err
	}
	if info.ShowInformation, err = parseChoice("show-information", argShowInfo, map[string]payload.ShowInformation{
		"title": payload.ShowTitle, "verbose": payload.ShowVerbose, "none": payload.ShowNone,
	}); err != nil {
		return err
	}
	if info.Console, err = parseChoice("console", argConsole, map[string]payload.Console{
		"auto": payload.ConsoleAuto, "always": payload.ConsoleAlways,
		"never": payload.ConsoleNever, "attach": payload.ConsoleAttach,
	}); err != nil {
		return err
	}
	if info.CurrentDir, err = parseChoice("current-dir", argCurrentDir, map[string]payload.CurrentDir{
		"inherit": payload.DirInherit, "unpack": payload.DirUnpack,
		"runner": payload.DirRunner, "command": payload.DirCommand,
	}); err != nil {
		return err
	}
	if argCompression < 0 || argCompression > 22 {
		return fmt.Errorf("invalid value for compression: %d, expected 0 to 22", argCompression)
	}
	if argCleanup {
		info.Cleanup = 1
	}
	if argOnce {
		info.Once = 1
	}

	id := uuid.New()
	if argVersionString != "" {
		// a fixed version string also fixes the id, repacks stay
		// byte-identical
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(argVersionString))
	}
	copy(info.VersionID[:], id[:])
	version := argVersionString
	if version == "" {
		version = info.VersionHex()[:8]
	}
	if len(version) > len(info.VersionString) || !printable(version) {
		return fmt.Errorf("invalid value for version-string: %q, expected up to %d printable characters",
			version, len(info.VersionString))
	}
	copy(info.VersionString[:], version)
	if !info.SetArgs(extra) {
		return fmt.Errorf("command arguments exceed %d bytes", payload.ArgsSize)
	}

	runner, err := runners.Find(argRunner)
	if err != nil {
		return err
	}

	input := args[0]
	unpackDir := argUnpackDirectory
	if unpackDir == "" {
		abs, err := filepath.Abs(input)
		if err != nil {
			return err
		}
		unpackDir = filepath.Base(abs)
	}
	if len(unpackDir) > len(info.UnpackDir) {
		return fmt.Errorf("unpack directory name exceeds %d bytes: %s", payload.NameSize, unpackDir)
	}
	copy(info.UnpackDir[:], unpackDir)
	info.UnpackDirLen = uint8(len(unpackDir))

	commandRel, err := commandInInput(input, args[1])
	if err != nil {
		return err
	}
	output := defaultOutput(commandRel, runner)
	if len(args) > 2 {
		output = args[2]
	}

	m, err := manifest.Walk(input, shared.Logger)
	if err != nil {
		return shared.Fail(err)
	}
	shared.Logger.Info().Int("files", len(m.Files)).Int("directories", len(m.Dirs)).
		Int("symlinks", len(m.Links)).Uint64("bytes", m.TotalSize).Msg("scanned input")

	progress := &compress.Progress{}
	stop := reportProgress(progress, len(m.Files))
	err = assemble.Pack(m, assemble.Options{
		Runner:          runner,
		Output:          output,
		CommandRel:      commandRel,
		Compression:     argCompression,
		BuildDictionary: argBuildDictionary,
		Info:            info,
		Progress:        progress,
		Log:             shared.Logger,
	})
	stop()
	return shared.Fail(err)
}

// applyDefaults merges the optional defaults file under flags the user
// did not set.
func applyDefaults(flags *pflag.FlagSet) error {
	defaults, err := config.Load()
	if err != nil {
		return err
	}
	setString := func(name string, arg *string, value string) {
		if value != "" && !flags.Changed(name) {
			*arg = value
		}
	}
	setBool := func(name string, arg *bool, value *bool) {
		if value != nil && !flags.Changed(name) {
			*arg = *value
		}
	}
	setString("runner", &argRunner, defaults.Runner)
	setString("unpack-target", &argUnpackTarget, defaults.UnpackTarget)
	setString("unpack-directory", &argUnpackDirectory, defaults.UnpackDirectory)
	setString("versioning", &argVersioning, defaults.Versioning)
	setString("verification", &argVerification, defaults.Verification)
	setString("show-information", &argShowInfo, defaults.ShowInformation)
	setString("console", &argConsole, defaults.Console)
	setString("current-dir", &argCurrentDir, defaults.CurrentDir)
	setBool("cleanup", &argCleanup, defaults.Cleanup)
	setBool("once", &argOnce, defaults.Once)
	setBool("build-dictionary", &argBuildDictionary, defaults.BuildDictionary)
	if defaults.Compression != nil && !flags.Changed("compression") {
		argCompression = *defaults.Compression
	}
	return nil
}

func parseChoice[T ~uint8](name, value string, choices map[string]T) (T, error) {
	if parsed, ok := choices[strings.ToLower(value)]; ok {
		return parsed, nil
	}
	names := make([]string, 0, len(choices))
	for choice := range choices {
		names = append(names, choice)
	}
	return 0, fmt.Errorf("invalid value for %s: %q, expected one of %s",
		name, value, strings.Join(names, ", "))
}

func printable(s string) bool {
	for _, c := range s {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// commandInInput resolves the command argument to a slash-delimited
// path relative to the input root. The command must live inside the
// input tree.
func commandInInput(input, command string) (string, error) {
	inputAbs, err := filepath.Abs(input)
	if err != nil {
		return "", err
	}
	commandAbs := command
	if !filepath.IsAbs(commandAbs) {
		joined := filepath.Join(inputAbs, command)
		if _, err := os.Lstat(joined); err == nil {
			commandAbs = joined
		} else if commandAbs, err = filepath.Abs(command); err != nil {
			return "", err
		}
	}
	rel, err := filepath.Rel(inputAbs, commandAbs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("command is not contained in the input: %s", command)
	}
	if rel == "." {
		rel = filepath.Base(inputAbs)
	}
	return filepath.ToSlash(rel), nil
}

func defaultOutput(commandRel, runner string) string {
	name := filepath.Base(filepath.FromSlash(commandRel))
	name = strings.TrimSuffix(name, filepath.Ext(name)) + "-packed"
	if strings.HasPrefix(runner, "windows-") {
		name += ".exe"
	}
	return name
}

// reportProgress redraws a counter on the terminal while compression
// runs. Non-terminal stderr stays quiet; the final summary is logged
// either way.
func reportProgress(progress *compress.Progress, total int) func() {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Fprintf(os.Stderr, "\rcompressing %d/%d files", atomic.LoadUint64(&progress.Files), total)
			case <-done:
				fmt.Fprintf(os.Stderr, "\r")
				return
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}
