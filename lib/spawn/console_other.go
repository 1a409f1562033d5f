//go:build !windows

package spawn

import (
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/Systemcluster/wrappe/lib/payload"
)

// prepareConsole reports whether the runner should wait for the child.
// Console policies only matter on Windows; everywhere else the runner
// always shares its terminal and waits.
func prepareConsole(cmd *exec.Cmd, console payload.Console, subsystem payload.Subsystem, log zerolog.Logger) bool {
	return true
}
