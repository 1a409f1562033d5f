//go:build windows

package spawn

import (
	"os/exec"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sys/windows"

	"github.com/Systemcluster/wrappe/lib/payload"
)

var (
	kernel32          = windows.NewLazySystemDLL("kernel32.dll")
	procAttachConsole = kernel32.NewProc("AttachConsole")
	procAllocConsole  = kernel32.NewProc("AllocConsole")
)

const attachParentProcess = ^uintptr(0)

func attachConsole() bool {
	ok, _, _ := procAttachConsole.Call(attachParentProcess)
	return ok != 0
}

func allocConsole() bool {
	ok, _, _ := procAllocConsole.Call()
	return ok != 0
}

// prepareConsole applies the console policy and reports whether the
// runner should wait for the child.
//
//	auto    share a console when the command is a console program
//	always  attach to the parent console or allocate one, then wait
//	never   detach the child entirely and return immediately
//	attach  attach the child to the parent console without waiting
func prepareConsole(cmd *exec.Cmd, console payload.Console, subsystem payload.Subsystem, log zerolog.Logger) bool {
	if console == payload.ConsoleAuto {
		if subsystem == payload.SubsystemGUI {
			console = payload.ConsoleNever
		} else {
			console = payload.ConsoleAlways
		}
	}
	switch console {
	case payload.ConsoleAlways:
		if !attachConsole() && !allocConsole() {
			log.Debug().Msg("couldn't obtain a console")
		}
		return true
	case payload.ConsoleNever:
		cmd.SysProcAttr = &syscall.SysProcAttr{
			CreationFlags: windows.DETACHED_PROCESS | windows.CREATE_NEW_PROCESS_GROUP,
		}
		return false
	case payload.ConsoleAttach:
		if !attachConsole() {
			log.Debug().Msg("no parent console to attach")
		}
		return false
	}
	return true
}
