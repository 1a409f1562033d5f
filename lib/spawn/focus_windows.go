//go:build windows

package spawn

import (
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/shirou/gopsutil/v4/process"
)

var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	procEnumWindows              = user32.NewProc("EnumWindows")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
	procSetForegroundWindow      = user32.NewProc("SetForegroundWindow")
	procShowWindow               = user32.NewProc("ShowWindow")
)

const swRestore = 9

// focusExisting brings the visible window of the already-running
// instance to the foreground instead of silently doing nothing.
func focusExisting(command string) {
	procs, err := process.Processes()
	if err != nil {
		return
	}
	var pid int32
	for _, p := range procs {
		exe, err := p.Exe()
		if err != nil {
			continue
		}
		if strings.EqualFold(canonical(exe), canonical(command)) {
			pid = p.Pid
			break
		}
	}
	if pid == 0 {
		return
	}
	callback := windows.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		var owner uint32
		procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&owner)))
		if owner != uint32(pid) {
			return 1
		}
		if visible, _, _ := procIsWindowVisible.Call(hwnd); visible == 0 {
			return 1
		}
		procShowWindow.Call(hwnd, swRestore)
		procSetForegroundWindow.Call(hwnd)
		return 0
	})
	procEnumWindows.Call(callback, 0)
}
