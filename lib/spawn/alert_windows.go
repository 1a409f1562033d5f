//go:build windows

package spawn

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	procMessageBoxW      = user32.NewProc("MessageBoxW")
	procGetConsoleWindow = kernel32.NewProc("GetConsoleWindow")
)

const mbIconError = 0x10

// Alert surfaces a fatal runner error to the user. GUI-mode runners
// have no console, so the message goes into a message box.
func Alert(title, message string) {
	if hwnd, _, _ := procGetConsoleWindow.Call(); hwnd != 0 {
		fmt.Fprintf(os.Stderr, "%s: %s\n", title, message)
		return
	}
	titlep, err := windows.UTF16PtrFromString(title)
	if err != nil {
		return
	}
	messagep, err := windows.UTF16PtrFromString(message)
	if err != nil {
		return
	}
	procMessageBoxW.Call(0,
		uintptr(unsafe.Pointer(messagep)),
		uintptr(unsafe.Pointer(titlep)),
		mbIconError)
}
