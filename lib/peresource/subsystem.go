package peresource

import (
	"debug/pe"

	"github.com/Systemcluster/wrappe/lib/magic"
	"github.com/Systemcluster/wrappe/lib/payload"
)

// Subsystem inspects the command executable to decide whether the
// runner should expect a console or a GUI program. Non-PE executables
// are always console programs for our purposes.
func Subsystem(path string) payload.Subsystem {
	switch magic.DetectFile(path) {
	case magic.FileTypePE:
	case magic.FileTypeELF, magic.FileTypeMachO:
		return payload.SubsystemConsole
	default:
		return payload.SubsystemUnknown
	}
	f, err := pe.Open(path)
	if err != nil {
		return payload.SubsystemUnknown
	}
	defer f.Close()
	var subsystem uint16
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		subsystem = oh.Subsystem
	case *pe.OptionalHeader64:
		subsystem = oh.Subsystem
	}
	switch subsystem {
	case pe.IMAGE_SUBSYSTEM_WINDOWS_GUI:
		return payload.SubsystemGUI
	case pe.IMAGE_SUBSYSTEM_WINDOWS_CUI:
		return payload.SubsystemConsole
	}
	return payload.SubsystemUnknown
}
