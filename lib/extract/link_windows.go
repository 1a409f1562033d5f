//go:build windows

package extract

import (
	"time"

	"golang.org/x/sys/windows"

	"github.com/Systemcluster/wrappe/lib/payload"
)

// makeLink creates the symlink with the recorded kind. The kind
// matters on Windows where directory and file symlinks are distinct
// and the target may not exist yet at creation time.
func makeLink(target, site string, kind uint32) error {
	var flags uint32 = windows.SYMBOLIC_LINK_FLAG_ALLOW_UNPRIVILEGED_CREATE
	if kind == payload.LinkDir {
		flags |= windows.SYMBOLIC_LINK_FLAG_DIRECTORY
	}
	sitep, err := windows.UTF16PtrFromString(site)
	if err != nil {
		return err
	}
	targetp, err := windows.UTF16PtrFromString(target)
	if err != nil {
		return err
	}
	return windows.CreateSymbolicLink(sitep, targetp, flags)
}

// lchtimes opens the link itself via the reparse-point flag so the
// timestamp lands on the link, not the target.
func lchtimes(site string, mtime time.Time) error {
	sitep, err := windows.UTF16PtrFromString(site)
	if err != nil {
		return err
	}
	handle, err := windows.CreateFile(sitep, windows.FILE_WRITE_ATTRIBUTES,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE, nil, windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OPEN_REPARSE_POINT, 0)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(handle)
	ft := windows.NsecToFiletime(mtime.UnixNano())
	return windows.SetFileTime(handle, nil, &ft, &ft)
}
