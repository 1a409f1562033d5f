//go:build unix

package extract

import (
	"time"

	"golang.org/x/sys/unix"
)

func makeLink(target, site string, kind uint32) error {
	return unix.Symlink(target, site)
}

// lchtimes sets the mtime of the link itself rather than its target.
func lchtimes(site string, mtime time.Time) error {
	times := []unix.Timespec{
		unix.NsecToTimespec(mtime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, site, times, unix.AT_SYMLINK_NOFOLLOW)
}
