// Package extract is the runner's engine: it locates the payload in
// the runner's own mapped image, resolves and locks the unpack
// directory, decides whether extraction can be skipped, and reifies
// the payload onto the filesystem.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
)

// SelfImage memory-maps the running executable read-only. The mapping
// stays alive for the process lifetime unless the closer is called;
// workers borrow immutable slices from it.
func SelfImage() (string, []byte, func() error, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", nil, nil, fmt.Errorf("couldn't locate the current executable: %w", err)
	}
	// resolve through launcher symlinks to the real image
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	f, err := os.Open(exe)
	if err != nil {
		return "", nil, nil, fmt.Errorf("couldn't open %s: %w", exe, err)
	}
	data, unmap, err := mapFile(f)
	if err != nil {
		f.Close()
		return "", nil, nil, fmt.Errorf("couldn't map %s: %w", exe, err)
	}
	closer := func() error {
		err := unmap()
		f.Close()
		return err
	}
	return exe, data, closer, nil
}
