package spawn

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// alreadyRunning reports whether any process is executing the given
// image. Processes we cannot inspect are skipped, so a positive answer
// is reliable and a negative one is best effort.
func alreadyRunning(command string) (bool, error) {
	self := os.Getpid()
	command = canonical(command)
	procs, err := process.Processes()
	if err != nil {
		return false, err
	}
	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		exe, err := p.Exe()
		if err != nil || exe == "" {
			continue
		}
		if pathsEqual(canonical(exe), command) {
			return true, nil
		}
	}
	return false, nil
}

func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return filepath.Clean(path)
}

func pathsEqual(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}
