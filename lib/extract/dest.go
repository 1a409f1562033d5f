package extract

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Systemcluster/wrappe/lib/payload"
)

// Resolve maps the unpack target policy to the directory this payload
// version extracts into. Side-by-side versioning appends the version
// string so different payload versions never collide.
func Resolve(info *payload.StartInfo) (string, error) {
	var root string
	var err error
	switch info.UnpackTarget {
	case payload.TargetTemp:
		root = os.TempDir()
	case payload.TargetLocal:
		root, err = os.UserCacheDir()
	case payload.TargetCwd:
		root, err = os.Getwd()
	default:
		return "", fmt.Errorf("unknown unpack target %d", info.UnpackTarget)
	}
	if err != nil {
		return "", fmt.Errorf("couldn't resolve the unpack target: %w", err)
	}
	dir := filepath.Join(root, info.UnpackDirName())
	if info.Versioning == payload.VersioningSideBySide {
		dir = filepath.Join(dir, info.Version())
	}
	return dir, nil
}
