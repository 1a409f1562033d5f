package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Systemcluster/wrappe/lib/payload"
)

func testInfo(target payload.UnpackTarget, versioning payload.Versioning) *payload.StartInfo {
	info := &payload.StartInfo{UnpackTarget: target, Versioning: versioning}
	copy(info.UnpackDir[:], "myapp")
	info.UnpackDirLen = 5
	copy(info.VersionString[:], "v2")
	return info
}

func TestResolveTemp(t *testing.T) {
	dir, err := Resolve(testInfo(payload.TargetTemp, payload.VersioningSideBySide))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(os.TempDir(), "myapp", "v2"), dir)
}

func TestResolveReplaceSkipsVersion(t *testing.T) {
	dir, err := Resolve(testInfo(payload.TargetTemp, payload.VersioningReplace))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(os.TempDir(), "myapp"), dir)
}

func TestResolveCwd(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir, err := Resolve(testInfo(payload.TargetCwd, payload.VersioningNone))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "myapp"), dir)
}

func TestResolveLocal(t *testing.T) {
	cache, err := os.UserCacheDir()
	if err != nil {
		t.Skip("no user cache directory in this environment")
	}
	dir, err := Resolve(testInfo(payload.TargetLocal, payload.VersioningNone))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cache, "myapp"), dir)
}
