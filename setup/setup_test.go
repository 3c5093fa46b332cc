package setup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePython behaves like a Python interpreter for the subcommands the
// wizard issues: --version, -m pip --version, and -c "import x".
const fakePython = `#!/bin/sh
case "$1" in
  --version) echo "Python 3.11.5"; exit 0;;
  -m) exit 0;;
  -c)
    case "$2" in
      "import pandas"|"import openpyxl") exit 0;;
      *) exit 1;;
    esac;;
esac
exit 1
`

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func TestDetectPythonWithOverride(t *testing.T) {
	st := DetectPython(context.Background(), writeScript(t, fakePython))

	require.True(t, st.Installed)
	assert.Equal(t, "3.11.5", st.Version)
	assert.True(t, st.PipAvailable)
	assert.ElementsMatch(t, []string{"pandas", "openpyxl"}, st.PackagesInstalled)
	assert.Len(t, st.MissingPackages, len(RequiredPackages)-2)
}

func TestDetectPythonBadOverrideFallsThrough(t *testing.T) {
	// The override does not exist; detection should fall through to the
	// venv/system candidates (and possibly find nothing) without erroring.
	st := DetectPython(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if st.Installed {
		assert.NotEmpty(t, st.ExecutablePath)
	}
}

func TestInstallPackagesStreamsProgress(t *testing.T) {
	pip := writeScript(t, "#!/bin/sh\necho 'Collecting openpyxl'\necho 'Successfully installed openpyxl'\nexit 0\n")

	var lines []string
	err := InstallPackages(context.Background(), pip, []string{"openpyxl"}, func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Collecting openpyxl", "Successfully installed openpyxl"}, lines)
}

func TestInstallPackagesFailure(t *testing.T) {
	pip := writeScript(t, "#!/bin/sh\necho 'ERROR: no matching distribution'\nexit 1\n")
	err := InstallPackages(context.Background(), pip, []string{"nope"}, nil)
	require.Error(t, err)
}

func TestDownloadModel(t *testing.T) {
	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i)
	}

	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First attempt fails; the client must retry.
		if atomic.AddInt32(&requests, 1) == 1 {
			http.Error(w, "try again", http.StatusInternalServerError)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "models", "test.gguf")

	var last DownloadProgress
	err := DownloadModel(context.Background(), srv.URL, dest, func(p DownloadProgress) {
		last = p
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, int64(len(payload)), last.Downloaded)

	// No partial file left behind.
	_, err = os.Stat(dest + ".partial")
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	err := DownloadModel(context.Background(), srv.URL, filepath.Join(t.TempDir(), "m.gguf"), nil)
	require.Error(t, err)
}

func TestSetupMarker(t *testing.T) {
	dir := t.TempDir()

	assert.True(t, IsFirstRun(dir))
	require.NoError(t, MarkComplete(dir))
	assert.False(t, IsFirstRun(dir))

	require.NoError(t, Reset(dir))
	assert.True(t, IsFirstRun(dir))

	// Reset when already reset is fine.
	require.NoError(t, Reset(dir))
}

func TestCheckSystem(t *testing.T) {
	req, err := CheckSystem(t.TempDir())
	require.NoError(t, err)
	assert.NotEmpty(t, req.Platform)
	assert.Greater(t, req.CPUs, 0)
	assert.Greater(t, req.DiskFreeBytes, uint64(0))
}
