package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	target := filepath.Join(root, "a", "worker.py")
	require.NoError(t, os.WriteFile(target, []byte("#"), 0o644))

	assert.Equal(t, target, FindUp("worker.py", nested))
	assert.Equal(t, target, FindUp("worker.py", filepath.Join(root, "a")))
	assert.Equal(t, "", FindUp("nonexistent.py", nested))
}
