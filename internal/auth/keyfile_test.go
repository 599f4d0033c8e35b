package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadKey_Present(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".root_key"), []byte("supersecret\n"), 0o600))

	assert.Equal(t, "supersecret", ReadKey(dir, "root"))
}

func TestReadKey_Missing(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "", ReadKey(dir, "root"))
}

func TestKeyFilePath(t *testing.T) {
	assert.Equal(t, "/var/cache/salt/.root_key", KeyFilePath("/var/cache/salt", "root"))
}

func TestResolveUser_NoSudo(t *testing.T) {
	t.Setenv("SUDO_USER", "")
	assert.Equal(t, "salt", ResolveUser("salt"))
}
