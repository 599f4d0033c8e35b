package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobDirPath_Deterministic(t *testing.T) {
	p1, err := JobDirPath("/var/cache/salt", HashSHA256, "20260731120000000000")
	require.NoError(t, err)
	p2, err := JobDirPath("/var/cache/salt", HashSHA256, "20260731120000000000")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestJobDirPath_DifferentJIDsDiffer(t *testing.T) {
	p1, err := JobDirPath("/var/cache/salt", HashSHA256, "jid-a")
	require.NoError(t, err)
	p2, err := JobDirPath("/var/cache/salt", HashSHA256, "jid-b")
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
}

func TestJobDirPath_UnsupportedHash(t *testing.T) {
	_, err := JobDirPath("/var/cache/salt", HashType("sha1"), "jid")
	require.Error(t, err)
}

func TestJobDirPath_Blake3Deterministic(t *testing.T) {
	p1, err := JobDirPath("/var/cache/salt", HashBlake3, "20260731120000000000")
	require.NoError(t, err)
	p2, err := JobDirPath("/var/cache/salt", HashBlake3, "20260731120000000000")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)

	shaPath, err := JobDirPath("/var/cache/salt", HashSHA256, "20260731120000000000")
	require.NoError(t, err)
	assert.NotEqual(t, p1, shaPath)
}
