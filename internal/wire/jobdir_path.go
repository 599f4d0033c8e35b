package wire

import (
	"crypto/md5" //nolint:gosec // compatibility hash option, not used for security
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// HashType selects the hash used to derive a job's on-disk directory name.
type HashType string

const (
	HashSHA256 HashType = "sha256"
	HashMD5    HashType = "md5"
	HashBlake3 HashType = "blake3"
)

// JobDirPath derives a job's on-disk directory from (cachedir, hash_type,
// jid). sha256 and md5 match the on-wire compatibility hashes a real
// deployment might already have on disk; blake3 is offered as a faster
// option for cache directories under this client's sole control.
func JobDirPath(cacheDir string, hashType HashType, jid string) (string, error) {
	var sum string
	switch hashType {
	case HashMD5:
		h := md5.Sum([]byte(jid)) //nolint:gosec
		sum = hex.EncodeToString(h[:])
	case HashSHA256, "":
		h := sha256.Sum256([]byte(jid))
		sum = hex.EncodeToString(h[:])
	case HashBlake3:
		h := blake3.Sum256([]byte(jid))
		sum = hex.EncodeToString(h[:])
	default:
		return "", fmt.Errorf("unsupported hash type %q", hashType)
	}
	return filepath.Join(cacheDir, "proc", sum), nil
}
