package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/notesync/notesync/internal/markdown"
)

// HashBytes returns the hex SHA-256 fingerprint of b under canonical form.
// Hashing always canonicalizes first so that a pulled file hashes identically
// after a write/read round trip.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(markdown.Canonicalize(b))
	return hex.EncodeToString(sum[:])
}

// HashFile reads and fingerprints a local file.
func HashFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("sync: hashing %s: %w", path, err)
	}

	return HashBytes(b), nil
}
