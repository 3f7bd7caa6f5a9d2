package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// ContentHashLen is the length of a hex-encoded SHA-256 digest.
const ContentHashLen = sha256.Size * 2

// ContentHash returns the lowercase hex SHA-256 digest of data. It is used as file
// identifier, version identifier and checksum.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidateContentHash checks that id is a well-formed content hash, which also guarantees
// it is safe to use as a single path element.
func ValidateContentHash(id string) error {
	if len(id) != ContentHashLen {
		return fmt.Errorf("invalid content hash length %d: %q", len(id), id)
	}
	for _, r := range id {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return fmt.Errorf("invalid content hash character %q in %q", r, id)
		}
	}
	return nil
}

// SecureJoin safely joins path elements and ensures the result stays within the base directory.
// Unlike filepath.Join, this function validates that the result doesn't escape the base through
// directory traversal.
//
// Example usage:
//
//	safePath, err := SecureJoin("/var/lib/vaultstore", fileID)
//	if err != nil {
//		return fmt.Errorf("invalid path combination: %w", err)
//	}
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) &&
		fullPath != cleanBase {
		return "", fmt.Errorf("path escapes base directory")
	}

	return fullPath, nil
}
