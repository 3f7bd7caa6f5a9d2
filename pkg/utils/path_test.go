package utils

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestContentHash(t *testing.T) {
	t.Parallel()

	// sha256("hello")
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := ContentHash([]byte("hello")); got != want {
		t.Errorf("ContentHash(hello) = %s, want %s", got, want)
	}
	if ContentHash([]byte("hello")) != ContentHash([]byte("hello")) {
		t.Error("ContentHash is not deterministic")
	}
	if ContentHash([]byte("hello")) == ContentHash([]byte("world")) {
		t.Error("different content produced the same hash")
	}
	if len(ContentHash(nil)) != ContentHashLen {
		t.Errorf("empty content hash length = %d, want %d", len(ContentHash(nil)), ContentHashLen)
	}
}

func TestValidateContentHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid", ContentHash([]byte("x")), false},
		{"too short", "abc", true},
		{"upper case", strings.ToUpper(ContentHash([]byte("x"))), true},
		{"traversal", "../" + ContentHash([]byte("x"))[3:], true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContentHash(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateContentHash(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestSecureJoin(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "root")

	got, err := SecureJoin(base, "abc")
	if err != nil {
		t.Fatalf("SecureJoin failed: %v", err)
	}
	if got != filepath.Join(base, "abc") {
		t.Errorf("SecureJoin = %s, want %s", got, filepath.Join(base, "abc"))
	}

	if _, err := SecureJoin(base, "..", "etc", "passwd"); err == nil {
		t.Error("expected traversal out of base to fail")
	}
	if _, err := SecureJoin("", "abc"); err == nil {
		t.Error("expected empty base to fail")
	}
}
