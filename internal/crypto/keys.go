package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Purpose labels for keys derived from the session secret. Each purpose gets
// an independent key so a leak of one does not compromise the others.
const (
	PurposeSessionEncryption = "flexrz-auth/session-encryption/v1"
	PurposePendingSigning    = "flexrz-auth/pending-signing/v1"
	PurposeStateSigning      = "flexrz-auth/oauth-state/v1"
)

// DeriveKey expands secret into a 32-byte key bound to purpose using HKDF-SHA256.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty secret")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive %s key: %w", purpose, err)
	}
	return key, nil
}
