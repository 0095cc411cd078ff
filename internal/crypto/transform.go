package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
)

// staticSalt keeps key derivation deterministic across devices: two clients
// configured with the same password derive the same key.
const staticSalt = "TailSync_Shared_Salt_v1"

const kdfIterations = 100_000

// Transform is the symmetric payload cipher applied to the two text fields
// of a sync message. Wire format: base64url(nonce[24] || secretbox sealed).
//
// Transform never fails outward: encryption or decryption problems degrade
// to an empty string so corrupt or foreign-key-encrypted data cannot crash
// a session. With an empty password the transform is a passthrough.
type Transform struct {
	key *[32]byte
}

// NewTransform derives the shared key from the configured password via
// PBKDF2-HMAC-SHA256. An empty password yields a passthrough transform.
func NewTransform(password string) *Transform {
	if password == "" {
		return &Transform{}
	}
	derived := pbkdf2.Key([]byte(password), []byte(staticSalt), kdfIterations, 32, sha256.New)
	key := new([32]byte)
	copy(key[:], derived)
	return &Transform{key: key}
}

// Enabled reports whether payloads are actually encrypted.
func (t *Transform) Enabled() bool {
	return t.key != nil
}

// Encrypt seals text under the shared key. Empty input stays empty; a
// sealed payload is returned as a base64url string.
func (t *Transform) Encrypt(text string) string {
	if text == "" {
		return ""
	}
	if t.key == nil {
		return text
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		// Failure to read entropy leaves nothing safe to send.
		return ""
	}

	sealed := secretbox.Seal(nonce[:], []byte(text), &nonce, t.key)
	return base64.URLEncoding.EncodeToString(sealed)
}

// Decrypt opens a payload produced by Encrypt. Any failure (bad base64,
// truncated data, wrong key) returns an empty string and an error for the
// caller to log; the message is still otherwise applied.
func (t *Transform) Decrypt(text string) (string, error) {
	if text == "" {
		return "", nil
	}
	if t.key == nil {
		return text, nil
	}

	sealed, err := base64.URLEncoding.DecodeString(text)
	if err != nil {
		return "", fmt.Errorf("payload is not valid base64: %w", err)
	}
	if len(sealed) < 24 {
		return "", fmt.Errorf("payload too short: %d bytes", len(sealed))
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, t.key)
	if !ok {
		return "", fmt.Errorf("decryption failed")
	}
	return string(plain), nil
}
