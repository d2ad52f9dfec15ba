package testutil

import (
	"encoding/base64"
	"testing"

	"github.com/mailchat/mailchat/internal/crypto"
)

// NewTestEncryptor creates an encryptor with a fixed 32-byte key so tests can
// decrypt each other's ciphertexts.
func NewTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	encryptor, err := crypto.NewEncryptor(key)
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}
	return encryptor
}
