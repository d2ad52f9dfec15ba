package crypto

import (
	"encoding/base64"
	"testing"
)

func testKey(b byte) string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	encryptor, err := NewEncryptor(testKey(1))
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	for _, plaintext := range []string{"", "hunter2", "päßwörd with ünïcode"} {
		ciphertext, err := encryptor.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		got, err := encryptor.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip = %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	encryptor, _ := NewEncryptor(testKey(1))

	a, _ := encryptor.Encrypt("same")
	b, _ := encryptor.Encrypt("same")
	if string(a) == string(b) {
		t.Error("equal plaintexts produced identical ciphertexts")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	first, _ := NewEncryptor(testKey(1))
	second, _ := NewEncryptor(testKey(2))

	ciphertext, _ := first.Encrypt("secret")
	if _, err := second.Decrypt(ciphertext); err == nil {
		t.Error("decryption with the wrong key succeeded")
	}
}

func TestDecryptCorruptedData(t *testing.T) {
	encryptor, _ := NewEncryptor(testKey(1))

	ciphertext, _ := encryptor.Encrypt("secret")
	ciphertext[len(ciphertext)-1] ^= 0xff
	if _, err := encryptor.Decrypt(ciphertext); err == nil {
		t.Error("decryption of corrupted data succeeded")
	}

	if _, err := encryptor.Decrypt([]byte("short")); err == nil {
		t.Error("decryption of truncated data succeeded")
	}
}

func TestNewEncryptorRejectsBadKeys(t *testing.T) {
	if _, err := NewEncryptor("not base64!!"); err == nil {
		t.Error("invalid base64 accepted")
	}
	if _, err := NewEncryptor(base64.StdEncoding.EncodeToString([]byte("too short"))); err == nil {
		t.Error("short key accepted")
	}
}
