package storage

import (
	"crypto/rand"
	"errors"
	"testing"
)

// TestEncryptDecryptSecret verifies a round trip with the right key.
func TestEncryptDecryptSecret(t *testing.T) {
	key := make([]byte, 32)
	_, _ = rand.Read(key)

	encrypted, err := EncryptSecret("telegram-bot-secret", key)
	if err != nil {
		t.Fatalf("EncryptSecret failed: %v", err)
	}

	if string(encrypted) == "telegram-bot-secret" {
		t.Fatalf("ciphertext equals plaintext")
	}

	secret, err := DecryptSecret(encrypted, key)
	if err != nil {
		t.Fatalf("DecryptSecret failed: %v", err)
	}
	if secret != "telegram-bot-secret" {
		t.Errorf("round trip mismatch: got %q", secret)
	}
}

// TestEncryptSecretNonDeterministic verifies each encryption uses a fresh nonce.
func TestEncryptSecretNonDeterministic(t *testing.T) {
	key := make([]byte, 32)
	_, _ = rand.Read(key)

	a, err := EncryptSecret("secret", key)
	if err != nil {
		t.Fatalf("EncryptSecret failed: %v", err)
	}
	b, err := EncryptSecret("secret", key)
	if err != nil {
		t.Fatalf("EncryptSecret failed: %v", err)
	}

	if string(a) == string(b) {
		t.Errorf("expected distinct ciphertexts for repeated encryptions")
	}
}

// TestDecryptSecretWrongKey verifies decryption fails closed with the wrong key.
func TestDecryptSecretWrongKey(t *testing.T) {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	wrongKey := make([]byte, 32)
	_, _ = rand.Read(wrongKey)

	encrypted, err := EncryptSecret("secret", key)
	if err != nil {
		t.Fatalf("EncryptSecret failed: %v", err)
	}

	if _, err := DecryptSecret(encrypted, wrongKey); !errors.Is(err, ErrDecryption) {
		t.Errorf("expected ErrDecryption, got %v", err)
	}
}

// TestEncryptSecretInvalidKey verifies key length validation.
func TestEncryptSecretInvalidKey(t *testing.T) {
	if _, err := EncryptSecret("secret", make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

// TestHashVerifyKey verifies bcrypt hashing and verification.
func TestHashVerifyKey(t *testing.T) {
	hash, err := HashKey("admin-key-123")
	if err != nil {
		t.Fatalf("HashKey failed: %v", err)
	}
	if hash == "admin-key-123" {
		t.Fatalf("hash equals plaintext")
	}

	if err := VerifyKey("admin-key-123", hash); err != nil {
		t.Errorf("VerifyKey rejected the right key: %v", err)
	}
	if err := VerifyKey("wrong-key", hash); err == nil {
		t.Errorf("VerifyKey accepted the wrong key")
	}
}
