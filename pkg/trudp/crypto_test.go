package trudp

import (
	"bytes"
	"testing"
)

func TestDHKeyPairSharedSecretAgrees(t *testing.T) {
	client, err := GenerateDHKeyPair()
	if err != nil {
		t.Fatalf("GenerateDHKeyPair(client) error: %v", err)
	}
	server, err := GenerateDHKeyPair()
	if err != nil {
		t.Fatalf("GenerateDHKeyPair(server) error: %v", err)
	}

	clientSecret := client.SharedSecret(server.Public)
	serverSecret := server.SharedSecret(client.Public)
	if !bytes.Equal(clientSecret, serverSecret) {
		t.Fatalf("shared secrets disagree: client=%x server=%x", clientSecret, serverSecret)
	}
}

func TestDeriveSessionKeyDeterministicAndFullLength(t *testing.T) {
	secret := []byte{1, 2, 3, 4, 5}
	k1, err := DeriveSessionKey(secret)
	if err != nil {
		t.Fatalf("DeriveSessionKey error: %v", err)
	}
	k2, err := DeriveSessionKey(secret)
	if err != nil {
		t.Fatalf("DeriveSessionKey error: %v", err)
	}
	if len(k1) != 32 {
		t.Fatalf("len(key) = %d, want 32", len(k1))
	}
	if !bytes.Equal(k1, k2) {
		t.Fatalf("DeriveSessionKey not deterministic for identical input")
	}
}

func TestEncryptDecryptPayloadRoundTrip(t *testing.T) {
	key, _ := DeriveSessionKey([]byte("shared-secret-material"))
	iv, err := GenerateIV()
	if err != nil {
		t.Fatalf("GenerateIV error: %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", nil},
		{"short", []byte("hi")},
		{"multi-block", bytes.Repeat([]byte("trudp-confidential-mode-"), 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := EncryptPayload(key, iv, tt.plaintext)
			got, err := DecryptPayload(key, iv, blob)
			if err != nil {
				t.Fatalf("DecryptPayload error: %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Fatalf("round trip = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestDecryptPayloadRejectsTamperedCiphertext(t *testing.T) {
	key, _ := DeriveSessionKey([]byte("shared-secret-material"))
	iv, _ := GenerateIV()
	blob := EncryptPayload(key, iv, []byte("authenticate me"))
	blob[len(blob)-1] ^= 0xFF

	if _, err := DecryptPayload(key, iv, blob); err != ErrMACMismatch {
		t.Fatalf("DecryptPayload(tampered) error = %v, want ErrMACMismatch", err)
	}
}

func TestDecryptPayloadRejectsWrongKey(t *testing.T) {
	key1, _ := DeriveSessionKey([]byte("secret-one"))
	key2, _ := DeriveSessionKey([]byte("secret-two"))
	iv, _ := GenerateIV()
	blob := EncryptPayload(key1, iv, []byte("top secret"))

	if _, err := DecryptPayload(key2, iv, blob); err != ErrMACMismatch {
		t.Fatalf("DecryptPayload(wrong key) error = %v, want ErrMACMismatch", err)
	}
}
