package sensitive

import (
	"strings"
	"testing"
)

func TestNewFieldCipherEmptySecret(t *testing.T) {
	if _, err := NewFieldCipher(""); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewFieldCipher("unit-test-secret")
	if err != nil {
		t.Fatalf("NewFieldCipher error: %v", err)
	}
	tests := []struct {
		name  string
		value string
	}{
		{"phone", "13800138000"},
		{"name", "张三"},
		{"long", strings.Repeat("x", 200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := c.Encrypt(tt.value)
			if err != nil {
				t.Fatalf("Encrypt error: %v", err)
			}
			if !strings.HasPrefix(enc, EncryptedValuePrefix) {
				t.Errorf("ciphertext %q lacks marker", enc)
			}
			dec, err := c.Decrypt(enc)
			if err != nil {
				t.Fatalf("Decrypt error: %v", err)
			}
			if dec != tt.value {
				t.Errorf("got %q, want %q", dec, tt.value)
			}
		})
	}
}

func TestEncryptDeterministic(t *testing.T) {
	c, _ := NewFieldCipher("unit-test-secret")
	e1, _ := c.Encrypt("13800138000")
	e2, _ := c.Encrypt("13800138000")
	if e1 != e2 {
		t.Error("same plaintext must produce the same ciphertext")
	}
}

func TestEncryptIdempotent(t *testing.T) {
	c, _ := NewFieldCipher("unit-test-secret")
	enc, _ := c.Encrypt("13800138000")
	again, err := c.Encrypt(enc)
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}
	if again != enc {
		t.Error("encrypting marked ciphertext must be a no-op")
	}
}

func TestEncryptEmptyValue(t *testing.T) {
	c, _ := NewFieldCipher("unit-test-secret")
	enc, err := c.Encrypt("")
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}
	if enc != "" {
		t.Errorf("empty value must stay empty, got %q", enc)
	}
}

func TestDecryptUnmarkedPassThrough(t *testing.T) {
	c, _ := NewFieldCipher("unit-test-secret")
	dec, err := c.Decrypt("plain legacy value")
	if err != nil {
		t.Fatalf("Decrypt error: %v", err)
	}
	if dec != "plain legacy value" {
		t.Errorf("got %q", dec)
	}
}

func TestDecryptCorruptMarkedValue(t *testing.T) {
	c, _ := NewFieldCipher("unit-test-secret")
	if _, err := c.Decrypt(EncryptedValuePrefix + "!!!not base64!!!"); err == nil {
		t.Error("expected error for marked non-ciphertext")
	}
}

func TestKeysDifferPerSecret(t *testing.T) {
	c1, _ := NewFieldCipher("secret-one")
	c2, _ := NewFieldCipher("secret-two")
	enc, _ := c1.Encrypt("value")
	if _, err := c2.Decrypt(enc); err == nil {
		// Wrong key usually fails padding validation. If it happens to
		// pass, the plaintext must at least differ.
		dec, _ := c2.Decrypt(enc)
		if dec == "value" {
			t.Error("different secrets must not share a key")
		}
	}
}

func TestLongSecretUsedDirectly(t *testing.T) {
	secret := strings.Repeat("k", 40)
	c, err := NewFieldCipher(secret)
	if err != nil {
		t.Fatalf("NewFieldCipher error: %v", err)
	}
	enc, _ := c.Encrypt("v")
	dec, err := c.Decrypt(enc)
	if err != nil || dec != "v" {
		t.Errorf("round trip with long secret: %q, %v", dec, err)
	}
}
