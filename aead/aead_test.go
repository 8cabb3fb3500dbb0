package aead

import (
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestRoundTrip(t *testing.T) {
	codec, err := NewCodec(testKey(t))
	if err != nil {
		t.Fatal(err)
	}

	for _, plaintext := range [][]byte{
		[]byte(""),
		[]byte("hello"),
		make([]byte, 26214372),
	} {
		sealed, err := codec.Seal(plaintext)
		if err != nil {
			t.Fatal(err)
		}
		if len(sealed) != len(plaintext)+Overhead {
			t.Fatalf("unexpected sealed size: %v != %v", len(sealed), len(plaintext)+Overhead)
		}

		opened, err := codec.Open(sealed)
		if err != nil {
			t.Fatal(err)
		}
		if string(opened) != string(plaintext) {
			t.Fatalf("round trip mismatch: %q != %q", opened, plaintext)
		}
	}
}

func TestTamperedCiphertextFails(t *testing.T) {
	codec, err := NewCodec(testKey(t))
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := codec.Seal([]byte("hello world"))
	if err != nil {
		t.Fatal(err)
	}

	for i := range sealed {
		tampered := make([]byte, len(sealed))
		copy(tampered, sealed)
		tampered[i] ^= 0xff

		if _, err := codec.Open(tampered); err == nil {
			t.Fatalf("expected decryption to fail after tampering with byte %v", i)
		}
	}
}

func TestNewCodecRejectsBadKeys(t *testing.T) {
	if _, err := NewCodec("not valid base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := NewCodec(base64.StdEncoding.EncodeToString([]byte("too short"))); err == nil {
		t.Fatal("expected error for wrong-length key")
	}
}

func TestNoncesAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		nonce, err := newNonce()
		if err != nil {
			t.Fatal(err)
		}
		key := string(nonce)
		if seen[key] {
			t.Fatalf("nonce collision at iteration %v", i)
		}
		seen[key] = true
	}
}
