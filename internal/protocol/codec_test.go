package protocol

import (
	"bytes"
	"testing"
)

func TestCodecChains(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	sealed, err := Sealed(key)
	if err != nil {
		t.Fatalf("Sealed() error = %v", err)
	}

	payload := []byte(`{"id":"m1","kind":"data","payload":{"v":"` + string(bytes.Repeat([]byte("x"), 512)) + `"}}`)

	tests := []struct {
		name  string
		codec Codec
	}{
		{"identity", Identity()},
		{"gzip", Gzip()},
		{"sealed", sealed},
		{"gzip then sealed", Chain(Gzip(), sealed)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := tt.codec.Encode(payload)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			decoded, err := tt.codec.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !bytes.Equal(decoded, payload) {
				t.Error("decode did not restore original frame")
			}
		})
	}
}

func TestSealedRejectsTamper(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	sealed, err := Sealed(key)
	if err != nil {
		t.Fatalf("Sealed() error = %v", err)
	}

	encoded, err := sealed.Encode([]byte("frame"))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	encoded[len(encoded)-1] ^= 0xFF

	if _, err := sealed.Decode(encoded); err == nil {
		t.Error("tampered frame must fail authentication")
	}
}

func TestSealedKeySize(t *testing.T) {
	if _, err := Sealed([]byte("short")); err == nil {
		t.Error("short key must be rejected")
	}
}
