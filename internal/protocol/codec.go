package protocol

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/chacha20poly1305"
)

// Codec transforms outgoing frames before transmission and reverses the
// transform on receipt. Encode order is compress-then-encrypt; Decode is
// symmetric.
type Codec interface {
	Encode(frame []byte) ([]byte, error)
	Decode(frame []byte) ([]byte, error)
}

type identityCodec struct{}

func (identityCodec) Encode(frame []byte) ([]byte, error) { return frame, nil }
func (identityCodec) Decode(frame []byte) ([]byte, error) { return frame, nil }

// Identity returns the pass-through codec, the default.
func Identity() Codec { return identityCodec{} }

type chainCodec []Codec

func (c chainCodec) Encode(frame []byte) ([]byte, error) {
	var err error
	for _, codec := range c {
		if frame, err = codec.Encode(frame); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

func (c chainCodec) Decode(frame []byte) ([]byte, error) {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		if frame, err = c[i].Decode(frame); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// Chain composes codecs; Encode applies left to right, Decode right to left.
func Chain(codecs ...Codec) Codec {
	if len(codecs) == 0 {
		return Identity()
	}
	if len(codecs) == 1 {
		return codecs[0]
	}
	return chainCodec(codecs)
}

type gzipCodec struct{}

// Gzip returns a gzip compression codec.
func Gzip() Codec { return gzipCodec{} }

func (gzipCodec) Encode(frame []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(frame); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decode(frame []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

type sealedCodec struct {
	key []byte
}

// Sealed returns an authenticated-encryption codec. The key must be 32 bytes.
func Sealed(key []byte) (Codec, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d",
			chacha20poly1305.KeySize, len(key))
	}
	return &sealedCodec{key: append([]byte(nil), key...)}, nil
}

func (c *sealedCodec) Encode(frame []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return aead.Seal(nonce, nonce, frame, nil), nil
}

func (c *sealedCodec) Decode(frame []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	if len(frame) < aead.NonceSize() {
		return nil, fmt.Errorf("decrypt: frame shorter than nonce")
	}
	nonce, sealed := frame[:aead.NonceSize()], frame[aead.NonceSize():]
	out, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return out, nil
}
