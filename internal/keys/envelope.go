package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidEnvelope is returned when an envelope is too short or its
	// padding is malformed.
	ErrInvalidEnvelope = errors.New("invalid envelope")

	// ErrMACMismatch is returned when envelope authentication fails.
	ErrMACMismatch = errors.New("envelope MAC mismatch")
)

const (
	// MACSize is the size of the HMAC-SHA256 tag prepended to envelopes.
	MACSize = 32

	// EnvelopeOverhead is the minimum overhead of a sealed envelope:
	// MAC tag, IV, and at least one byte of CBC padding.
	EnvelopeOverhead = MACSize + aes.BlockSize + 1
)

// Seal encrypts plaintext with AES-256-CBC and prepends an HMAC-SHA256 tag
// over IV||ciphertext. Layout: mac(32) || iv(16) || ciphertext.
func Seal(encKey, macKey, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, MACSize+aes.BlockSize+len(padded))

	iv := out[MACSize : MACSize+aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[MACSize+aes.BlockSize:], padded)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(out[MACSize:])
	copy(out[:MACSize], mac.Sum(nil))

	return out, nil
}

// Open authenticates and decrypts an envelope produced by Seal.
func Open(encKey, macKey, envelope []byte) ([]byte, error) {
	if len(envelope) < EnvelopeOverhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidEnvelope, len(envelope))
	}

	mac := hmac.New(sha256.New, macKey)
	mac.Write(envelope[MACSize:])
	if !hmac.Equal(mac.Sum(nil), envelope[:MACSize]) {
		return nil, ErrMACMismatch
	}

	body := envelope[MACSize:]
	if (len(body)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block aligned", ErrInvalidEnvelope)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	plaintext := make([]byte, len(body)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, body[:aes.BlockSize]).CryptBlocks(plaintext, body[aes.BlockSize:])

	return unpad(plaintext, aes.BlockSize)
}

// pad applies PKCS#7 padding.
func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

// unpad removes and validates PKCS#7 padding.
func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, fmt.Errorf("%w: bad padded length %d", ErrInvalidEnvelope, len(b))
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding byte %d", ErrInvalidEnvelope, n)
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, fmt.Errorf("%w: inconsistent padding", ErrInvalidEnvelope)
		}
	}
	return b[:len(b)-n], nil
}
