// Package keys provides handshake key material for wirelink.
// It uses X25519 for the handshake key exchange and HKDF-SHA256 to expand
// the shared secret into the session key block.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of X25519 keys in bytes.
	KeySize = 32

	// ClientIDSize is the size of the random client identifier in bytes.
	ClientIDSize = 16

	// BlockSize is the size of the expanded session key block in bytes:
	// 32 bytes encryption key, 32 bytes MAC key, 16 bytes reserved.
	BlockSize = 80

	// hkdfInfo is the context string for HKDF key expansion.
	hkdfInfo = "wirelink-session-v1"
)

// KeyPair holds an X25519 keypair for one handshake attempt. The private
// scalar never leaves the process; on handshake success the pair is folded
// into the session, otherwise it is discarded.
type KeyPair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
}

// Generate creates a new X25519 keypair.
func Generate() (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	// Clamp the private key per X25519 spec
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64

	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return kp, nil
}

// PublicBase64 returns the public key encoded for handshake messages.
func (kp *KeyPair) PublicBase64() string {
	return base64.StdEncoding.EncodeToString(kp.Public[:])
}

// SharedSecret performs X25519 Diffie-Hellman with the server's public key.
func (kp *KeyPair) SharedSecret(serverPublic [KeySize]byte) ([KeySize]byte, error) {
	var secret [KeySize]byte

	var zero [KeySize]byte
	if serverPublic == zero {
		return secret, fmt.Errorf("invalid server public key: zero key")
	}

	curve25519.ScalarMult(&secret, &kp.Private, &serverPublic)

	if secret == zero {
		return secret, fmt.Errorf("invalid ECDH result: low-order point")
	}
	return secret, nil
}

// Zero clears the private scalar. Call after the handshake outcome is known.
func (kp *KeyPair) Zero() {
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}

// NewClientID generates a random client identifier, base64-encoded as the
// service expects it on the init message.
func NewClientID() (string, error) {
	var id [ClientIDSize]byte
	if _, err := io.ReadFull(rand.Reader, id[:]); err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	return base64.StdEncoding.EncodeToString(id[:]), nil
}

// ExpandKeyBlock expands an ECDH shared secret into the session key block
// using HKDF-SHA256. The handshake reference is mixed in as salt so key
// blocks differ between handshake attempts even if key material is reused.
func ExpandKeyBlock(sharedSecret [KeySize]byte, ref string) ([]byte, error) {
	reader := hkdf.New(sha256.New, sharedSecret[:], []byte(ref), []byte(hkdfInfo))

	block := make([]byte, BlockSize)
	if _, err := io.ReadFull(reader, block); err != nil {
		return nil, fmt.Errorf("expand key block: %w", err)
	}
	return block, nil
}

// SplitKeyBlock splits an expanded key block into its encryption and MAC keys.
func SplitKeyBlock(block []byte) (encKey, macKey []byte, err error) {
	if len(block) != BlockSize {
		return nil, nil, fmt.Errorf("key block is %d bytes, want %d", len(block), BlockSize)
	}
	return block[0:32], block[32:64], nil
}
