package dataphase

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD authenticates and, in encrypted mode, encrypts data-phase
// payloads per slot (spec §4.9: "compute nonce from
// (dataSuperframeNumber, seqNoOf(id), masterIndex)").
type AEAD interface {
	Seal(superframe, seq uint32, masterIndex uint8, plaintext []byte) []byte
	Open(superframe, seq uint32, masterIndex uint8, ciphertext []byte) ([]byte, bool)
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// ChaCha20Poly1305 wraps golang.org/x/crypto/chacha20poly1305 (the
// teacher's stream.go uses the sibling nacl/secretbox; chacha20poly1305
// is chosen here for its 12-byte nonce, which fits the per-slot
// (superframe, seq, masterIndex) derivation without truncation).
type ChaCha20Poly1305 struct {
	aead cipherAEAD
}

// NewChaCha20Poly1305 constructs an AEAD from a 32-byte key.
func NewChaCha20Poly1305(key []byte) (*ChaCha20Poly1305, error) {
	a, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &ChaCha20Poly1305{aead: a}, nil
}

func nonceFor(superframe, seq uint32, masterIndex uint8, size int) []byte {
	n := make([]byte, size)
	binary.LittleEndian.PutUint32(n[0:4], superframe)
	binary.LittleEndian.PutUint32(n[4:8], seq)
	if len(n) > 8 {
		n[8] = masterIndex
	}
	return n
}

// Seal authenticates (and encrypts) plaintext under the slot's derived
// nonce.
func (c *ChaCha20Poly1305) Seal(superframe, seq uint32, masterIndex uint8, plaintext []byte) []byte {
	nonce := nonceFor(superframe, seq, masterIndex, c.aead.NonceSize())
	return c.aead.Seal(nil, nonce, plaintext, nil)
}

// Open verifies and (if encrypted) decrypts ciphertext under the slot's
// derived nonce, reporting false on any authentication failure.
func (c *ChaCha20Poly1305) Open(superframe, seq uint32, masterIndex uint8, ciphertext []byte) ([]byte, bool) {
	nonce := nonceFor(superframe, seq, masterIndex, c.aead.NonceSize())
	pt, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, false
	}
	return pt, true
}
