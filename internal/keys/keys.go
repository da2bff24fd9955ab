// Package keys provides the signing capability used by writer logs and
// invites: Ed25519 key pairs, hex writer keys, and HKDF derivation.
//
// The rest of braid depends only on the Signer and Verifier interfaces.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/roach88/braid/internal/ir"
)

// Signer signs messages on behalf of one writer key.
type Signer interface {
	Public() ir.WriterKey
	Sign(msg []byte) []byte
}

// Verifier checks a signature against a writer key.
type Verifier interface {
	Verify(key ir.WriterKey, msg, sig []byte) bool
}

// KeyPair is an Ed25519 key pair. It implements Signer.
type KeyPair struct {
	priv ed25519.PrivateKey
}

// Generate creates a random key pair.
func Generate() (*KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// FromSeed rebuilds a key pair from its 32-byte seed.
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &KeyPair{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// Seed returns the private seed. Persist it, never the expanded key.
func (k *KeyPair) Seed() []byte {
	return k.priv.Seed()
}

// Public returns the writer key.
func (k *KeyPair) Public() ir.WriterKey {
	return ir.WriterKey(hex.EncodeToString(k.PublicKey()))
}

// PublicKey returns the raw public key.
func (k *KeyPair) PublicKey() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}

// PrivateKey returns the raw private key, for libraries that sign with it
// directly (JWT).
func (k *KeyPair) PrivateKey() ed25519.PrivateKey {
	return k.priv
}

// Sign signs msg.
func (k *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// Ed25519Verifier verifies signatures made by KeyPair.
type Ed25519Verifier struct{}

// Verify reports whether sig is a valid signature of msg by key.
// Malformed keys never verify.
func (Ed25519Verifier) Verify(key ir.WriterKey, msg, sig []byte) bool {
	pub, err := PublicKeyBytes(key)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// ParseWriterKey validates and normalizes a hex writer key.
func ParseWriterKey(s string) (ir.WriterKey, error) {
	k := ir.WriterKey(strings.ToLower(strings.TrimSpace(s)))
	if _, err := PublicKeyBytes(k); err != nil {
		return "", err
	}
	return k, nil
}

// PublicKeyBytes decodes a writer key.
func PublicKeyBytes(k ir.WriterKey) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(string(k))
	if err != nil {
		return nil, fmt.Errorf("writer key %q: %w", k.Short(), err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("writer key %q: want %d bytes, got %d", k.Short(), ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Derive expands secret into n bytes with HKDF-SHA256.
func Derive(secret, salt []byte, info string, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("derive %s: %w", info, err)
	}
	return out, nil
}

// DeriveKeyPair derives a deterministic key pair from secret. The same
// secret and info always produce the same pair.
func DeriveKeyPair(secret []byte, info string) (*KeyPair, error) {
	seed, err := Derive(secret, nil, info, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	return FromSeed(seed)
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("random bytes: %w", err)
	}
	return b, nil
}
