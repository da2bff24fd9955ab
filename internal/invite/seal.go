package invite

import (
	"crypto/cipher"
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/keys"
)

const welcomeInfo = "braid/welcome/v1"

// Welcome is the material a member hands an admitted candidate.
type Welcome struct {
	LogKey        ir.WriterKey `cbor:"1,keyasint"`
	EncryptionKey []byte       `cbor:"2,keyasint,omitempty"`
}

// SealKey is a candidate's ephemeral X25519 key for one pairing session.
// Its public half travels inside the signed proof, so a member seals the
// welcome to a key only the invite holder vouched for.
type SealKey struct {
	priv []byte
	pub  []byte
}

// NewSealKey generates a fresh seal key.
func NewSealKey() (*SealKey, error) {
	priv, err := keys.RandomBytes(curve25519.ScalarSize)
	if err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("seal key: %w", err)
	}
	return &SealKey{priv: priv, pub: pub}, nil
}

// Wipe zeroes the private half. Open fails afterwards.
func (k *SealKey) Wipe() {
	clear(k.priv)
	k.priv = nil
}

// Public returns the public half.
func (k *SealKey) Public() []byte {
	return slices.Clone(k.pub)
}

// Seal encrypts w to recipient for one session. The output is the
// sender's ephemeral public key, the nonce and the ciphertext.
func Seal(recipient []byte, session string, w Welcome) ([]byte, error) {
	eph, err := NewSealKey()
	if err != nil {
		return nil, err
	}
	defer eph.Wipe()
	shared, err := curve25519.X25519(eph.priv, recipient)
	if err != nil {
		return nil, ir.WrapError(ir.CodeValidation, "seal welcome", err)
	}
	aead, err := welcomeAEAD(shared, session)
	clear(shared)
	if err != nil {
		return nil, err
	}
	plain, err := encMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("seal welcome: %w", err)
	}
	nonce, err := keys.RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(eph.pub)+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, eph.pub...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plain, additional(session, eph.pub, recipient)), nil
}

// Open decrypts a welcome sealed to k.
func (k *SealKey) Open(session string, sealed []byte) (Welcome, error) {
	if len(sealed) < curve25519.PointSize+chacha20poly1305.NonceSizeX {
		return Welcome{}, ir.Validationf("open welcome: too short")
	}
	if k.priv == nil {
		return Welcome{}, ir.Validationf("open welcome: seal key wiped")
	}
	ephPub := sealed[:curve25519.PointSize]
	rest := sealed[curve25519.PointSize:]

	shared, err := curve25519.X25519(k.priv, ephPub)
	if err != nil {
		return Welcome{}, ir.WrapError(ir.CodeValidation, "open welcome", err)
	}
	aead, err := welcomeAEAD(shared, session)
	clear(shared)
	if err != nil {
		return Welcome{}, err
	}
	nonce, body := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, additional(session, ephPub, k.pub))
	if err != nil {
		return Welcome{}, ir.WrapError(ir.CodeValidation, "open welcome", err)
	}
	var w Welcome
	if err := cbor.Unmarshal(plain, &w); err != nil {
		return Welcome{}, ir.WrapError(ir.CodeValidation, "open welcome", err)
	}
	return w, nil
}

func additional(session string, sender, recipient []byte) []byte {
	ad := make([]byte, 0, len(session)+len(sender)+len(recipient))
	ad = append(ad, session...)
	ad = append(ad, sender...)
	return append(ad, recipient...)
}

func welcomeAEAD(shared []byte, session string) (cipher.AEAD, error) {
	key, err := keys.Derive(shared, []byte(session), welcomeInfo, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("welcome cipher: %w", err)
	}
	return aead, nil
}
