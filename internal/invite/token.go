package invite

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/keys"
)

const (
	// TokenPrefix starts every encoded token.
	TokenPrefix = "braid1."

	// SecretSize is the invite secret length in bytes.
	SecretSize = 32

	tokenVersion = 1
	keyInfo      = "braid/invite-key/v1"
)

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// Token is the bearer credential handed to a candidate out of band.
type Token struct {
	Version   int    `cbor:"1,keyasint"`
	Discovery string `cbor:"2,keyasint"`
	InviteID  string `cbor:"3,keyasint"`
	Secret    []byte `cbor:"4,keyasint"`
}

// NewToken creates a token with a fresh secret for the log with the given
// discovery id.
func NewToken(discovery string) (Token, error) {
	secret, err := keys.RandomBytes(SecretSize)
	if err != nil {
		return Token{}, err
	}
	t := Token{Version: tokenVersion, Discovery: discovery, Secret: secret}
	kp, err := t.KeyPair()
	if err != nil {
		return Token{}, err
	}
	t.InviteID = ir.InviteID(kp.PublicKey())
	return t, nil
}

// KeyPair derives the invite key pair from the secret.
func (t Token) KeyPair() (*keys.KeyPair, error) {
	if len(t.Secret) != SecretSize {
		return nil, fmt.Errorf("invite secret must be %d bytes", SecretSize)
	}
	return keys.DeriveKeyPair(t.Secret, keyInfo)
}

// Topic returns the rendezvous topic the candidate joins.
func (t Token) Topic() string {
	return ir.RendezvousTopic(t.Discovery)
}

// Encode renders the token as plain text.
func (t Token) Encode() (string, error) {
	raw, err := encMode.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// ParseToken decodes and checks a token. The invite id must match the key
// pair derived from the secret.
func ParseToken(s string) (Token, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, TokenPrefix) {
		return Token{}, ir.Validationf("invite token: missing %q prefix", TokenPrefix)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, TokenPrefix))
	if err != nil {
		return Token{}, ir.WrapError(ir.CodeValidation, "invite token", err)
	}
	var t Token
	if err := cbor.Unmarshal(raw, &t); err != nil {
		return Token{}, ir.WrapError(ir.CodeValidation, "invite token", err)
	}
	if t.Version != tokenVersion {
		return Token{}, ir.Validationf("invite token: unsupported version %d", t.Version)
	}
	if t.Discovery == "" {
		return Token{}, ir.Validationf("invite token: missing discovery id")
	}
	kp, err := t.KeyPair()
	if err != nil {
		return Token{}, ir.WrapError(ir.CodeValidation, "invite token", err)
	}
	if ir.InviteID(kp.PublicKey()) != t.InviteID {
		return Token{}, ir.Validationf("invite token: id does not match secret")
	}
	return t, nil
}
