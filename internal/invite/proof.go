package invite

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/curve25519"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/keys"
)

// ProofTTL bounds how long a proof of possession is accepted.
const ProofTTL = 30 * time.Second

// Proof is a verified proof of possession.
type Proof struct {
	Candidate ir.WriterKey
	InviteID  string
	Session   string
	SealKey   []byte
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type proofClaims struct {
	SealKey string `json:"sk"`
	jwt.RegisteredClaims
}

// SignProof signs a proof of possession of the invite in t on behalf of
// candidate, bound to one pairing session and the candidate's seal key.
func SignProof(t Token, candidate ir.WriterKey, session string, sealKey []byte, now time.Time) (string, error) {
	kp, err := t.KeyPair()
	if err != nil {
		return "", err
	}
	claims := proofClaims{
		SealKey: base64.RawURLEncoding.EncodeToString(sealKey),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    string(candidate),
			Subject:   t.InviteID,
			Audience:  jwt.ClaimStrings{t.Discovery},
			ID:        session,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ProofTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(kp.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("sign proof: %w", err)
	}
	return signed, nil
}

// VerifyProof checks a proof against the stored invite. Failures are
// ValidationErrors and must never be reported to the candidate.
func VerifyProof(proof string, inv Invite, discovery string, now time.Time) (Proof, error) {
	raw, err := hex.DecodeString(inv.PublicKey)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return Proof{}, ir.Validationf("proof: invite %s has no usable public key", inv.ID)
	}
	pub := ed25519.PublicKey(raw)
	if ir.InviteCommitment(pub) != inv.Commitment {
		return Proof{}, ir.Validationf("proof: invite %s commitment mismatch", inv.ID)
	}

	var claims proofClaims
	_, err = jwt.ParseWithClaims(proof, &claims, func(*jwt.Token) (any, error) {
		return pub, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Proof{}, mapJWTError(err)
	}

	if claims.Subject != inv.ID {
		return Proof{}, ir.Validationf("proof: subject mismatch")
	}
	if !slices.Contains([]string(claims.Audience), discovery) {
		return Proof{}, ir.Validationf("proof: audience mismatch")
	}
	if claims.ID == "" {
		return Proof{}, ir.Validationf("proof: jti is required")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return Proof{}, ir.Validationf("proof: iat and exp are required")
	}
	exp := claims.ExpiresAt.Time
	if !exp.After(now) {
		return Proof{}, ir.Validationf("proof: expired")
	}
	if exp.Sub(claims.IssuedAt.Time) > ProofTTL {
		return Proof{}, ir.Validationf("proof: lifetime exceeds %s", ProofTTL)
	}
	candidate, err := keys.ParseWriterKey(claims.Issuer)
	if err != nil {
		return Proof{}, ir.WrapError(ir.CodeValidation, "proof: issuer", err)
	}
	sealKey, err := base64.RawURLEncoding.DecodeString(claims.SealKey)
	if err != nil || len(sealKey) != curve25519.PointSize {
		return Proof{}, ir.Validationf("proof: seal key is invalid")
	}

	return Proof{
		Candidate: candidate,
		InviteID:  claims.Subject,
		Session:   claims.ID,
		SealKey:   sealKey,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: exp,
	}, nil
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return ir.WrapError(ir.CodeValidation, "proof: signature is invalid", err)
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return ir.WrapError(ir.CodeValidation, "proof: alg is invalid", err)
	}
	return ir.WrapError(ir.CodeValidation, "proof: malformed", err)
}
