package invite

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/keys"
)

func TestTokenEncodeParse(t *testing.T) {
	tok, err := NewToken(ir.DiscoveryID(member))
	require.NoError(t, err)

	s, err := tok.Encode()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s, TokenPrefix))

	got, err := ParseToken("  " + s + "\n")
	require.NoError(t, err)
	assert.Equal(t, tok, got)
	assert.Equal(t, ir.RendezvousTopic(tok.Discovery), got.Topic())
}

func TestTokenKeyPairIsDeterministic(t *testing.T) {
	tok, err := NewToken("d")
	require.NoError(t, err)

	a, err := tok.KeyPair()
	require.NoError(t, err)
	b, err := tok.KeyPair()
	require.NoError(t, err)
	assert.Equal(t, a.Public(), b.Public())
	assert.Equal(t, ir.InviteID(a.PublicKey()), tok.InviteID)
}

func TestParseTokenRejects(t *testing.T) {
	tok, err := NewToken("d")
	require.NoError(t, err)

	tampered := tok
	tampered.InviteID = strings.Repeat("0", 64)
	bad, err := tampered.Encode()
	require.NoError(t, err)

	noDiscovery := tok
	noDiscovery.Discovery = ""
	missing, err := noDiscovery.Encode()
	require.NoError(t, err)

	tests := map[string]string{
		"prefix":    "braid2.abc",
		"base64":    TokenPrefix + "!!!",
		"cbor":      TokenPrefix + "AAAA",
		"id":        bad,
		"discovery": missing,
	}
	for name, s := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(s)
			assert.True(t, ir.IsValidation(err), "got %v", err)
		})
	}
}

func stored(t *testing.T, tok Token) Invite {
	t.Helper()
	p, err := CreatePayload(tok, epoch.Add(time.Hour).UnixMilli(), 1)
	require.NoError(t, err)
	pub, _ := p.Str("public_key")
	commit, _ := p.Str("commitment")
	return Invite{ID: tok.InviteID, PublicKey: pub, Commitment: commit, ExpiresAt: epoch.Add(time.Hour).UnixMilli(), MaxUses: 1}
}

func sealKey(t *testing.T) *SealKey {
	t.Helper()
	k, err := NewSealKey()
	require.NoError(t, err)
	return k
}

func TestProofVerifies(t *testing.T) {
	tok, err := NewToken(ir.DiscoveryID(member))
	require.NoError(t, err)
	kp, err := keys.Generate()
	require.NoError(t, err)
	sk := sealKey(t)

	proof, err := SignProof(tok, kp.Public(), "session-1", sk.Public(), epoch)
	require.NoError(t, err)

	got, err := VerifyProof(proof, stored(t, tok), tok.Discovery, epoch.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, kp.Public(), got.Candidate)
	assert.Equal(t, tok.InviteID, got.InviteID)
	assert.Equal(t, "session-1", got.Session)
	assert.Equal(t, sk.Public(), got.SealKey)
}

func TestProofRejects(t *testing.T) {
	tok, err := NewToken(ir.DiscoveryID(member))
	require.NoError(t, err)
	kp, err := keys.Generate()
	require.NoError(t, err)
	sk := sealKey(t)
	proof, err := SignProof(tok, kp.Public(), "s", sk.Public(), epoch)
	require.NoError(t, err)

	otherTok, err := NewToken(ir.DiscoveryID(member))
	require.NoError(t, err)
	forged, err := SignProof(otherTok, kp.Public(), "s", sk.Public(), epoch)
	require.NoError(t, err)

	noSeal, err := SignProof(tok, kp.Public(), "s", nil, epoch)
	require.NoError(t, err)

	inv := stored(t, tok)

	t.Run("expired", func(t *testing.T) {
		_, err := VerifyProof(proof, inv, tok.Discovery, epoch.Add(ProofTTL))
		assert.True(t, ir.IsValidation(err))
	})
	t.Run("audience", func(t *testing.T) {
		_, err := VerifyProof(proof, inv, ir.DiscoveryID(other), epoch)
		assert.True(t, ir.IsValidation(err))
	})
	t.Run("wrong invite key", func(t *testing.T) {
		_, err := VerifyProof(forged, inv, tok.Discovery, epoch)
		assert.True(t, ir.IsValidation(err))
	})
	t.Run("bad commitment", func(t *testing.T) {
		bad := inv
		bad.Commitment = strings.Repeat("0", 64)
		_, err := VerifyProof(proof, bad, tok.Discovery, epoch)
		assert.True(t, ir.IsValidation(err))
	})
	t.Run("missing seal key", func(t *testing.T) {
		_, err := VerifyProof(noSeal, inv, tok.Discovery, epoch)
		assert.True(t, ir.IsValidation(err))
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := VerifyProof("a.b.c", inv, tok.Discovery, epoch)
		assert.True(t, ir.IsValidation(err))
	})
}

func TestSealOpen(t *testing.T) {
	sk := sealKey(t)
	w := Welcome{LogKey: member, EncryptionKey: []byte("0123456789abcdef0123456789abcdef")}

	sealed, err := Seal(sk.Public(), "s1", w)
	require.NoError(t, err)

	got, err := sk.Open("s1", sealed)
	require.NoError(t, err)
	assert.Equal(t, w, got)

	_, err = sk.Open("s2", sealed)
	assert.True(t, ir.IsValidation(err), "session binds the key")

	_, err = sealKey(t).Open("s1", sealed)
	assert.True(t, ir.IsValidation(err))

	_, err = sk.Open("s1", sealed[:4])
	assert.True(t, ir.IsValidation(err))
}

func TestSealKeyWipe(t *testing.T) {
	sk := sealKey(t)
	sealed, err := Seal(sk.Public(), "s1", Welcome{LogKey: member})
	require.NoError(t, err)

	priv := sk.priv
	sk.Wipe()
	assert.Equal(t, make([]byte, len(priv)), priv)
	assert.NotEmpty(t, sk.Public())

	_, err = sk.Open("s1", sealed)
	assert.True(t, ir.IsValidation(err))
	assert.ErrorContains(t, err, "wiped")

	sk.Wipe()
}
