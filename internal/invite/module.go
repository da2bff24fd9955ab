package invite

import (
	"crypto/ed25519"
	"encoding/hex"
	"slices"

	"github.com/roach88/braid/internal/dispatch"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/schema"
	"github.com/roach88/braid/internal/view"
	"github.com/roach88/braid/internal/writerset"
)

const (
	hash = `=~"^[0-9a-f]{64}$"`

	createSchema = `#Payload: {
	id:         ` + hash + `
	public_key: ` + hash + `
	commitment: ` + hash + `
	expires_at: int & >0
	max_uses:   int & >=1
}`

	redeemSchema = `#Payload: {
	invite_id: ` + hash + `
	key:       ` + hash + `
	at:        int & >0
}`

	revokeSchema = `#Payload: {id: ` + hash + `}`
)

// Module registers create-invite, redeem-invite and revoke-invite.
type Module struct{}

// Commands implements dispatch.Module.
func (Module) Commands() []dispatch.Command {
	return []dispatch.Command{
		{
			Type:   ir.CmdCreateInvite,
			Schema: schema.MustCompile(ir.CmdCreateInvite.String(), createSchema),
			Handle: handleCreate,
		},
		{
			Type:   ir.CmdRedeemInvite,
			Schema: schema.MustCompile(ir.CmdRedeemInvite.String(), redeemSchema),
			Handle: handleRedeem,
		},
		{
			Type:   ir.CmdRevokeInvite,
			Schema: schema.MustCompile(ir.CmdRevokeInvite.String(), revokeSchema),
			Handle: handleRevoke,
		},
	}
}

// CreatePayload builds a create-invite payload for the invite in t.
func CreatePayload(t Token, expiresAt int64, maxUses int64) (ir.Doc, error) {
	kp, err := t.KeyPair()
	if err != nil {
		return nil, err
	}
	pub := kp.PublicKey()
	return ir.Doc{
		"id":         ir.Str(ir.InviteID(pub)),
		"public_key": ir.Str(hex.EncodeToString(pub)),
		"commitment": ir.Str(ir.InviteCommitment(pub)),
		"expires_at": ir.Int(expiresAt),
		"max_uses":   ir.Int(maxUses),
	}, nil
}

// RedeemPayload builds a redeem-invite payload. at is the member's wall
// clock in unix ms when it verified the proof.
func RedeemPayload(inviteID string, key ir.WriterKey, at int64) ir.Doc {
	return ir.Doc{
		"invite_id": ir.Str(inviteID),
		"key":       ir.Str(key),
		"at":        ir.Int(at),
	}
}

// RevokePayload builds a revoke-invite payload.
func RevokePayload(id string) ir.Doc {
	return ir.Doc{"id": ir.Str(id)}
}

func requireActive(tx *view.Tx, in dispatch.Input) error {
	if !writerset.IsActive(tx, in.Entry.Writer) {
		return ir.NewError(ir.CodeAuthorization, in.Entry.Command.String()+": issuer is not active")
	}
	return nil
}

func handleCreate(in dispatch.Input, tx *view.Tx) error {
	if err := requireActive(tx, in); err != nil {
		return err
	}
	id, _ := in.Payload.Str("id")
	pubHex, _ := in.Payload.Str("public_key")
	commitment, _ := in.Payload.Str("commitment")

	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return ir.Validationf("create-invite: bad public key")
	}
	if ir.InviteID(pub) != id {
		return ir.Validationf("create-invite: id does not match public key")
	}
	if ir.InviteCommitment(pub) != commitment {
		return ir.Validationf("create-invite: commitment does not match public key")
	}
	if _, exists := tx.Get(Collection, id); exists {
		return ir.Validationf("create-invite: %s already exists", id[:8])
	}

	inv := Invite{
		ID:         id,
		PublicKey:  pubHex,
		Commitment: commitment,
		CreatedBy:  in.Entry.Writer,
	}
	inv.ExpiresAt, _ = in.Payload.Int("expires_at")
	inv.MaxUses, _ = in.Payload.Int("max_uses")
	return tx.Put(Collection, id, inv.Doc())
}

// handleRedeem re-checks the invite lifecycle against the member's
// verification time so every replica reaches the same verdict.
func handleRedeem(in dispatch.Input, tx *view.Tx) error {
	if err := requireActive(tx, in); err != nil {
		return err
	}
	id, _ := in.Payload.Str("invite_id")
	s, _ := in.Payload.Str("key")
	key := ir.WriterKey(s)
	at, _ := in.Payload.Int("at")

	inv, ok := Lookup(tx, id)
	if !ok {
		return ir.Validationf("redeem-invite: unknown invite")
	}
	// Several members may admit the same candidate; one use per key.
	if slices.Contains(inv.RedeemedBy, key) {
		return nil
	}
	if err := inv.checkAt(at); err != nil {
		return err
	}

	inv.UseCount++
	inv.RedeemedBy = append(inv.RedeemedBy, key)
	if err := tx.Put(Collection, id, inv.Doc()); err != nil {
		return err
	}
	_, err := writerset.Activate(tx, key, in.Entry.Writer, in.Position)
	return err
}

func handleRevoke(in dispatch.Input, tx *view.Tx) error {
	if err := requireActive(tx, in); err != nil {
		return err
	}
	id, _ := in.Payload.Str("id")
	inv, ok := Lookup(tx, id)
	if !ok {
		return ir.Validationf("revoke-invite: unknown invite")
	}
	if inv.Revoked {
		return nil
	}
	inv.Revoked = true
	return tx.Put(Collection, id, inv.Doc())
}
