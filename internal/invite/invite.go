// Package invite implements bearer invites for admitting new writers.
//
// An invite is a random 32-byte secret. The invite key pair is derived
// from the secret, and only commitments to its public key are stored in
// the view or sent over the rendezvous channel:
//
//	invite id  = H(braid/invite/v1, pub)
//	commitment = H(braid/invite-commit/v1, pub)
//
// A candidate proves possession by signing a short-lived JWT with the
// invite private key. The secret itself never leaves the token.
package invite

import (
	"fmt"
	"time"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/writerset"
)

// Collection is the view collection holding invite documents.
const Collection = "invites"

// Invite is the view document for one invite.
type Invite struct {
	ID         string
	PublicKey  string // hex
	Commitment string
	ExpiresAt  int64 // unix ms
	MaxUses    int64
	UseCount   int64
	Revoked    bool
	CreatedBy  ir.WriterKey
	RedeemedBy []ir.WriterKey
}

// Doc renders the invite as a view document.
func (i Invite) Doc() ir.Doc {
	redeemed := make(ir.List, len(i.RedeemedBy))
	for n, k := range i.RedeemedBy {
		redeemed[n] = ir.Str(k)
	}
	return ir.Doc{
		"id":          ir.Str(i.ID),
		"public_key":  ir.Str(i.PublicKey),
		"commitment":  ir.Str(i.Commitment),
		"expires_at":  ir.Int(i.ExpiresAt),
		"max_uses":    ir.Int(i.MaxUses),
		"use_count":   ir.Int(i.UseCount),
		"revoked":     ir.Bool(i.Revoked),
		"created_by":  ir.Str(i.CreatedBy),
		"redeemed_by": redeemed,
	}
}

// FromDoc parses a view document.
func FromDoc(d ir.Doc) (Invite, error) {
	var i Invite
	var ok bool
	if i.ID, ok = d.Str("id"); !ok {
		return Invite{}, fmt.Errorf("invite document: missing id")
	}
	i.PublicKey, _ = d.Str("public_key")
	i.Commitment, _ = d.Str("commitment")
	i.ExpiresAt, _ = d.Int("expires_at")
	i.MaxUses, _ = d.Int("max_uses")
	i.UseCount, _ = d.Int("use_count")
	i.Revoked, _ = d.Bool("revoked")
	created, _ := d.Str("created_by")
	i.CreatedBy = ir.WriterKey(created)
	if list, ok := d["redeemed_by"].(ir.List); ok {
		for _, v := range list {
			if s, ok := v.(ir.Str); ok {
				i.RedeemedBy = append(i.RedeemedBy, ir.WriterKey(s))
			}
		}
	}
	return i, nil
}

// Lookup reads an invite from a view or transaction.
func Lookup(r writerset.Reader, id string) (Invite, bool) {
	doc, ok := r.Get(Collection, id)
	if !ok {
		return Invite{}, false
	}
	i, err := FromDoc(doc)
	if err != nil {
		return Invite{}, false
	}
	return i, true
}

// Expires returns the expiry as a time.
func (i Invite) Expires() time.Time {
	return time.UnixMilli(i.ExpiresAt)
}

// Check returns the lifecycle rejection for redeeming the invite at now,
// or nil if it may be redeemed.
func (i Invite) Check(now time.Time) error {
	return i.checkAt(now.UnixMilli())
}

func (i Invite) checkAt(nowMs int64) error {
	switch {
	case i.Revoked:
		return ir.ErrInviteRevoked
	case i.UseCount >= i.MaxUses:
		return ir.ErrInviteExhausted
	case nowMs > i.ExpiresAt:
		return ir.ErrInviteExpired
	}
	return nil
}
