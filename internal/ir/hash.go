package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix leaves
// room for algorithm migration.
const (
	DomainEntry        = "braid/entry/v1"
	DomainEntrySig     = "braid/entry-sig/v1"
	DomainInvite       = "braid/invite/v1"
	DomainInviteCommit = "braid/invite-commit/v1"
	DomainDiscovery    = "braid/discovery/v1"
	DomainRendezvous   = "braid/rendezvous/v1"
	DomainView         = "braid/view/v1"
	DomainOrder        = "braid/order/v1"
)

// domainBytes returns domain + 0x00 + data. The null separator prevents
// domain/data boundary ambiguity.
func domainBytes(domain string, data []byte) []byte {
	out := make([]byte, 0, len(domain)+1+len(data))
	out = append(out, domain...)
	out = append(out, 0x00)
	return append(out, data...)
}

// HashWithDomain computes hex(SHA256(domain + 0x00 + data)).
func HashWithDomain(domain string, data []byte) string {
	sum := sha256.Sum256(domainBytes(domain, data))
	return hex.EncodeToString(sum[:])
}

// EntryID computes the content-addressed ID of an entry's signed fields.
// The signature itself is not part of the ID.
func EntryID(e Entry) (string, error) {
	canonical, err := MarshalCanonical(e.SignedDoc())
	if err != nil {
		return "", fmt.Errorf("EntryID: %w", err)
	}
	return HashWithDomain(DomainEntry, canonical), nil
}

// SigningBytes returns the exact message an entry signature covers.
func SigningBytes(e Entry) ([]byte, error) {
	canonical, err := MarshalCanonical(e.SignedDoc())
	if err != nil {
		return nil, fmt.Errorf("SigningBytes: %w", err)
	}
	return domainBytes(DomainEntrySig, canonical), nil
}

// DiscoveryID derives the public discovery identifier of a log. Peers
// announce it; it reveals nothing about the log key beyond linkability.
func DiscoveryID(logKey WriterKey) string {
	return HashWithDomain(DomainDiscovery, []byte(logKey))
}

// RendezvousTopic derives the pairing channel from a discovery identifier.
func RendezvousTopic(discoveryID string) string {
	return HashWithDomain(DomainRendezvous, []byte(discoveryID))
}

// InviteID derives the committed invite id from the invite public key.
// Only this id travels over the rendezvous channel.
func InviteID(invitePublicKey []byte) string {
	return HashWithDomain(DomainInvite, invitePublicKey)
}

// InviteCommitment derives the public key commitment stored with an invite.
func InviteCommitment(invitePublicKey []byte) string {
	return HashWithDomain(DomainInviteCommit, invitePublicKey)
}

// OrderDigest summarizes a replay order so snapshots can be matched to the
// entry set that produced them.
func OrderDigest(refs []EntryRef) string {
	list := make(List, len(refs))
	for i, r := range refs {
		list[i] = List{Str(r.Writer), Int(r.Seq)}
	}
	canonical, _ := MarshalCanonical(list)
	return HashWithDomain(DomainOrder, canonical)
}

// MustEntryID is like EntryID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEntryID(e Entry) string {
	id, err := EntryID(e)
	if err != nil {
		panic(err)
	}
	return id
}
