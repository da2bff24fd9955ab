// Package pairing admits a new device into a log's writer set with a
// bearer invite.
//
// A member runs a Responder on the log's rendezvous topic. A candidate
// holding an invite token calls Candidate.Pair, which repeatedly
// publishes a Hello carrying a proof of possession until a member answers
// with a sealed Welcome or the pairing times out:
//
//	candidate                         member
//	   | Hello{session, invite, proof}  |
//	   |------------------------------->|  verify proof and invite
//	   |                                |  append redeem-invite
//	   |  Welcome{session, sealed}      |
//	   |<-------------------------------|
//
// A member that rejects a Hello stays silent. Observers of the topic see
// only the invite id and opaque bytes.
package pairing
