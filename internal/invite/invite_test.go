package invite

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/braid/internal/dispatch"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/view"
	"github.com/roach88/braid/internal/writerset"
)

var (
	member    = ir.WriterKey(strings.Repeat("a", 64))
	candidate = ir.WriterKey(strings.Repeat("b", 64))
	other     = ir.WriterKey(strings.Repeat("c", 64))
	outsider  = ir.WriterKey(strings.Repeat("d", 64))
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	reg   *dispatch.Registry
	tx    *view.Tx
	token Token
	pos   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := dispatch.NewRegistry(writerset.Module{}, Module{})
	require.NoError(t, err)
	tx := view.Empty().Begin()
	require.NoError(t, writerset.Bootstrap(tx, member))
	tok, err := NewToken(ir.DiscoveryID(member))
	require.NoError(t, err)
	return &fixture{t: t, reg: reg, tx: tx, token: tok}
}

func (f *fixture) dispatch(writer ir.WriterKey, cmd ir.CommandType, payload ir.Doc) error {
	f.t.Helper()
	data, err := ir.MarshalCanonical(payload)
	require.NoError(f.t, err)
	f.pos++
	e := ir.Entry{Writer: writer, Seq: uint64(f.pos), Command: cmd, Payload: data}
	f.tx.Savepoint()
	if err := f.reg.Dispatch(e, f.pos, f.tx); err != nil {
		f.tx.Rollback()
		return err
	}
	f.tx.Release()
	return nil
}

func (f *fixture) create(maxUses int64) {
	f.t.Helper()
	p, err := CreatePayload(f.token, epoch.Add(time.Hour).UnixMilli(), maxUses)
	require.NoError(f.t, err)
	require.NoError(f.t, f.dispatch(member, ir.CmdCreateInvite, p))
}

func (f *fixture) redeem(key ir.WriterKey, at time.Time) error {
	return f.dispatch(member, ir.CmdRedeemInvite, RedeemPayload(f.token.InviteID, key, at.UnixMilli()))
}

func TestCreateInviteStoresCommitmentOnly(t *testing.T) {
	f := newFixture(t)
	f.create(1)

	inv, ok := Lookup(f.tx, f.token.InviteID)
	require.True(t, ok)
	assert.Equal(t, f.token.InviteID, inv.ID)
	assert.Equal(t, member, inv.CreatedBy)
	assert.Equal(t, int64(1), inv.MaxUses)
	assert.Zero(t, inv.UseCount)
	assert.False(t, inv.Revoked)

	doc, _ := f.tx.Get(Collection, inv.ID)
	raw, err := ir.MarshalCanonical(doc)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), string(f.token.Secret))
}

func TestCreateInviteRejectsMismatchedID(t *testing.T) {
	f := newFixture(t)
	p, err := CreatePayload(f.token, epoch.Add(time.Hour).UnixMilli(), 1)
	require.NoError(t, err)
	p["id"] = ir.Str(strings.Repeat("e", 64))

	err = f.dispatch(member, ir.CmdCreateInvite, p)
	assert.True(t, ir.IsValidation(err))
}

func TestCreateInviteRequiresActiveIssuer(t *testing.T) {
	f := newFixture(t)
	p, err := CreatePayload(f.token, epoch.Add(time.Hour).UnixMilli(), 1)
	require.NoError(t, err)

	err = f.dispatch(outsider, ir.CmdCreateInvite, p)
	assert.True(t, ir.IsAuthorization(err))
	_, ok := Lookup(f.tx, f.token.InviteID)
	assert.False(t, ok)
}

func TestRedeemActivatesCandidate(t *testing.T) {
	f := newFixture(t)
	f.create(1)

	require.NoError(t, f.redeem(candidate, epoch))
	assert.True(t, writerset.IsActive(f.tx, candidate))

	inv, _ := Lookup(f.tx, f.token.InviteID)
	assert.Equal(t, int64(1), inv.UseCount)
	assert.Equal(t, []ir.WriterKey{candidate}, inv.RedeemedBy)
}

func TestRedeemIsOncePerKey(t *testing.T) {
	f := newFixture(t)
	f.create(2)

	require.NoError(t, f.redeem(candidate, epoch))
	require.NoError(t, f.redeem(candidate, epoch))

	inv, _ := Lookup(f.tx, f.token.InviteID)
	assert.Equal(t, int64(1), inv.UseCount)
}

func TestRedeemLifecycle(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		at    time.Time
		want  error
	}{
		{
			name: "expired",
			at:   epoch.Add(2 * time.Hour),
			want: ir.ErrInviteExpired,
		},
		{
			name: "revoked",
			setup: func(f *fixture) {
				require.NoError(f.t, f.dispatch(member, ir.CmdRevokeInvite, RevokePayload(f.token.InviteID)))
			},
			at:   epoch,
			want: ir.ErrInviteRevoked,
		},
		{
			name: "exhausted",
			setup: func(f *fixture) {
				require.NoError(f.t, f.redeem(other, epoch))
			},
			at:   epoch,
			want: ir.ErrInviteExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.create(1)
			if tt.setup != nil {
				tt.setup(f)
			}
			err := f.redeem(candidate, tt.at)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, ir.IsInviteRejection(err))
			assert.False(t, writerset.IsActive(f.tx, candidate))
		})
	}
}

func TestRedeemUnknownInvite(t *testing.T) {
	f := newFixture(t)
	err := f.redeem(candidate, epoch)
	assert.True(t, ir.IsValidation(err))
}

func TestRevokeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.create(1)

	require.NoError(t, f.dispatch(member, ir.CmdRevokeInvite, RevokePayload(f.token.InviteID)))
	require.NoError(t, f.dispatch(member, ir.CmdRevokeInvite, RevokePayload(f.token.InviteID)))
	inv, _ := Lookup(f.tx, f.token.InviteID)
	assert.True(t, inv.Revoked)
}

func TestCheck(t *testing.T) {
	inv := Invite{ExpiresAt: epoch.UnixMilli(), MaxUses: 1}
	assert.NoError(t, inv.Check(epoch))
	assert.ErrorIs(t, inv.Check(epoch.Add(time.Millisecond)), ir.ErrInviteExpired)

	inv.UseCount = 1
	assert.ErrorIs(t, inv.Check(epoch), ir.ErrInviteExhausted)

	inv.Revoked = true
	assert.ErrorIs(t, inv.Check(epoch), ir.ErrInviteRevoked)
}

func TestFromDocRoundTrip(t *testing.T) {
	inv := Invite{
		ID:         "id",
		PublicKey:  "pk",
		Commitment: "c",
		ExpiresAt:  10,
		MaxUses:    3,
		UseCount:   1,
		CreatedBy:  member,
		RedeemedBy: []ir.WriterKey{candidate},
	}
	got, err := FromDoc(inv.Doc())
	require.NoError(t, err)
	assert.Equal(t, inv, got)

	_, err = FromDoc(ir.Doc{})
	assert.Error(t, err)
}
