package invite

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/braid/internal/ir"
)

// Appender appends a command to the local writer's log.
type Appender interface {
	Append(ctx context.Context, cmd ir.CommandType, payload ir.Doc) (ir.Entry, error)
}

// Options controls a new invite.
type Options struct {
	ExpiresIn time.Duration
	MaxUses   int64
}

// DefaultOptions is a single-use invite valid for one day.
var DefaultOptions = Options{ExpiresIn: 24 * time.Hour, MaxUses: 1}

// Create generates an invite for the log with the given discovery id and
// records it through a. The returned token is the only copy of the secret.
func Create(ctx context.Context, a Appender, discovery string, opts Options, now time.Time) (Token, error) {
	if opts.ExpiresIn <= 0 {
		opts.ExpiresIn = DefaultOptions.ExpiresIn
	}
	if opts.MaxUses <= 0 {
		opts.MaxUses = DefaultOptions.MaxUses
	}
	t, err := NewToken(discovery)
	if err != nil {
		return Token{}, err
	}
	payload, err := CreatePayload(t, now.Add(opts.ExpiresIn).UnixMilli(), opts.MaxUses)
	if err != nil {
		return Token{}, err
	}
	if _, err := a.Append(ctx, ir.CmdCreateInvite, payload); err != nil {
		return Token{}, fmt.Errorf("create invite: %w", err)
	}
	return t, nil
}

// Revoke records the revocation of invite id through a.
func Revoke(ctx context.Context, a Appender, id string) error {
	if _, err := a.Append(ctx, ir.CmdRevokeInvite, RevokePayload(id)); err != nil {
		return fmt.Errorf("revoke invite: %w", err)
	}
	return nil
}
