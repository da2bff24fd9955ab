package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/braid/internal/invite"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/node"
)

// InviteOptions holds flags for the invite commands.
type InviteOptions struct {
	*RootOptions
	MaxUses   int64
	ExpiresIn time.Duration
}

// InviteCreated is the result of invite create.
type InviteCreated struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	MaxUses   int64     `json:"max_uses"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Text implements texter.
func (r InviteCreated) Text(w io.Writer) {
	fmt.Fprintf(w, "Invite %s (%d use(s), expires %s)\n", r.ID, r.MaxUses, r.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintln(w, "Share this token with the new device:")
	fmt.Fprintf(w, "  %s\n", r.Token)
}

// InviteRevoked is the result of invite revoke.
type InviteRevoked struct {
	ID string `json:"id"`
}

// Text implements texter.
func (r InviteRevoked) Text(w io.Writer) {
	fmt.Fprintf(w, "Invite %s revoked\n", r.ID)
}

// InviteStatus describes one invite in invite list.
type InviteStatus struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	UseCount   int64     `json:"use_count"`
	MaxUses    int64     `json:"max_uses"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedBy  string    `json:"created_by"`
	RedeemedBy []string  `json:"redeemed_by,omitempty"`
}

// InviteList is the result of invite list.
type InviteList struct {
	Invites []InviteStatus `json:"invites"`
}

// Text implements texter.
func (r InviteList) Text(w io.Writer) {
	if len(r.Invites) == 0 {
		fmt.Fprintln(w, "No invites.")
		return
	}
	for _, i := range r.Invites {
		fmt.Fprintf(w, "%s %-9s %d/%d expires %s\n", i.ID, i.State, i.UseCount, i.MaxUses, i.ExpiresAt.Format(time.RFC3339))
	}
}

// NewInviteCommand creates the invite command and its subcommands.
func NewInviteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InviteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Create, revoke and list invites",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an invite token",
		Long: `Create an invite and print its token. The token is the only copy of
the invite secret; anyone holding it may join until the invite expires,
is used up or is revoked.

Examples:
  braid invite create
  braid invite create --max-uses 3 --expires-in 2h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInviteCreate(opts, cmd)
		},
	}
	create.Flags().Int64Var(&opts.MaxUses, "max-uses", invite.DefaultOptions.MaxUses, "number of devices the invite admits")
	create.Flags().DurationVar(&opts.ExpiresIn, "expires-in", invite.DefaultOptions.ExpiresIn, "invite lifetime")

	revoke := &cobra.Command{
		Use:           "revoke <invite-id>",
		Short:         "Revoke an invite",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInviteRevoke(opts, args[0], cmd)
		},
	}

	list := &cobra.Command{
		Use:           "list",
		Short:         "List invites and their state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInviteList(opts, cmd)
		},
	}

	cmd.AddCommand(create, revoke, list)
	return cmd
}

func runInviteCreate(opts *InviteOptions, cmd *cobra.Command) error {
	if opts.MaxUses <= 0 {
		return NewExitError(ExitCommandError, "--max-uses must be positive")
	}
	if opts.ExpiresIn <= 0 {
		return NewExitError(ExitCommandError, "--expires-in must be positive")
	}

	out := newFormatter(opts.RootOptions, cmd)
	return withNode(cmd, opts.RootOptions, func(ctx context.Context, n *node.Node) error {
		now := time.Now()
		token, err := n.CreateInvite(ctx, invite.Options{MaxUses: opts.MaxUses, ExpiresIn: opts.ExpiresIn})
		if err != nil {
			return out.Fail("failed to create invite", err)
		}
		tok, err := invite.ParseToken(token)
		if err != nil {
			return out.Fail("failed to read invite token", err)
		}
		return out.Success(InviteCreated{
			ID:        tok.InviteID,
			Token:     token,
			MaxUses:   opts.MaxUses,
			ExpiresAt: now.Add(opts.ExpiresIn).UTC().Truncate(time.Second),
		})
	})
}

func runInviteRevoke(opts *InviteOptions, id string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	return withNode(cmd, opts.RootOptions, func(ctx context.Context, n *node.Node) error {
		if _, ok := invite.Lookup(n.Engine.View(), id); !ok {
			if err := out.Error("NOT_FOUND", fmt.Sprintf("invite %s does not exist", id), nil); err != nil {
				return err
			}
			return NewExitError(ExitFailure, "invite not found")
		}
		if err := invite.Revoke(ctx, n.Engine, id); err != nil {
			return out.Fail("failed to revoke invite", err)
		}
		return out.Success(InviteRevoked{ID: id})
	})
}

func runInviteList(opts *InviteOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	return withNode(cmd, opts.RootOptions, func(_ context.Context, n *node.Node) error {
		now := time.Now()
		res := InviteList{Invites: []InviteStatus{}}
		for _, rec := range n.Engine.Query(invite.Collection, nil) {
			inv, err := invite.FromDoc(rec.Doc)
			if err != nil {
				out.VerboseLog("skipping invite %s: %v", rec.ID, err)
				continue
			}
			status := InviteStatus{
				ID:        inv.ID,
				State:     inviteState(inv, now),
				UseCount:  inv.UseCount,
				MaxUses:   inv.MaxUses,
				ExpiresAt: inv.Expires().UTC(),
				CreatedBy: string(inv.CreatedBy),
			}
			for _, k := range inv.RedeemedBy {
				status.RedeemedBy = append(status.RedeemedBy, string(k))
			}
			res.Invites = append(res.Invites, status)
		}
		return out.Success(res)
	})
}

func inviteState(inv invite.Invite, now time.Time) string {
	err := inv.Check(now)
	switch {
	case err == nil:
		return "open"
	case errors.Is(err, ir.ErrInviteRevoked):
		return "revoked"
	case errors.Is(err, ir.ErrInviteExhausted):
		return "exhausted"
	default:
		return "expired"
	}
}
