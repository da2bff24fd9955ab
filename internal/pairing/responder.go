package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-metrics"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/braid/internal/engine"
	"github.com/roach88/braid/internal/invite"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/transport"
	"github.com/roach88/braid/internal/view"
	"github.com/roach88/braid/internal/wire"
	"github.com/roach88/braid/internal/writerset"
)

// DefaultSessionCacheSize bounds how many answered sessions a responder
// remembers.
const DefaultSessionCacheSize = 1024

// Member is the replica a responder admits candidates into.
// *engine.Engine implements it.
type Member interface {
	LogKey() ir.WriterKey
	DiscoveryID() string
	Local() ir.WriterKey
	View() *view.View
	Append(ctx context.Context, cmd ir.CommandType, payload ir.Doc) (ir.Entry, error)
}

// Responder answers candidate Hellos on the member's rendezvous topic.
type Responder struct {
	member        Member
	rdv           transport.Rendezvous
	logger        *slog.Logger
	msink         metrics.MetricSink
	now           func() time.Time
	encryptionKey []byte

	// sessions maps a session id (the proof jti) to the welcome frame sent
	// for it. A repeated Hello gets the same answer and never redeems
	// twice.
	sessions *lru.Cache[string, []byte]
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithResponderLogger sets the logger.
func WithResponderLogger(l *slog.Logger) ResponderOption {
	return func(r *Responder) { r.logger = l }
}

// WithResponderMetricSink sets the metrics sink.
func WithResponderMetricSink(ms metrics.MetricSink) ResponderOption {
	return func(r *Responder) { r.msink = ms }
}

// WithResponderNow sets the wall clock used for expiry and proofs.
func WithResponderNow(now func() time.Time) ResponderOption {
	return func(r *Responder) { r.now = now }
}

// WithEncryptionKey hands the log's encryption key to admitted candidates.
func WithEncryptionKey(key []byte) ResponderOption {
	return func(r *Responder) { r.encryptionKey = slices.Clone(key) }
}

// NewResponder creates a responder for member.
func NewResponder(member Member, rdv transport.Rendezvous, opts ...ResponderOption) (*Responder, error) {
	r := &Responder{
		member: member,
		rdv:    rdv,
		logger: slog.Default(),
		msink:  metrics.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	cache, err := lru.New[string, []byte](DefaultSessionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}
	r.sessions = cache
	return r, nil
}

// Run serves the rendezvous topic until ctx ends. The subscription is
// released on return.
func (r *Responder) Run(ctx context.Context) error {
	topic, err := r.rdv.Join(ir.RendezvousTopic(r.member.DiscoveryID()))
	if err != nil {
		return fmt.Errorf("join rendezvous: %w", err)
	}
	defer topic.Close()

	r.logger.Info("pairing responder started", "discovery", r.member.DiscoveryID())
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-topic.Messages():
			frame, ok := r.Handle(ctx, msg.Data)
			if !ok {
				continue
			}
			if err := topic.Publish(ctx, frame); err != nil {
				r.logger.Warn("publish welcome", "error", err)
			}
		}
	}
}

// Handle processes one rendezvous frame and returns the welcome frame to
// publish, if any. Rejections return false and are only logged locally.
func (r *Responder) Handle(ctx context.Context, data []byte) ([]byte, bool) {
	msg, err := wire.Decode(data)
	if err != nil {
		r.reject("", "malformed", err)
		return nil, false
	}
	hello, ok := msg.(*wire.Hello)
	if !ok {
		return nil, false
	}
	frame, err := r.admit(ctx, hello)
	if err != nil {
		r.reject(hello.Session, reason(err), err)
		return nil, false
	}
	return frame, true
}

func (r *Responder) admit(ctx context.Context, hello *wire.Hello) ([]byte, error) {
	inv, ok := invite.Lookup(r.member.View(), hello.InviteID)
	if !ok {
		return nil, ir.Validationf("unknown invite")
	}
	now := r.now()
	proof, err := invite.VerifyProof(hello.Proof, inv, r.member.DiscoveryID(), now)
	if err != nil {
		return nil, err
	}
	if proof.Session != hello.Session {
		return nil, ir.Validationf("session does not match proof")
	}

	if frame, ok := r.sessions.Get(proof.Session); ok {
		r.msink.IncrCounter(MetricRewelcomed, 1)
		return frame, nil
	}

	if !slices.Contains(inv.RedeemedBy, proof.Candidate) {
		if err := inv.Check(now); err != nil {
			return nil, err
		}
		payload := invite.RedeemPayload(inv.ID, proof.Candidate, now.UnixMilli())
		if _, err := r.member.Append(ctx, ir.CmdRedeemInvite, payload); err != nil {
			return nil, err
		}
	}
	if !writerset.IsActive(r.member.View(), proof.Candidate) {
		return nil, ir.Validationf("candidate %s not admitted", proof.Candidate.Short())
	}

	frame, err := r.welcome(hello.Session, proof.SealKey)
	if err != nil {
		return nil, err
	}
	r.sessions.Add(proof.Session, frame)

	r.msink.IncrCounter(MetricAdmitted, 1)
	r.logger.Info("candidate admitted",
		engine.LabelWriter.L(proof.Candidate.Short()),
		"invite", inv.ID[:8],
		"session", proof.Session,
	)
	return frame, nil
}

func (r *Responder) welcome(session string, sealKey []byte) ([]byte, error) {
	w := invite.Welcome{LogKey: r.member.LogKey(), EncryptionKey: r.encryptionKey}
	sealed, err := invite.Seal(sealKey, session, w)
	if err != nil {
		return nil, err
	}
	return wire.Encode(&wire.Welcome{Session: session, Sealed: sealed})
}

func (r *Responder) reject(session, why string, err error) {
	r.msink.IncrCounterWithLabels(MetricRejected, 1, []metrics.Label{engine.LabelReason.M(why)})
	r.logger.Debug("candidate ignored",
		engine.LabelReason.L(why),
		"session", session,
		"error", err,
	)
}

func reason(err error) string {
	if code := ir.CodeOf(err); code != "" {
		return strings.ToLower(string(code))
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}
