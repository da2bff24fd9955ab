package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/sethvargo/go-retry"

	"github.com/roach88/braid/internal/invite"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/keys"
	"github.com/roach88/braid/internal/transport"
	"github.com/roach88/braid/internal/wire"
)

const (
	// DefaultTimeout bounds a whole pairing attempt.
	DefaultTimeout = 30 * time.Second

	// DefaultRetryDelay is the first delay between Hellos.
	DefaultRetryDelay = 100 * time.Millisecond

	// DefaultMaxRetryDelay caps the delay between Hellos.
	DefaultMaxRetryDelay = 2 * time.Second

	// DefaultWaitTimeout is how long the first Hello waits for a Welcome.
	// Later attempts wait longer, up to DefaultMaxWaitTimeout.
	DefaultWaitTimeout    = 250 * time.Millisecond
	DefaultMaxWaitTimeout = 2 * time.Second
)

var errNoWelcome = errors.New("no welcome")

// JoinedLog is what a candidate learns from a successful pairing.
type JoinedLog struct {
	LogKey        ir.WriterKey
	Discovery     string
	EncryptionKey []byte

	// Writer is the candidate's own writer key pair, now admitted.
	Writer *keys.KeyPair
}

// Candidate pairs this device into an existing log.
type Candidate struct {
	rdv    transport.Rendezvous
	ids    IDGenerator
	now    func() time.Time
	logger *slog.Logger
	msink  metrics.MetricSink

	timeout        time.Duration
	retryDelay     time.Duration
	maxRetryDelay  time.Duration
	waitTimeout    time.Duration
	maxWaitTimeout time.Duration
}

// CandidateOption configures a Candidate.
type CandidateOption func(*Candidate)

// WithTimeout bounds the whole pairing.
func WithTimeout(d time.Duration) CandidateOption {
	return func(c *Candidate) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetryDelay sets the first and maximum delay between Hellos.
func WithRetryDelay(first, limit time.Duration) CandidateOption {
	return func(c *Candidate) {
		c.retryDelay, c.maxRetryDelay = first, limit
	}
}

// WithWaitTimeout sets the first and maximum wait for a Welcome.
func WithWaitTimeout(first, limit time.Duration) CandidateOption {
	return func(c *Candidate) {
		c.waitTimeout, c.maxWaitTimeout = first, limit
	}
}

// WithIDGenerator sets the session id source.
func WithIDGenerator(g IDGenerator) CandidateOption {
	return func(c *Candidate) { c.ids = g }
}

// WithCandidateNow sets the wall clock used to date proofs.
func WithCandidateNow(now func() time.Time) CandidateOption {
	return func(c *Candidate) { c.now = now }
}

// WithCandidateLogger sets the logger.
func WithCandidateLogger(l *slog.Logger) CandidateOption {
	return func(c *Candidate) { c.logger = l }
}

// WithCandidateMetricSink sets the metrics sink.
func WithCandidateMetricSink(ms metrics.MetricSink) CandidateOption {
	return func(c *Candidate) { c.msink = ms }
}

// NewCandidate creates a candidate that meets members on rdv.
func NewCandidate(rdv transport.Rendezvous, opts ...CandidateOption) *Candidate {
	c := &Candidate{
		rdv:            rdv,
		ids:            UUIDv7Generator{},
		now:            time.Now,
		logger:         slog.Default(),
		msink:          metrics.Default(),
		timeout:        DefaultTimeout,
		retryDelay:     DefaultRetryDelay,
		maxRetryDelay:  DefaultMaxRetryDelay,
		waitTimeout:    DefaultWaitTimeout,
		maxWaitTimeout: DefaultMaxWaitTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pair redeems token for writer. A nil writer gets a fresh key pair.
//
// Pair returns once a member has admitted writer into the writer set it
// replays. The candidate's own replica still has to catch up before it
// sees itself as writable; see Join.
//
// Expected errors:
//   - ValidationError if token is malformed
//   - PairingTimeoutError if no member answered within the timeout
//   - ctx.Err() if ctx ended first
func (c *Candidate) Pair(ctx context.Context, token string, writer *keys.KeyPair) (JoinedLog, error) {
	tok, err := invite.ParseToken(token)
	if err != nil {
		return JoinedLog{}, err
	}
	if writer == nil {
		if writer, err = keys.Generate(); err != nil {
			return JoinedLog{}, err
		}
	}
	sealKey, err := invite.NewSealKey()
	if err != nil {
		return JoinedLog{}, err
	}
	defer sealKey.Wipe()
	session := c.ids.Generate()

	topic, err := c.rdv.Join(tok.Topic())
	if err != nil {
		return JoinedLog{}, fmt.Errorf("join rendezvous: %w", err)
	}
	defer topic.Close()

	pairCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	backoff := retry.NewExponential(c.retryDelay)
	backoff = retry.WithCappedDuration(c.maxRetryDelay, backoff)
	wait := retry.NewExponential(c.waitTimeout)
	wait = retry.WithCappedDuration(c.maxWaitTimeout, wait)

	lg := c.logger.With("session", session, "invite", tok.InviteID[:8])

	attempt := 0
	var welcome invite.Welcome
	err = retry.Do(pairCtx, backoff, func(ctx context.Context) error {
		if attempt > 0 {
			lg.Debug("retrying hello", "attempt", attempt)
		}
		attempt++

		proof, err := invite.SignProof(tok, writer.Public(), session, sealKey.Public(), c.now())
		if err != nil {
			return err
		}
		frame, err := wire.Encode(&wire.Hello{Session: session, InviteID: tok.InviteID, Proof: proof})
		if err != nil {
			return err
		}
		if err := topic.Publish(ctx, frame); err != nil {
			return retry.RetryableError(err)
		}
		c.msink.IncrCounter(MetricHelloSent, 1)

		d, _ := wait.Next()
		welcome, err = awaitWelcome(ctx, topic, session, sealKey, d)
		if errors.Is(err, errNoWelcome) {
			return retry.RetryableError(err)
		}
		return err
	})

	if err != nil {
		if ctx.Err() != nil {
			return JoinedLog{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errNoWelcome) {
			c.msink.IncrCounter(MetricPairTimeout, 1)
			return JoinedLog{}, ir.WrapError(ir.CodePairingTimeout,
				fmt.Sprintf("no member answered within %s", c.timeout), err)
		}
		return JoinedLog{}, err
	}

	lg.Info("paired", "log", welcome.LogKey.Short(), "attempts", attempt)
	return JoinedLog{
		LogKey:        welcome.LogKey,
		Discovery:     tok.Discovery,
		EncryptionKey: welcome.EncryptionKey,
		Writer:        writer,
	}, nil
}

// awaitWelcome reads the topic until a Welcome for session opens with
// sealKey, or d elapses. Frames that do not open are ignored.
func awaitWelcome(ctx context.Context, topic transport.Topic, session string, sealKey *invite.SealKey, d time.Duration) (invite.Welcome, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return invite.Welcome{}, ctx.Err()
		case <-timer.C:
			return invite.Welcome{}, errNoWelcome
		case msg := <-topic.Messages():
			v, err := wire.Decode(msg.Data)
			if err != nil {
				continue
			}
			w, ok := v.(*wire.Welcome)
			if !ok || w.Session != session {
				continue
			}
			welcome, err := sealKey.Open(session, w.Sealed)
			if err != nil {
				continue
			}
			return welcome, nil
		}
	}
}
