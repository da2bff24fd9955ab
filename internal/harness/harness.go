package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/roach88/braid/internal/dispatch"
	"github.com/roach88/braid/internal/engine"
	"github.com/roach88/braid/internal/invite"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/node"
	"github.com/roach88/braid/internal/pairing"
	"github.com/roach88/braid/internal/store"
	"github.com/roach88/braid/internal/testutil"
	"github.com/roach88/braid/internal/transport/memnet"
	"github.com/roach88/braid/internal/wire"
)

// encryptionKey is the log encryption key every responder hands out.
var encryptionKey = []byte("braid-harness-encryption-key-32b")

// replica is one in-process engine and its in-memory store.
type replica struct {
	alias  string
	store  *store.Store
	engine *engine.Engine
	resp   *pairing.Responder
}

// Harness is the test execution engine.
// It runs scenarios with a fake wall clock and deterministic writer keys.
type Harness struct {
	scenario *Scenario
	registry *dispatch.Registry
	keyring  *testutil.Keyring
	clock    *testutil.FakeClock
	hub      *memnet.Hub
	logger   *slog.Logger
	msink    metrics.MetricSink

	replicas map[string]*replica
	invites  map[string]invite.Token
}

// Run executes a test scenario and returns the result.
//
// Every replica gets a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Open one replica per alias, all on the scenario's log
// 2. Execute steps in order, tracing each outcome
// 3. Evaluate assertions against the final replicas
// 4. Return result with pass/fail, trace, state and errors
func Run(scenario *Scenario) (*Result, error) {
	reg, err := node.Registry()
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}

	h := &Harness{
		scenario: scenario,
		registry: reg,
		keyring:  testutil.NewKeyring(),
		clock:    testutil.NewFakeClock(time.Time{}),
		hub:      memnet.NewHub(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		msink:    &metrics.BlackholeSink{},
		replicas: make(map[string]*replica),
		invites:  make(map[string]invite.Token),
	}
	ctx := context.Background()
	defer h.close(ctx)

	for _, alias := range scenario.Replicas {
		if err := h.open(ctx, alias); err != nil {
			return nil, fmt.Errorf("failed to open replica %s: %w", alias, err)
		}
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	for _, errMsg := range EvaluateAssertions(h, scenario.Assertions) {
		result.AddError(errMsg)
	}

	for _, alias := range scenario.Replicas {
		eng := h.replicas[alias].engine
		result.State = append(result.State, ReplicaState{
			Replica: alias,
			Writers: len(eng.Writers()),
			Entries: len(eng.Order()),
			Skips:   len(eng.Skips()),
			Hash:    eng.View().Hash(),
		})
	}
	return result, nil
}

func (h *Harness) logKey() ir.WriterKey {
	return h.keyring.Key(h.scenario.Log).Public()
}

// open opens alias on a new in-memory store, or reopens it on the store it
// already has.
func (h *Harness) open(ctx context.Context, alias string) error {
	r, ok := h.replicas[alias]
	if !ok {
		st, err := store.Open(":memory:")
		if err != nil {
			return err
		}
		r = &replica{alias: alias, store: st}
		h.replicas[alias] = r
	}

	eng, err := engine.Open(ctx, h.logKey(), h.registry,
		engine.WithSigner(h.keyring.Key(alias)),
		engine.WithStore(r.store),
		engine.WithLogger(h.logger.With("replica", alias)),
		engine.WithMetricSink(h.msink),
	)
	if err != nil {
		return err
	}
	resp, err := pairing.NewResponder(eng, h.hub.Node(alias),
		pairing.WithResponderNow(h.clock.Now),
		pairing.WithResponderLogger(h.logger),
		pairing.WithResponderMetricSink(h.msink),
		pairing.WithEncryptionKey(encryptionKey),
	)
	if err != nil {
		return err
	}
	r.engine, r.resp = eng, resp
	return nil
}

func (h *Harness) close(ctx context.Context) {
	for _, r := range h.replicas {
		if r.engine != nil {
			_ = r.engine.Close(ctx)
		}
		_ = r.store.Close()
	}
}

// execute runs one step. Expectation mismatches are recorded in result;
// only harness failures are returned.
func (h *Harness) execute(ctx context.Context, i int, step Step, result *Result) error {
	switch {
	case step.Append != nil:
		return h.executeAppend(ctx, i, step.Append, result)
	case step.Sync != nil:
		return h.executeSync(ctx, i, step.Sync, result)
	case step.Invite != nil:
		return h.executeInvite(ctx, i, step.Invite, result)
	case step.Revoke != nil:
		return h.executeRevoke(ctx, i, step.Revoke, result)
	case step.Pair != nil:
		return h.executePair(ctx, i, step.Pair, result)
	case step.Reopen != "":
		r := h.replicas[step.Reopen]
		if err := r.engine.Close(ctx); err != nil {
			return err
		}
		r.engine = nil
		if err := h.open(ctx, step.Reopen); err != nil {
			return err
		}
		result.AddTrace(i, "reopen", step.Reopen, "", "ok")
		return nil
	default:
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		result.AddTrace(i, "advance", "clock", step.Advance, "ok")
		return nil
	}
}

func (h *Harness) executeAppend(ctx context.Context, i int, step *AppendStep, result *Result) error {
	cmd, err := ir.ParseCommandType(step.Command)
	if err != nil {
		return err
	}
	payload, err := h.resolveDoc(step.Payload)
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}

	outcome := "ok"
	_, err = h.replicas[step.Replica].engine.Append(ctx, cmd, payload)
	if err != nil {
		if ir.IsStorage(err) {
			return err
		}
		outcome = errorOutcome(err)
	}
	result.AddTrace(i, "append", step.Replica, step.Command, outcome)

	if got := errorCode(err); got != step.ExpectError {
		result.AddError(fmt.Sprintf("step %d: append %s on %s: expected error %q, got %q",
			i, step.Command, step.Replica, step.ExpectError, got))
	}
	return nil
}

// executeSync copies every entry From holds into To. Reversed syncs
// ingest one entry at a time, newest first, so entries arrive before
// their dependencies.
func (h *Harness) executeSync(ctx context.Context, i int, step *SyncStep, result *Result) error {
	from := h.replicas[step.From].engine
	to := h.replicas[step.To].engine

	known := from.Known()
	var entries []ir.Entry
	for _, w := range known.Writers() {
		entries = append(entries, from.EntriesSince(w, 0)...)
	}

	var total engine.IngestResult
	if step.Reverse {
		slices.Reverse(entries)
		for _, e := range entries {
			res, err := to.Ingest(ctx, []ir.Entry{e})
			if err != nil {
				return err
			}
			total.Accepted += res.Accepted
			total.Duplicates += res.Duplicates
			total.Pending = res.Pending
		}
	} else {
		res, err := to.Ingest(ctx, entries)
		if err != nil {
			return err
		}
		total = res
	}

	detail := "-> " + step.To
	if step.Reverse {
		detail += " reversed"
	}
	outcome := fmt.Sprintf("accepted=%d duplicates=%d pending=%d", total.Accepted, total.Duplicates, total.Pending)
	result.AddTrace(i, "sync", step.From, detail, outcome)
	return nil
}

func (h *Harness) executeInvite(ctx context.Context, i int, step *InviteStep, result *Result) error {
	opts := invite.Options{MaxUses: step.MaxUses}
	if step.ExpiresIn != "" {
		d, err := time.ParseDuration(step.ExpiresIn)
		if err != nil {
			return err
		}
		opts.ExpiresIn = d
	}

	eng := h.replicas[step.Replica].engine
	tok, err := invite.Create(ctx, eng, eng.DiscoveryID(), opts, h.clock.Now())
	outcome := "ok"
	if err != nil {
		if ir.IsStorage(err) {
			return err
		}
		outcome = errorOutcome(err)
		result.AddError(fmt.Sprintf("step %d: invite on %s: %v", i, step.Replica, err))
	} else {
		h.invites[step.As] = tok
	}
	result.AddTrace(i, "invite", step.Replica, step.As, outcome)
	return nil
}

func (h *Harness) executeRevoke(ctx context.Context, i int, step *RevokeStep, result *Result) error {
	tok, ok := h.invites[step.Invite]
	if !ok {
		return fmt.Errorf("invite %q was never created", step.Invite)
	}
	outcome := "ok"
	if err := invite.Revoke(ctx, h.replicas[step.Replica].engine, tok.InviteID); err != nil {
		if ir.IsStorage(err) {
			return err
		}
		outcome = errorOutcome(err)
		result.AddError(fmt.Sprintf("step %d: revoke on %s: %v", i, step.Replica, err))
	}
	result.AddTrace(i, "revoke", step.Replica, step.Invite, outcome)
	return nil
}

// executePair plays the candidate side of one handshake in-process: it
// builds the Hello a candidate would publish, hands it to the member's
// responder and opens the Welcome, if any.
func (h *Harness) executePair(ctx context.Context, i int, step *PairStep, result *Result) error {
	tok, ok := h.invites[step.Invite]
	if !ok {
		return fmt.Errorf("invite %q was never created", step.Invite)
	}
	candidate := h.keyring.Key(step.Candidate).Public()
	session := fmt.Sprintf("%s-%02d", step.Candidate, i)

	sealKey, err := invite.NewSealKey()
	if err != nil {
		return err
	}
	proof, err := invite.SignProof(tok, candidate, session, sealKey.Public(), h.clock.Now())
	if err != nil {
		return err
	}
	hello, err := wire.Encode(&wire.Hello{Session: session, InviteID: tok.InviteID, Proof: proof})
	if err != nil {
		return err
	}

	outcome := PairIgnored
	if frame, ok := h.replicas[step.Via].resp.Handle(ctx, hello); ok {
		if err := h.openWelcome(frame, session, sealKey); err != nil {
			return err
		}
		outcome = PairAdmitted
	}
	result.AddTrace(i, "pair", step.Candidate, "via "+step.Via+" "+step.Invite, outcome)

	if outcome != step.Expect {
		result.AddError(fmt.Sprintf("step %d: pair %s via %s: expected %s, got %s",
			i, step.Candidate, step.Via, step.Expect, outcome))
	}
	return nil
}

func (h *Harness) openWelcome(frame []byte, session string, sealKey *invite.SealKey) error {
	msg, err := wire.Decode(frame)
	if err != nil {
		return err
	}
	welcome, ok := msg.(*wire.Welcome)
	if !ok {
		return fmt.Errorf("responder answered with %T", msg)
	}
	w, err := sealKey.Open(session, welcome.Sealed)
	if err != nil {
		return err
	}
	if w.LogKey != h.logKey() {
		return fmt.Errorf("welcome names log %s", w.LogKey.Short())
	}
	return nil
}

// resolveDoc converts YAML data to a document, replacing "@alias" strings
// with the writer key of alias.
func (h *Harness) resolveDoc(m map[string]any) (ir.Doc, error) {
	resolved := make(map[string]any, len(m))
	for k, v := range m {
		resolved[k] = h.resolve(v)
	}
	return ir.DocFromAny(resolved)
}

// resolveID resolves a document id; writer documents are keyed by writer
// key.
func (h *Harness) resolveID(id string) string {
	return h.resolve(id).(string)
}

func (h *Harness) resolve(v any) any {
	switch val := v.(type) {
	case string:
		if alias, ok := strings.CutPrefix(val, "@"); ok && alias != "" {
			return string(h.keyring.Key(alias).Public())
		}
		return val
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = h.resolve(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = h.resolve(elem)
		}
		return out
	}
	return v
}

// errorCode is the lowercase braid error code of err, "" for nil.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *ir.Error
	if errors.As(err, &e) {
		return strings.ToLower(string(e.Code))
	}
	return "unknown"
}

func errorOutcome(err error) string {
	return "error " + errorCode(err)
}
