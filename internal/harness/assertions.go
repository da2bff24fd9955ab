package harness

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/view"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Replica  string
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Replica != "" {
		fmt.Fprintf(&buf, " on %s", e.Replica)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	return buf.String()
}

// EvaluateAssertions runs every assertion against the harness replicas and
// returns the failure messages.
func EvaluateAssertions(h *Harness, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(h, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(h *Harness, a Assertion) error {
	switch a.Type {
	case AssertDoc:
		return assertDoc(h, a)
	case AssertAbsent:
		return assertAbsent(h, a)
	case AssertWritable:
		return assertWritable(h, a)
	case AssertConverged:
		return assertConverged(h, a)
	case AssertOrder:
		return assertOrder(h, a)
	case AssertSkips:
		return assertSkips(h, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertDoc checks that the document exists and every expected field
// matches (subset semantics).
func assertDoc(h *Harness, a Assertion) error {
	want, err := h.resolveDoc(a.Expect)
	if err != nil {
		return fmt.Errorf("expect: %w", err)
	}
	id := h.resolveID(a.ID)
	got, ok := h.replicas[a.Replica].engine.Get(a.Collection, id)
	if !ok {
		return &AssertionError{
			Type:     AssertDoc,
			Replica:  a.Replica,
			Expected: fmt.Sprintf("%s/%s exists", a.Collection, a.ID),
			Actual:   "not found",
		}
	}
	for _, k := range want.SortedKeys() {
		if !ir.Equal(got[k], want[k]) {
			return &AssertionError{
				Type:     AssertDoc,
				Replica:  a.Replica,
				Expected: fmt.Sprintf("%s/%s %s = %v", a.Collection, a.ID, k, ir.ToAny(want[k])),
				Actual:   fmt.Sprintf("%v", ir.ToAny(got[k])),
			}
		}
	}
	return nil
}

func assertAbsent(h *Harness, a Assertion) error {
	if got, ok := h.replicas[a.Replica].engine.Get(a.Collection, h.resolveID(a.ID)); ok {
		return &AssertionError{
			Type:     AssertAbsent,
			Replica:  a.Replica,
			Expected: fmt.Sprintf("%s/%s absent", a.Collection, a.ID),
			Actual:   fmt.Sprintf("%v", ir.ToAny(got)),
		}
	}
	return nil
}

func assertWritable(h *Harness, a Assertion) error {
	key := h.keyring.Key(a.Writer).Public()
	if got := h.replicas[a.Replica].engine.Writable(key); got != *a.Writable {
		return &AssertionError{
			Type:     AssertWritable,
			Replica:  a.Replica,
			Expected: fmt.Sprintf("writable(%s) = %t", a.Writer, *a.Writable),
			Actual:   fmt.Sprintf("%t", got),
		}
	}
	return nil
}

func assertConverged(h *Harness, a Assertion) error {
	first := a.Replicas[0]
	want := h.replicas[first].engine.View().Hash()
	for _, r := range a.Replicas[1:] {
		if got := h.replicas[r].engine.View().Hash(); got != want {
			diff := view.Diff(h.replicas[first].engine.View(), h.replicas[r].engine.View())
			keys := make([]string, len(diff))
			for i, k := range diff {
				keys[i] = k.String()
			}
			return &AssertionError{
				Type:     AssertConverged,
				Expected: fmt.Sprintf("%s and %s hold the same view", first, r),
				Actual:   "differing documents: " + strings.Join(keys, ", "),
			}
		}
	}
	return nil
}

// assertOrder checks the ids of a collection sorted by their "position"
// field, which handlers set to the replay position.
func assertOrder(h *Harness, a Assertion) error {
	recs := h.replicas[a.Replica].engine.Query(a.Collection, view.All())
	slices.SortFunc(recs, func(x, y view.Record) int {
		px, _ := x.Doc.Int("position")
		py, _ := y.Doc.Int("position")
		return cmp.Compare(px, py)
	})
	got := make([]string, len(recs))
	for i, rec := range recs {
		got[i] = rec.ID
	}
	if !slices.Equal(got, a.Order) {
		return &AssertionError{
			Type:     AssertOrder,
			Replica:  a.Replica,
			Expected: fmt.Sprintf("%s in order %v", a.Collection, a.Order),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertSkips(h *Harness, a Assertion) error {
	skips := h.replicas[a.Replica].engine.Skips()
	if len(skips) != *a.Count {
		reasons := make([]string, len(skips))
		for i, s := range skips {
			reasons[i] = fmt.Sprintf("%s@%d", s.Reason, s.Position)
		}
		return &AssertionError{
			Type:     AssertSkips,
			Replica:  a.Replica,
			Expected: fmt.Sprintf("%d skipped entries", *a.Count),
			Actual:   fmt.Sprintf("%d %v", len(skips), reasons),
		}
	}
	return nil
}
