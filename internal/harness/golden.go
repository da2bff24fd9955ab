package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Render formats a result as the golden text of a scenario: one line per
// step outcome followed by one summary line per replica. View hashes are
// left out; converged assertions cover them.
func Render(scenarioName string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", scenarioName)
	for _, event := range result.Trace {
		b.WriteString(event.String())
		b.WriteByte('\n')
	}
	for _, s := range result.State {
		fmt.Fprintf(&b, "state %s writers=%d entries=%d skips=%d\n", s.Replica, s.Writers, s.Entries, s.Skips)
	}
	return []byte(b.String())
}

// RunWithGolden runs scenario and checks its rendering against
// testdata/golden/<name>.golden. Pass -update to go test to rewrite it.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Render(scenarioName, result))
}
