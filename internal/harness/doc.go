// Package harness runs multi-replica conformance scenarios against the
// braid engine.
//
// A scenario is a YAML file naming a log, a set of replicas and a list of
// steps. Every replica is a real engine on its own in-memory SQLite store,
// writing with a deterministic key derived from its alias. Replicas share
// nothing: entries move only on an explicit sync step, so the arrival
// order of every entry is part of the scenario.
//
// # Steps
//
//   - append: append a command on one replica, optionally expecting an
//     error code
//   - sync: copy every entry one replica holds into another, in order or
//     reversed
//   - invite / revoke: create or revoke an invite on a replica
//   - pair: run one pairing handshake of a candidate against a member's
//     responder, expecting "admitted" or "ignored"
//   - advance: move the scenario's fake wall clock forward
//   - reopen: close a replica and open it again from its store
//
// # Assertions
//
//   - doc / absent: a document exists with the expected fields, or not
//   - writable: a writer's membership as seen by one replica
//   - converged: replicas hold byte-identical views
//   - order: documents of a collection in replay order
//   - skips: how many entries the last replay skipped
//
// # Deterministic Testing
//
// Writer keys come from testutil.Keyring and wall time from
// testutil.FakeClock, so step outcomes are identical across runs and can
// be compared against golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/offline_writers.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
