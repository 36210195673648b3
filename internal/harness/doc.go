// Package harness runs scripted scenarios against the persistence
// pipeline and checks the outcome.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: create_then_flush
//	description: "A synchronous write reaches the store after flush"
//	schema: people.cue        # optional, relative to the file
//	store: file               # memory (default) or file
//	policy: per-write         # per-write (default) or shared
//	steps:
//	  - op: write
//	    actions:
//	      - create: User
//	        id: u1
//	        fields: { firstname: "Ada" }
//	  - op: read
//	    entity: User
//	    expect: { count: 1, ids: [u1] }
//	  - op: flush
//	  - op: write
//	    actions:
//	      - fail: "boom"
//	    expect: { error: SAVE }
//	assertions:
//	  - type: durable_count
//	    entity: User
//	    count: 1
//	  - type: published
//	    count: 1
//
// # Operations
//
//   - write, write_async: run the actions in one closure; write waits for
//     the completion, write_async is collected by a later await
//   - await: wait for every outstanding write_async
//   - read: count and list the records of an entity in Main
//   - flush, nuke: FlushAndWait and Nuke
//   - suspend, terminate: deliver a lifecycle signal through a fake host;
//     with actions, the signal lands while that write is mid-flight
//   - reopen: close the pipeline and open it again over the same file
//
// # Assertion Types
//
//   - count: records of an entity in Main
//   - durable_count: records of an entity in the store
//   - record: a record in Main holds the given fields (subset match)
//   - commits: entries in the store's commit log
//   - published: events seen on the error channel
//
// # Deterministic Testing
//
// Record, write and commit ids come from sequence generators and trace
// sequence numbers from a logical clock, so traces are stable across runs
// and can be compared against golden files with RunWithGolden. Commit
// events are not traced: how many cascades a burst of writes collapses
// into depends on timing.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/basic.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
