// Package harness runs sync scenarios end to end.
//
// A scenario seeds the reference remote, enqueues actions into a fresh
// Action Log, runs one sync pass through the real engine and client, and
// checks the result.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	schema: |
//	  entity: users: name: string
//	seed:
//	  - entity_type: users
//	    id: user_1
//	    data: { name: John }
//	    last_modified: 2023-01-01T10:00:00Z
//	actions:
//	  - kind: UPDATE
//	    entity_type: users
//	    entity_id: user_1
//	    payload: { name: Jane }
//	    created_at: 2022-12-31T00:00:00Z
//	    policy: timestamp
//	faults:
//	  - action: act-001
//	    attempts: 2
//	    error_kind: retryable
//	sync:
//	  batch_size: 2
//	  respect_entity_order: true
//	assertions:
//	  - type: report
//	    expect: { total_actions: 1, conflicts: 1 }
//	  - type: action_status
//	    action: act-001
//	    status: FAILED
//
// # Assertion Types
//
//   - report: report counters
//   - action_status: final status and retry count of an action
//   - outcome: outcome kind, operation and error kind of an action
//   - call_order: relative order in which actions reached the remote
//   - call_count: number of sends for an action, retries included
//   - record: existence and data of a remote record
//
// # Deterministic Testing
//
// Action ids are act-001, act-002, ... in enqueue order. Enqueue timestamps
// come from created_at or a manual clock, retries never sleep, and the
// report clock is frozen, so snapshots are stable for golden comparison.
package harness
