// Package harness runs clone, pull and sync round trips described in YAML
// scenario files and checks the outcome.
//
// Each scenario gets a fresh origin and clone in temporary sqlite files, a
// fixed clock and a fixed session id, so the replay trace is deterministic
// and can be compared against golden files.
//
// # Scenario Format
//
//	name: fk_remap
//	description: "Inserts on the clone are remapped to new origin ids"
//	origin:                 # recorded on the origin before the clone
//	  - op: insert
//	    table: family
//	    values: { family: Rosaceae }
//	remote:                 # recorded on the clone, then pulled
//	  - op: insert
//	    table: genus
//	    values: { genus: Rosa, family_id: 1 }
//	concurrent:             # recorded on the origin after the clone
//	  - op: update
//	    table: family
//	    id: 1
//	    values: { qualifier: s.l. }
//	edits:                  # typed edits to staged changes
//	  - staged: 1
//	    values: { author: "L." }
//	remove: [2]             # staged changes dropped before the sync
//	resolver:
//	  decisions: [resolve, skip_related]
//	  resolve: { code: GH2 }
//	assertions:
//	  - type: row_outcome
//	    table: genus
//	    remote_id: 1
//	    outcome: APPLIED
//	  - type: final_state
//	    table: genus
//	    where: { genus: Rosa }
//	    expect: { family_id: 1 }
//
// # Assertion Types
//
//   - row_outcome: a replayed row ended with the given outcome
//   - outcome_count: exactly count rows ended with the given outcome
//   - id_map: a remote id was mapped to a local id, or skipped
//   - row_count: an origin table holds exactly count rows
//   - final_state: one origin row matching where holds the expected values
package harness
