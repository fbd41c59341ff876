// Package engine implements the offsync sync pass.
//
// A pass reads every PENDING action from the Action Log, partitions the
// actions into entity groups, and sends them through a Syncer:
//
//  1. Group by "<entity_type>:<entity_id|new>", each group sorted by
//     created_at (stable, so ties keep insertion order). With entity
//     ordering off, every action is its own group.
//  2. Take groups in chunks of batch size. Groups in a chunk run
//     concurrently; the next chunk starts only after the whole chunk is done.
//  3. Inside a group, actions run strictly one after another:
//     PENDING -> SYNCING -> COMPLETED on success, FAILED (retry_count+1) on
//     conflict or failure.
//
// Per-action failures never stop a pass. Only Action Log errors and invalid
// options are returned to the caller, together with the partial report.
//
// Cancellation is honoured between chunks. A chunk that has started always
// finishes, so a group is never left half sent.
package engine
