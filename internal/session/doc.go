// Package session owns conversations: the message log, token accounting,
// cache checkpoints, the orchestration of a turn and history compaction.
//
// A Session has exactly one writer at a time. The Manager hands out the write
// side per turn and rejects concurrent turns with ErrBusy. Readers take a
// View, an immutable snapshot published atomically after every change, so
// inspection never blocks a running turn.
//
// Turns commit atomically. Messages produced while a turn runs are staged in
// a draft and become part of the Session only when the turn ends:
//
//   - on success everything is committed
//   - on cancellation or turn timeout only complete tool call and result pairs
//     are kept, and the turn is rolled back entirely when none completed
//   - on a provider error the turn is rolled back so it can be retried
//   - when the tool round limit is hit the completed pairs are kept
//
// After a commit the context manager truncates history by whole call groups
// when the request threshold is exceeded, then places cache checkpoints for
// vendors with prompt caching. The result is persisted as a JSONL log.
package session
