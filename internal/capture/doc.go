// Package capture owns the capture stage of a recording session.
//
// Overview
// The Manager accepts start requests keyed by user, admits them through
// the session registry (at most one active capture per user), spawns one
// external capture process per admitted session and watches its exit.
//
// Data flow:
//
//	Control surface        Manager                 proc.Handle
//	     |                    |                        |
//	 Start(user) -----------> | insert in registry     |
//	     |                    | spawn ---------------> | ffmpeg stream copy
//	     |<---- Snapshot ---- |                        |
//	     |                    | watch: <-Done() ------ | (process exits)
//	     |                    | remove from registry   |
//	     |                    | classify exit:         |
//	     |                    |   ok -> pipeline.Run   |
//	     |                    |   else -> CaptureFailed|
//
// Invariants:
//   - The registry entry exists from before the spawn until the instant
//     the capture process exits; post-capture work runs on the detached
//     session, so the same user can immediately be admitted again.
//   - A spawn failure removes the entry before Start returns; no doomed
//     session is ever observable.
//   - Exit code zero alone is not success: the output file must exist
//     and be non-empty.
package capture
