// Package storage is the single shared key-value store used by every
// reconciliation run.
//
// Records are addressed by an entity-type partition key plus an
// identity-encoding sort key. Cross-run coordination relies only on
// AttemptClaim, the single-item conditional write:
//   - Absent() claims a key that must not exist yet (invite claims, board
//     creation locks, channel registration)
//   - AttrEquals() swaps an existing item only if an attribute still holds
//     the value the caller read (board fingerprints, stale lock takeover)
//   - AttrAbsentOrNot() writes only when an attribute does not already hold
//     the value (identity links)
//
// There are no multi-record transactions.
package storage
