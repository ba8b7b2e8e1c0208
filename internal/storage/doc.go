// Package storage provides the persistence layer for the attendance core.
//
// It currently supports:
//   - Roster reads (students and grades) plus administrative upserts
//   - The attendance ledger (one check-in per student and day)
//   - The notification ledger (one notification per student and day)
//   - The singleton class-day calendar row
//
// Both ledgers are guarded by UNIQUE constraints, so concurrent writers race
// safely: the first insert wins and the second is a no-op.
package storage
