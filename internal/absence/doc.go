// Package absence runs the daily absence sweep and computes rolling absence
// summaries.
//
// The sweep is re-entrant. Whether a student has already been alerted is read
// from the notification ledger on every run, and each send is preceded by a
// claim on the ledger's per-day slot, so two overlapping runs (or a run racing
// a check-in) never notify the same guardian twice on one day.
package absence
