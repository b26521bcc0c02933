// Package store provides SQLite-backed durable storage for todos.
//
// Store satisfies persist.Backend. Every write is idempotent by id:
//   - WriteUpsert uses INSERT ... ON CONFLICT(id) DO UPDATE
//   - WriteDelete of a missing id is a no-op
//   - WriteDeleteMany runs in one transaction
//
// # Ordering
//
// LoadAll returns records in canonical order:
// ORDER BY created_at DESC, id DESC. created_at is stored as Unix
// nanoseconds in UTC so the comparison is exact.
//
// # Setup
//
// Every open sets journal_mode=WAL, synchronous=NORMAL and a 5s
// busy_timeout, then applies schema.sql and any pending migrations.
// PRAGMA user_version records the last migration applied.
//
// # Identity high-water mark
//
// meta(last_id) holds the highest id ever upserted. WriteUpsert raises it in
// the same transaction as the row, deletes never lower it, and LastID
// reports it so a restarted process never reissues a deleted id.
package store
