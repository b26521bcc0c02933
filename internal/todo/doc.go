// Package todo defines the record at the center of todosync and the error
// taxonomy every other package reports in.
//
// A Todo is a plain value. The records package owns the canonical copy; views,
// the reconciler and persistence backends only ever hold copies, so handing a
// Todo across goroutines never needs a lock.
//
// # Invariants
//
//   - ID is positive, assigned once and never reused (see package ident)
//   - Text is 1..MaxTextLength Unicode code points after trimming
//   - CreatedAt is set exactly once, at insert
//   - Canonical order is CreatedAt descending, then ID descending
//
// # Errors
//
// ValidationError and NotFoundError are the only errors a caller of the
// mutation API has to handle. Use IsValidation and IsNotFound (both unwrap)
// rather than comparing against concrete types.
package todo
