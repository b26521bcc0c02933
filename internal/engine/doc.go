// Package engine composes the todosync engine: the record store, live
// filtered views, edit-script reconciliation and write-behind persistence.
//
// ARCHITECTURE:
//
// Mutation Flow:
// 1. A caller invokes a mutation (Insert, Toggle, ...)
// 2. The record store validates, applies and stamps one Event
// 3. Subscribers run synchronously, in subscription order:
//   - the persistence coordinator turns the event into write intents
//   - every live view recomputes and diffs prev against next
//
// 4. Non-empty edit scripts are queued for their subscription
// 5. The call returns; durable writes complete in the background
//
// Startup is LoadAll -> Load -> workers -> subscribe; shutdown drains the
// persistence lanes before returning.
//
// CRITICAL PATTERNS:
//
// Synchronous views:
// A view reflects a mutation as soon as the mutating call returns.
// Only persistence is asynchronous.
//
// Non-blocking delivery:
// Scripts are handed to subscribers through an unbounded queue, so a slow
// consumer never holds up a mutation.
package engine
