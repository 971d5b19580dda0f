// Package engine implements the client-side sync engine.
//
// The engine owns the local event cache, the queue of pending remote
// mutations, and reconciliation with the remote store.
//
// ARCHITECTURE:
//
// Single Writer:
// Every change to the cache, the mutation queue and the per-event
// watermarks happens under one writer lock, and readers see the cache as an
// immutable snapshot that is replaced as a whole. A slow reader never sees a
// half-applied change.
//
// Dispatch Loop:
// One goroutine started by Init drains a FIFO of event ids and sends the head
// mutation for each id to the remote store. Because sends are sequential
// there is at most one remote call in flight per event id.
//
// Write Flow:
//  1. Permission, quota and read-only checks run before anything else
//  2. The change is applied optimistically and a Mutation is queued
//  3. The caller gets a Receipt immediately
//  4. The dispatch loop sends it; the canonical record replaces the
//     optimistic one, or the change is rolled back, retried or parked
//
// Read Flow:
// Fetches are stamped with a generation from the logical Clock. A response
// older than the last applied generation is discarded on arrival.
//
// ORDERING:
//
// Each event id has a watermark: the highest local sequence or server version
// seen for it. Local mutations take watermark+1. A push below the watermark,
// or for an id with a local mutation still pending, is dropped.
package engine
