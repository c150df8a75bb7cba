// Package journal persists session lifecycle events (state transitions,
// subscription changes) to Postgres for after-the-fact diagnosis of
// connection trouble. Recording is buffered and batched; the session
// engine never blocks on the database.
package journal
