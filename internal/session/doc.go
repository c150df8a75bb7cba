// Package session implements the persistent connection client core.
//
// A Client owns one logical duplex channel shared by many concurrent
// callers. It:
//   - drives the connect/auth/reconnect state machine (Client)
//   - tags outbound requests with session-scoped IDs and matches replies
//     to the waiting caller (correlator)
//   - multiplexes server-pushed events to registered subscriptions,
//     re-registering them after every reconnect (eventRouter)
//   - detects silently dead connections with a correlated keepalive
//     (heartbeat)
//
// Guard ensures that concurrent demand for a shared Client runs exactly
// one initialization sequence.
package session
