// Package wire defines the framing shared by the session engine and the
// server side of the channel.
//
// Outbound frames are either an auth handshake or a correlated request:
//   - auth:    {"type": "auth", "token": "..."}
//   - request: {"type": "request", "id": 7, "op": "subscribe", "params": {...}}
//
// Inbound frames carry one of five type discriminators:
//   - auth-required, auth-ok, auth-invalid (handshake)
//   - result (echoes the request id, plus ok flag and payload-or-error)
//   - event  (carries a server subscription id, source, and payload)
package wire
