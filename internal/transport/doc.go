// Package transport provides the duplex channel abstraction used by the
// session engine, plus its WebSocket implementation.
//
// The engine only sees the Conn and Dialer interfaces, so it can be unit
// tested against an in-memory channel pair without a real socket.
package transport
