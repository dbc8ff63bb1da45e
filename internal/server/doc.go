// Package server implements the relay's HTTP and WebSocket surface.
//
// A single Hub goroutine owns the location state and the set of connected
// clients. Connections are classified as admin or delivery at upgrade time,
// and every accepted location event is broadcast to all clients. The code is
// split into files for configuration, the hub, clients, the wire envelope,
// routing, and HTTP handlers.
package server
