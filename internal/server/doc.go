// Package server implements the HTTP and WebSocket surface of the room chat
// relay.
//
// The Hub is the event gateway: every connect, inbound event and disconnect
// becomes a command consumed by one goroutine, which drives the presence
// coordinator and message router of the chat package. Clients own the
// socket pumps; config, origin checks, throttling and HTTP helpers live in
// their own files.
package server
