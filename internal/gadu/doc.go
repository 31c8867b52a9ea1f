// ABOUTME: Package doc for the wire-protocol boundary.

// Package gadu defines the boundary to the Gadu-Gadu wire-protocol client.
//
// The bridge does not implement the protocol's byte-level framing or login
// handshake. Instead it consumes a client through the Client and Dialer
// interfaces and feeds lifecycle events through the Profile callback set.
// A production protocol driver registers its constructor with
// RegisterClient, database/sql style; the TransportDialer then handles
// connect-by-address (plain or TLS) and hands the socket to the driver.
//
// For development and end-to-end testing without a live server, SimDialer
// provides an in-process stand-in that confirms login and echoes outbound
// messages back as inbound ones.
package gadu
