// Package alternet is an asynchronous TCP communication layer.
//
// A Server accepts connections on one port and a Client connects to one
// server. Each runs a single event loop goroutine that multiplexes its
// sockets, reads without blocking and turns the byte stream into units
// according to its Mode: every read as-is (ModeRaw), every read as UTF-8
// text (ModeText), or one unit per 4-byte big-endian length-prefixed frame
// (ModeFramed).
//
// Events are delivered to the optional functions of a Handlers value, always
// on the loop goroutine. A handler that blocks stalls every connection of
// its endpoint.
//
// Sends run on the caller's goroutine and return only once every byte has
// been accepted by the socket, so no flush is ever needed. A peer that stops
// reading blocks the sender; WithWriteTimeout bounds that wait.
package alternet
