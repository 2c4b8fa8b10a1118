// Package interceptor implements the connection interceptor loop: it accepts
// connections delivered by a transparent proxy rule, recovers where each
// client was originally going, drains a bounded amount of the client's
// request, and answers with a one-line HTTP diagnostic naming both ends.
//
// By default connections are handled one at a time in acceptance order, and
// the drain has no timeout, so a client that connects and sends nothing
// stalls the loop. Config.IOTimeout and Config.Concurrent lift that
// limitation.
//
// Every error from a single connection is logged and the loop moves on to
// the next accept. Only closing the listener (or cancelling the context)
// ends Serve.
package interceptor
