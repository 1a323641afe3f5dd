// Package ws streams index removal events to websocket clients.
//
// The Hub implements expiry.EventSink. Each removal is encoded once and
// fanned out to every connected client; a client whose outgoing buffer is
// full is disconnected rather than allowed to slow the removal path.
//
//	hub := ws.New(logger)
//	go hub.Run(ctx)
//	mux.Handle("/v1/events", hub)
package ws
