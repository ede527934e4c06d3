package bus

import "time"

// Event represents an engine event published on the bus.
//
// Kinds are dot-namespaced: "wire." for raw inbound frames from the
// transport, "conn." for connection lifecycle, "chat." for published
// state changes, "action." for facade operation results.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
