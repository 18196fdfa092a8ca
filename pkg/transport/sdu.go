// Package transport defines the abstract transport port contract that the
// ISO-TP engine sits behind and that the UDS client/server depend on
// (spec.md §3, §6). Concrete CAN link bindings and the in-process mock
// transport are external collaborators built on top of this contract.
package transport

// AddressType is the target-address type of a transport SDU.
type AddressType uint8

const (
	// Physical addressing is one-to-one.
	Physical AddressType = iota
	// Functional addressing is one-to-many; constrained to single-frame
	// payloads (<=7 bytes of application data).
	Functional
)

func (a AddressType) String() string {
	if a == Functional {
		return "FUNCTIONAL"
	}
	return "PHYSICAL"
}

// MessageType distinguishes a diagnostic SDU from other ISO-TP traffic
// variants (the core only ever produces/consumes Diagnostic).
type MessageType uint8

const (
	Diagnostic MessageType = iota
)

// SDU is the transport SDU descriptor of spec.md §3: message type,
// target-address type, source/target addresses, and an application-entity
// tag threaded through unchanged by the transport.
type SDU struct {
	MessageType MessageType
	TAType      AddressType
	Source      uint32
	Target      uint32
	EntityTag   uint32
}
