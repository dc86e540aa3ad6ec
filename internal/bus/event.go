package bus

import "time"

// Event is a domain event published on the bus. Kind uses dotted
// namespaces ("chat.message_received", "conn.online", ...) so a
// subscriber can receive a whole family via a prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
