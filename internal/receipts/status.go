// Package receipts implements the monotone Sent -> Delivered -> Read
// progression for outbound messages. Transitions are merges, not sequence
// steps: applying the same events in any order yields the same final state.
package receipts

// Status is the receipt state of a sent message from the sender's perspective.
type Status int

const (
	StatusSent Status = iota
	StatusDelivered
	StatusRead
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusRead:
		return "read"
	case StatusDelivered:
		return "delivered"
	default:
		return "sent"
	}
}

// Max returns the more advanced of two statuses.
func Max(a, b Status) Status {
	if a > b {
		return a
	}
	return b
}

// FromFlags derives the status from the stored booleans.
func FromFlags(delivered, read bool) Status {
	switch {
	case read:
		return StatusRead
	case delivered:
		return StatusDelivered
	default:
		return StatusSent
	}
}

// Flags returns the boolean pair for a status. Read always implies
// delivered.
func (s Status) Flags() (delivered, read bool) {
	return s >= StatusDelivered, s >= StatusRead
}

// MergeFlags merges new receipt flags into existing ones monotonically.
// No transition goes backward, and read promotes delivered.
func MergeFlags(oldDelivered, oldRead, newDelivered, newRead bool) (delivered, read bool) {
	read = oldRead || newRead
	delivered = oldDelivered || newDelivered || read
	return delivered, read
}
