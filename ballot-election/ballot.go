package ble

import "fmt"

// Ballot identifies one leadership attempt.
// Ballots are compared lexicographically by (Number, PID)
// and must only increase over time. The zero Ballot orders
// below every real ballot and means "no leader".
type Ballot struct {
	Number uint64
	PID    uint64
}

func (b Ballot) GreaterThan(other Ballot) bool {
	if b.Number == other.Number {
		return b.PID > other.PID
	}
	return b.Number > other.Number
}

func (b Ballot) LessThan(other Ballot) bool {
	return other.GreaterThan(b)
}

func (b Ballot) Equal(other Ballot) bool {
	return b.Number == other.Number && b.PID == other.PID
}

// IsZero reports whether b is the "no leader" ballot.
func (b Ballot) IsZero() bool {
	return b.Number == 0 && b.PID == 0
}

func (b Ballot) String() string {
	return fmt.Sprintf("(%d,%d)", b.Number, b.PID)
}
