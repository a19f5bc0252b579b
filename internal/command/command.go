// Package command parses protocol commands and drives the vehicle link
// through state-validated transitions.
package command

import "strings"

// Kind enumerates the protocol commands. One Kind is parsed per received
// line; anything unknown maps to Unrecognized.
type Kind int

const (
	Unrecognized Kind = iota
	Takeoff
	Mission
	Land
	Status
	Stop
)

// Parse maps one line of client text to a command. Matching is
// case-insensitive with surrounding whitespace trimmed; "take off" is an
// alias for takeoff.
func Parse(line string) Kind {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "takeoff", "take off":
		return Takeoff
	case "mission":
		return Mission
	case "land":
		return Land
	case "status":
		return Status
	case "stop":
		return Stop
	}
	return Unrecognized
}

func (k Kind) String() string {
	switch k {
	case Takeoff:
		return "takeoff"
	case Mission:
		return "mission"
	case Land:
		return "land"
	case Status:
		return "status"
	case Stop:
		return "stop"
	}
	return "unrecognized"
}
