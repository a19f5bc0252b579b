package vehicle

import "sync"

// FlightState is the single shared record of what the server believes about
// the vehicle. It is created once at startup and mutated only by the command
// handler after the triggering link call has been accepted.
type FlightState struct {
	mu        sync.Mutex
	flying    bool
	connected bool
}

func NewFlightState() *FlightState {
	return &FlightState{}
}

func (s *FlightState) Flying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flying
}

func (s *FlightState) SetFlying(flying bool) {
	s.mu.Lock()
	s.flying = flying
	s.mu.Unlock()
}

func (s *FlightState) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *FlightState) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
}
