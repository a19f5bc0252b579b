package vehicle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlightStateDefaults(t *testing.T) {
	s := NewFlightState()
	assert.False(t, s.Flying())
	assert.False(t, s.Connected())
}

func TestFlightStateTransitions(t *testing.T) {
	s := NewFlightState()

	s.SetFlying(true)
	assert.True(t, s.Flying())
	s.SetFlying(false)
	assert.False(t, s.Flying())

	s.SetConnected(true)
	assert.True(t, s.Connected())
}

// run with -race: concurrent readers and writers must not trip the detector
func TestFlightStateConcurrentAccess(t *testing.T) {
	s := NewFlightState()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(v bool) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.SetFlying(v)
			}
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Flying()
			}
		}()
	}
	wg.Wait()
}
