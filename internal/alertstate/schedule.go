package alertstate

import (
	"fmt"
	"math"
	"time"
)

// Schedule maps an alert sequence number to the wait before the next
// alert in the same run. The first alert of a run is always immediate;
// the schedule only governs spacing between repeats.
type Schedule struct {
	Initial time.Duration
	Factor  float64
	Floor   time.Duration
}

// Validate rejects schedules the decay law is undefined for.
func (s Schedule) Validate() error {
	if s.Initial <= 0 {
		return fmt.Errorf("initial interval must be greater than zero")
	}
	if s.Floor <= 0 {
		return fmt.Errorf("floor interval must be greater than zero")
	}
	if s.Factor <= 0 || s.Factor > 1 {
		return fmt.Errorf("decay factor must be in (0,1], got %v", s.Factor)
	}
	return nil
}

// IntervalFor returns max(Floor, Initial × Factor^n). It is total for
// all n >= 0, non-increasing in n, and bounded below by Floor.
func (s Schedule) IntervalFor(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	interval := time.Duration(float64(s.Initial) * math.Pow(s.Factor, float64(n)))
	if interval < s.Floor {
		return s.Floor
	}
	return interval
}
