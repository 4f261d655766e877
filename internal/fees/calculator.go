// Package fees computes parking charges from stay duration and a rate
// table. The calculator is a pure function of its inputs.
package fees

import (
	"errors"
	"time"
)

// ErrInvalidDuration marks an exit timestamp earlier than the entry. This
// is a precondition violation, never silently clamped.
var ErrInvalidDuration = errors.New("exit time precedes entry time")

type Calculator struct {
	RatePerHour int64 // whole currency units per hour
	FreeMinutes int   // stays at or under this duration cost nothing
}

func NewCalculator(ratePerHour int64, freeMinutes int) *Calculator {
	return &Calculator{RatePerHour: ratePerHour, FreeMinutes: freeMinutes}
}

// Amount returns the fee in whole currency units, rounded up so that any
// started hour fraction is charged in full.
func (c *Calculator) Amount(entry, exit time.Time) (int64, error) {
	if exit.Before(entry) {
		return 0, ErrInvalidDuration
	}

	d := exit.Sub(entry)
	if c.FreeMinutes > 0 && d <= time.Duration(c.FreeMinutes)*time.Minute {
		return 0, nil
	}

	seconds := int64(d / time.Second)
	amount := (seconds*c.RatePerHour + 3599) / 3600 // ceil(hours * rate)
	return amount, nil
}
