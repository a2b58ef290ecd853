package domain

import "math"

// RoundCents normalizes a monetary value to two decimal places. All amounts
// entering the ledger or a reservation pass through here.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
