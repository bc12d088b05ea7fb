// Package commission holds the platform commission and maker payout math.
// Everything is integer cents; values are computed once at order creation and
// frozen into the line item, so later rate changes never touch existing orders.
package commission

// Rate is the platform share of every unit price, in percent.
const Rate = 10

// Floor is the minimum per-unit commission in cents.
const Floor = 100

// Commission returns the per-unit platform commission for a unit price in
// cents: 10% truncated to a cent, never below the floor. Non-positive prices
// yield zero.
func Commission(unitPrice int64) int64 {
	if unitPrice <= 0 {
		return 0
	}
	c := unitPrice * Rate / 100
	if c < Floor {
		return Floor
	}
	return c
}

// MakerPayout returns the maker's total payout for a line: the unit price
// minus per-unit commission, times quantity. Degenerate lines pay nothing.
func MakerPayout(unitPrice int64, quantity int, perUnit int64) int64 {
	if unitPrice <= 0 || quantity <= 0 {
		return 0
	}
	return (unitPrice - perUnit) * int64(quantity)
}
