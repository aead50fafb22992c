// Package policy holds the pure pricing and extension rules of an auction.
package policy

import (
	"github.com/shopspring/decimal"
	"github.com/xtrntr/auction/internal/models"
)

// MinimumNextBid returns the smallest amount the next bid may carry.
// With no bids the start price itself is acceptable; afterwards the
// current price must be beaten by at least the minimum increment.
func MinimumNextBid(a *models.Auction) decimal.Decimal {
	if a.BidCount == 0 {
		return models.RoundMoney(a.StartPrice)
	}
	return models.RoundMoney(a.CurrentPrice.Add(a.MinIncrement))
}

// MeetsMinimum reports whether amount is an acceptable next bid for a
func MeetsMinimum(a *models.Auction, amount decimal.Decimal) bool {
	return models.RoundMoney(amount).GreaterThanOrEqual(MinimumNextBid(a))
}
