package policy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/xtrntr/auction/internal/models"
)

func TestMinimumNextBid(t *testing.T) {
	tests := []struct {
		name     string
		auction  models.Auction
		expected string
	}{
		{
			name: "NoBidsUsesStartPrice",
			auction: models.Auction{
				StartPrice:   decimal.NewFromInt(100),
				CurrentPrice: decimal.NewFromInt(100),
				MinIncrement: decimal.NewFromInt(50),
			},
			expected: "100",
		},
		{
			name: "WithBidsAddsIncrement",
			auction: models.Auction{
				StartPrice:   decimal.NewFromInt(100),
				CurrentPrice: decimal.NewFromInt(100),
				MinIncrement: decimal.NewFromInt(50),
				BidCount:     1,
			},
			expected: "150",
		},
		{
			name: "FractionalIncrement",
			auction: models.Auction{
				StartPrice:   decimal.RequireFromString("1.00"),
				CurrentPrice: decimal.RequireFromString("2.10"),
				MinIncrement: decimal.RequireFromString("0.05"),
				BidCount:     3,
			},
			expected: "2.15",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MinimumNextBid(&tt.auction)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.expected)), "got %s", got)
		})
	}
}

func TestMeetsMinimum(t *testing.T) {
	a := &models.Auction{
		StartPrice:   decimal.NewFromInt(100),
		CurrentPrice: decimal.NewFromInt(100),
		MinIncrement: decimal.NewFromInt(50),
	}
	assert.False(t, MeetsMinimum(a, decimal.NewFromInt(99)))
	assert.True(t, MeetsMinimum(a, decimal.NewFromInt(100)))
	assert.True(t, MeetsMinimum(a, decimal.NewFromInt(120)))

	a.BidCount = 1
	assert.False(t, MeetsMinimum(a, decimal.NewFromInt(140)))
	assert.True(t, MeetsMinimum(a, decimal.NewFromInt(150)))
	// sub-precision noise is rounded away
	assert.True(t, MeetsMinimum(a, decimal.RequireFromString("149.99999")))
}

func TestExtension_NextEndTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ext := Extension{Window: 5 * time.Minute, Delta: 5 * time.Minute}

	tests := []struct {
		name       string
		end        time.Time
		acceptedAt time.Time
		expected   time.Time
	}{
		{
			name:       "OutsideWindow",
			end:        now.Add(10 * time.Minute),
			acceptedAt: now,
			expected:   now.Add(10 * time.Minute),
		},
		{
			name:       "AtWindowBoundary",
			end:        now.Add(5 * time.Minute),
			acceptedAt: now,
			expected:   now.Add(10 * time.Minute),
		},
		{
			name:       "InsideWindow",
			end:        now.Add(2 * time.Minute),
			acceptedAt: now,
			expected:   now.Add(7 * time.Minute),
		},
		{
			name:       "RepeatedLateBid",
			end:        now.Add(7 * time.Minute),
			acceptedAt: now.Add(6 * time.Minute),
			expected:   now.Add(12 * time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ext.NextEndTime(tt.end, tt.acceptedAt)
			assert.Equal(t, tt.expected, got)
			assert.False(t, got.Before(tt.end))
		})
	}
}

func TestExtension_Disabled(t *testing.T) {
	now := time.Now()
	end := now.Add(time.Minute)
	assert.Equal(t, end, Extension{Window: 0, Delta: time.Minute}.NextEndTime(end, now))
	assert.Equal(t, end, Extension{Window: time.Minute}.NextEndTime(end, now))
}

func TestExtension_ApplyCap(t *testing.T) {
	now := time.Now()
	end := now.Add(time.Minute)
	ext := Extension{Window: 5 * time.Minute, Delta: 5 * time.Minute, MaxExtensions: 2}

	next, extended := ext.Apply(end, now, 1)
	assert.True(t, extended)
	assert.Equal(t, end.Add(5*time.Minute), next)

	next, extended = ext.Apply(end, now, 2)
	assert.False(t, extended)
	assert.Equal(t, end, next)

	uncapped := DefaultExtension()
	_, extended = uncapped.Apply(end, now, 1000)
	assert.True(t, extended)
}
