package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is a single balance observation, consumed once per poll.
type Snapshot struct {
	Balance      decimal.Decimal
	SpendPerHour decimal.Decimal
	ObservedAt   time.Time
}

// BalanceFetcher retrieves the current account balance and spend rate.
type BalanceFetcher interface {
	FetchBalance(ctx context.Context) (Snapshot, error)
}
