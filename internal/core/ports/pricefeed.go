package ports

import "context"

// PriceSource reports the latest USD/BTC spot price from an external feed.
type PriceSource interface {
	LatestPrice(ctx context.Context) (float64, error)
}
