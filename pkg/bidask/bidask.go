package bidask

import "math"

const (
	defaultDivisions = 40
	defaultScale     = 20.0
)

// BidAsk is a two-sided order book over discretized price/volume ladders.
// Bids are denominated in BTC and priced in RDG/BTC; asks are denominated in
// RDG and priced in BTC/RDG. The curve is disposable state: it is rebuilt
// wholesale from aggregate volumes on every regeneration, never patched
// element by element outside the fulfillment walk.
type BidAsk struct {
	Bids        []PriceVolume `json:"bids"`
	Asks        []PriceVolume `json:"asks"`
	CenterPrice float64       `json:"center_price"`
}

// Generate builds both ladders from current balances and a reference
// exchange price (RDG/BTC). The minAsk floor keeps the ask ladder from ever
// quoting below a configured minimum even if the reference price collapses.
func Generate(
	availableBalanceRDG int64,
	pairBalanceBTC uint64,
	lastExchangePrice float64,
	divisions int,
	scale float64,
	minAsk float64,
) BidAsk {
	// A bid is an offer to buy RDG with BTC; volume is the staked BTC. The
	// ladder extends 10% below center.
	var bids []PriceVolume
	if pairBalanceBTC > 0 {
		bids = GeneratePriceVolumes(
			pairBalanceBTC,
			lastExchangePrice,
			divisions,
			-(lastExchangePrice * 0.9),
			scale/2.0,
		)
	}

	// An ask price is the inverse of a bid price since ask volume is
	// denominated in RDG. The ladder extends to 3x the ask price.
	askPrice := math.Max(1.0/lastExchangePrice, minAsk)
	var asks []PriceVolume
	if availableBalanceRDG > 0 {
		asks = GeneratePriceVolumes(
			uint64(availableBalanceRDG),
			askPrice,
			divisions,
			askPrice*3.0,
			scale,
		)
	}

	return BidAsk{
		Bids:        bids,
		Asks:        asks,
		CenterPrice: lastExchangePrice,
	}
}

// GenerateDefault generates with the production division count and scale.
func GenerateDefault(
	availableBalanceRDG int64, pairBalanceBTC uint64,
	lastExchangePrice, minAsk float64,
) BidAsk {
	return Generate(
		availableBalanceRDG, pairBalanceBTC, lastExchangePrice,
		defaultDivisions, defaultScale, minAsk,
	)
}

// Regenerate rebuilds a fresh default curve from the current total side
// volumes and a new reference price.
func (ba BidAsk) Regenerate(price, minAsk float64) BidAsk {
	return GenerateDefault(
		int64(ba.SumAskVolume()), ba.SumBidVolume(), price, minAsk,
	)
}

// AskingPrice returns the first ask step's price, 0 on an empty ladder.
func (ba BidAsk) AskingPrice() float64 {
	if len(ba.Asks) == 0 {
		return 0
	}
	return ba.Asks[0].Price
}

func (ba BidAsk) SumBidVolume() uint64 {
	var sum uint64
	for _, pv := range ba.Bids {
		sum += pv.Volume
	}
	return sum
}

func (ba BidAsk) SumAskVolume() uint64 {
	var sum uint64
	for _, pv := range ba.Asks {
		sum += pv.Volume
	}
	return sum
}

// VolumeEmpty reports whether either ladder contains a drained step.
func (ba BidAsk) VolumeEmpty() bool {
	for _, pv := range ba.Bids {
		if pv.Volume == 0 {
			return true
		}
	}
	for _, pv := range ba.Asks {
		if pv.Volume == 0 {
			return true
		}
	}
	return false
}

// RemoveEmpty strips drained steps from both ladders in place.
func (ba *BidAsk) RemoveEmpty() {
	ba.Bids = retainNonZero(ba.Bids)
	ba.Asks = retainNonZero(ba.Asks)
}

func retainNonZero(pvs []PriceVolume) []PriceVolume {
	out := pvs[:0]
	for _, pv := range pvs {
		if pv.Volume > 0 {
			out = append(out, pv)
		}
	}
	return out
}
