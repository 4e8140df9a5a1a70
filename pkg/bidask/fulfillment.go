package bidask

import (
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
)

// OrderFulfillment is the transient result of walking one side of the curve
// against a taker order. It is persisted only via its effect on the curve and
// the ledger transactions it produces.
type OrderFulfillment struct {
	OrderAmount     uint64        `json:"order_amount"`
	FulfilledAmount uint64        `json:"fulfilled_amount"`
	UpdatedCurve    []PriceVolume `json:"updated_curve"`
	// IsAskFromExternalDeposit is set when the fulfillment pays out RDG in
	// response to a confirmed external bitcoin deposit.
	IsAskFromExternalDeposit bool           `json:"is_ask_from_external_deposit"`
	EventTime                int64          `json:"event_time"`
	ExternalTxID             string         `json:"external_tx_id,omitempty"`
	Destination              domain.Address `json:"destination"`
}

// FulfillmentPrice is the effective price the order achieved.
func (of OrderFulfillment) FulfillmentPrice() float64 {
	return float64(of.FulfilledAmount) / float64(of.OrderAmount)
}

// FulfillmentFraction is the share of the side's liquidity this order
// consumed.
func (of OrderFulfillment) FulfillmentFraction() float64 {
	total := of.FulfilledAmount
	for _, pv := range of.UpdatedCurve {
		total += pv.Volume
	}
	return float64(of.FulfilledAmount) / float64(total)
}

func (of OrderFulfillment) FulfilledCurrencyAmount() domain.CurrencyAmount {
	return domain.AmountFromRDG(int64(of.FulfilledAmount))
}

// FulfillTakerOrder walks the chosen side's ladder front to back, consuming
// steps until the order amount is spent. Ties are broken purely by ladder
// order; this is first-fit sequential consumption, not best price across both
// sides. Returns nil when the total fulfillable amount is below the dust
// limit.
func (ba BidAsk) FulfillTakerOrder(
	orderAmount uint64,
	isAsk bool,
	eventTime int64,
	externalTxID string,
	destination domain.Address,
) *OrderFulfillment {
	remaining := orderAmount
	var fulfilled uint64

	var updatedCurve []PriceVolume
	if isAsk {
		// Asks are ordered by increasing price, denominated in BTC/RDG.
		updatedCurve = append([]PriceVolume(nil), ba.Asks...)
	} else {
		// Bids are ordered by decreasing desirability, denominated in RDG/BTC.
		updatedCurve = append([]PriceVolume(nil), ba.Bids...)
	}

	for i := range updatedCurve {
		pv := &updatedCurve[i]
		// Convert what remains of the order into the other asset at this
		// step's price: BTC / (BTC/RDG) = RDG on the ask side, RDG / (RDG/BTC)
		// = BTC on the bid side.
		otherRequested := uint64(float64(remaining) / pv.Price)

		if otherRequested >= pv.Volume {
			// The order outsizes this step: consume it entirely and continue.
			fulfilled += pv.Volume
			remaining -= uint64(float64(pv.Volume) * pv.Price)
			pv.Volume = 0
		} else {
			// The step outsizes the order: consume partially and stop.
			pv.Volume -= otherRequested
			fulfilled += otherRequested
			remaining = 0
			break
		}
	}

	updatedCurve = retainNonZero(updatedCurve)

	if fulfilled < DustLimit {
		return nil
	}
	return &OrderFulfillment{
		OrderAmount:              orderAmount,
		FulfilledAmount:          fulfilled,
		UpdatedCurve:             updatedCurve,
		IsAskFromExternalDeposit: isAsk,
		EventTime:                eventTime,
		ExternalTxID:             externalTxID,
		Destination:              destination,
	}
}
