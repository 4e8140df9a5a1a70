package watcher

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/ports"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/relay"
	"github.com/ledgerswap-network/ledgerswap-daemon/pkg/bidask"
)

// ledgerQueryLimit caps how many incoming ledger transactions one
// reconciliation pass inspects.
const ledgerQueryLimit = 10000

// PartyEvents is the reconciled view of the deposits and withdrawals
// affecting one custodial liquidity key across both chains. Each tick
// rebuilds it from scratch: the ledger transactions paying the key address,
// the wallet's sourced bitcoin transactions, and the bridge markers recording
// what was already paid out.
type PartyEvents struct {
	Key        domain.PublicKey
	KeyAddress domain.Address

	BidAsk           bidask.BidAsk
	Orders           []bidask.OrderFulfillment
	LastBTCTimestamp uint64
	// UsedTransactions are the ledger withdrawals whose bridge markers must
	// be written once the corresponding bitcoin transaction is sent.
	UsedTransactions []*domain.Transaction

	relay  *relay.Relay
	wallet ports.UtxoWallet
	minAsk float64
}

// NewPartyEvents reconciles the current pending orders for the key. The
// passed curve is walked (and regenerated when a side empties) as orders are
// matched; the caller persists the resulting curve.
func NewPartyEvents(
	ctx context.Context,
	r *relay.Relay,
	key domain.PublicKey,
	curve bidask.BidAsk,
	lastBTCTimestamp uint64,
	wallet ports.UtxoWallet,
	minAsk float64,
) (*PartyEvents, error) {
	addr, err := key.Address()
	if err != nil {
		return nil, err
	}
	pe := &PartyEvents{
		Key:              key,
		KeyAddress:       addr,
		BidAsk:           curve,
		LastBTCTimestamp: lastBTCTimestamp,
		relay:            r,
		wallet:           wallet,
		minAsk:           minAsk,
	}
	if err := pe.reconcileWithdrawals(ctx); err != nil {
		return nil, err
	}
	if err := pe.reconcileDeposits(ctx); err != nil {
		return nil, err
	}
	sort.SliceStable(pe.Orders, func(i, j int) bool {
		return pe.Orders[i].EventTime < pe.Orders[j].EventTime
	})
	return pe, nil
}

// reconcileWithdrawals matches unconsumed incoming RDG transactions against
// the bid side, producing BTC payout orders.
func (pe *PartyEvents) reconcileWithdrawals(ctx context.Context) error {
	txs, err := pe.relay.Stores.Transaction.FindForAddress(
		ctx, pe.KeyAddress, ledgerQueryLimit, 0, true)
	if err != nil {
		return domain.WrapError(domain.KindUpstream, "listing incoming ledger transactions", err)
	}
	log.Debugf("found %d incoming ledger transactions for withdrawal reconciliation", len(txs))

	for _, tx := range txs {
		hash := tx.Hash()
		used, err := pe.relay.Stores.Multiparty.BridgeTxUsed(ctx, hash)
		if err != nil {
			return domain.WrapError(domain.KindUpstream, "checking bridge marker", err)
		}
		if used {
			continue
		}

		dest, ok := pe.withdrawalDestination(tx)
		if !ok {
			continue
		}
		amountRDG := tx.OutputAmountTo(pe.KeyAddress)
		if amountRDG <= 0 {
			continue
		}

		fulfillment := pe.BidAsk.FulfillTakerOrder(
			uint64(amountRDG), false, tx.Time, "", dest)
		if fulfillment == nil {
			continue
		}
		pe.BidAsk.Bids = fulfillment.UpdatedCurve
		pe.Orders = append(pe.Orders, *fulfillment)
		pe.UsedTransactions = append(pe.UsedTransactions, tx)
		if pe.BidAsk.VolumeEmpty() {
			price := fulfillment.FulfillmentPrice() * 0.98
			pe.BidAsk = pe.BidAsk.Regenerate(price, pe.minAsk)
		}
	}
	return nil
}

// withdrawalDestination resolves where the BTC payout goes: an explicit
// bitcoin-tagged output on the transaction, else the bitcoin address derived
// from the first input's proof key.
func (pe *PartyEvents) withdrawalDestination(tx *domain.Transaction) (domain.Address, bool) {
	if btcAddr, ok := tx.OutputBitcoinAddress(); ok {
		return domain.AddressFromBitcoin(btcAddr), true
	}
	pk, ok := tx.FirstInputProofPublicKey()
	if !ok {
		return "", false
	}
	btcAddr, err := pk.BitcoinAddress(pe.relay.NodeConfig.Network)
	if err != nil {
		return "", false
	}
	return domain.AddressFromBitcoin(btcAddr), true
}

// reconcileDeposits matches confirmed, unconsumed bitcoin deposits above the
// last processed timestamp against the ask side, producing RDG payout orders.
func (pe *PartyEvents) reconcileDeposits(ctx context.Context) error {
	sourced, err := pe.wallet.ListSourcedTransactions()
	if err != nil {
		return domain.WrapError(domain.KindUpstream, "listing wallet transactions", err)
	}
	sort.SliceStable(sourced, func(i, j int) bool {
		ti, tj := sourced[i].Timestamp, sourced[j].Timestamp
		if ti == nil || tj == nil {
			return tj == nil && ti != nil
		}
		return *ti < *tj
	})

	maxTS := pe.LastBTCTimestamp
	for _, ett := range sourced {
		if !ett.Incoming || ett.Timestamp == nil {
			continue
		}
		ts := *ett.Timestamp
		if ts <= pe.LastBTCTimestamp {
			continue
		}
		if ts > maxTS {
			maxTS = ts
		}
		used, err := pe.relay.Stores.Multiparty.BridgeTxUsed(ctx, domain.Hash(ett.TxID))
		if err != nil {
			return domain.WrapError(domain.KindUpstream, "checking bridge marker", err)
		}
		if used {
			continue
		}

		dest := domain.AddressFromBitcoin(ett.OtherAddress)
		fulfillment := pe.BidAsk.FulfillTakerOrder(
			ett.Amount, true, int64(ts), ett.TxID, dest)
		if fulfillment == nil {
			continue
		}
		pe.BidAsk.Asks = fulfillment.UpdatedCurve
		pe.Orders = append(pe.Orders, *fulfillment)
		if pe.BidAsk.VolumeEmpty() {
			price := fulfillment.FulfillmentPrice() * 1.01
			pe.BidAsk = pe.BidAsk.Regenerate(price, pe.minAsk)
		}
	}
	pe.LastBTCTimestamp = maxTS
	return nil
}

// WriteBridgeMarkers records each consumed ledger withdrawal against the
// bitcoin transaction that paid it out. Written after the send: a crash in
// between means the next tick re-reads the withdrawal, and the marker keyed
// by ledger hash keeps the payout idempotent.
func (pe *PartyEvents) WriteBridgeMarkers(ctx context.Context, btcTxID string) error {
	for _, tx := range pe.UsedTransactions {
		dest, ok := pe.withdrawalDestination(tx)
		if !ok {
			return domain.NewError(domain.KindNotFound, "missing destination address on consumed withdrawal")
		}
		rec := domain.BridgeTransaction{
			Hash:         tx.Hash(),
			ExternalTxID: btcTxID,
			// generated from a ledger transaction toward the external
			// network, so outgoing
			Outgoing:    true,
			Currency:    domain.CurrencyBitcoin,
			Source:      pe.KeyAddress,
			Destination: dest,
			Time:        tx.Time,
			AmountRDG:   tx.OutputAmountTo(pe.KeyAddress),
		}
		if err := pe.relay.Stores.Multiparty.InsertBridgeTx(ctx, rec); err != nil {
			return domain.WrapError(domain.KindUpstream, "writing bridge marker", err)
		}
	}
	return nil
}

// WriteDepositMarkers records each settled external deposit, keyed by its
// bitcoin transaction id, the same key reconcileDeposits checks. The
// timestamp high-water mark only lands with the end-of-tick config write, so
// this marker is what stops a crash in between from replaying the payout.
func (pe *PartyEvents) WriteDepositMarkers(
	ctx context.Context, orders []bidask.OrderFulfillment,
) error {
	for _, o := range orders {
		rec := domain.BridgeTransaction{
			Hash:         domain.Hash(o.ExternalTxID),
			ExternalTxID: o.ExternalTxID,
			Outgoing:     false,
			Currency:     domain.CurrencyBitcoin,
			Source:       pe.KeyAddress,
			Destination:  o.Destination,
			Time:         o.EventTime,
			AmountRDG:    o.FulfilledCurrencyAmount().Amount,
		}
		if err := pe.relay.Stores.Multiparty.InsertBridgeTx(ctx, rec); err != nil {
			return domain.WrapError(domain.KindUpstream, "writing bridge marker", err)
		}
	}
	return nil
}
