package watcher

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/ports"
	"github.com/ledgerswap-network/ledgerswap-daemon/pkg/bidask"
)

const depositWatcherConfigKey = "deposit_watcher_config"

// btcRDGStarting is the hardcoded fallback reference price in BTC/RDG,
// 100 USD over an assumed 45000 USD/BTC.
const btcRDGStarting = 0.00222222222

// startingUSDValuation anchors the native asset at 100 USD when converting a
// USD/BTC spot price into an RDG/BTC center price.
const startingUSDValuation = 100.0

// DepositKeyAllocation binds the shared custodial key to its share of the
// liquidity. The current model always holds exactly one allocation of 1.0.
type DepositKeyAllocation struct {
	Key        domain.PublicKey             `json:"key"`
	Allocation float64                      `json:"allocation"`
	Initiate   domain.InitiateKeygenRequest `json:"initiate"`
	// BalanceBTC and BalanceRDG are the last observed true chain balances,
	// informational and recomputed each tick.
	BalanceBTC uint64 `json:"balance_btc"`
	BalanceRDG uint64 `json:"balance_rdg"`
}

func (a DepositKeyAllocation) PartyID(owner domain.PublicKey) domain.PartyID {
	return domain.PartyID{PublicKey: a.Key, Owner: owner}
}

// DepositWatcherConfig is the single persisted aggregate of the watcher,
// read-modify-written once per tick.
type DepositWatcherConfig struct {
	DepositAllocations []DepositKeyAllocation `json:"deposit_allocations"`
	BidAsk             bidask.BidAsk          `json:"bid_ask"`
	LastBTCTimestamp   uint64                 `json:"last_btc_timestamp"`
	AskBidCodeReset    *bool                  `json:"ask_bid_code_reset,omitempty"`
}

// CurveUpdateResult carries one tick's processing outcome back to the
// persistence step.
type CurveUpdateResult struct {
	UpdatedBidAsk       bidask.BidAsk
	UpdatedBTCTimestamp uint64
	UpdatedAllocation   DepositKeyAllocation
}

// Legacy schema written by a broken serializer: ladder entries with optional
// components and volumes stored as floats.
type priceVolumeBroken struct {
	Price  *float64 `json:"price"`
	Volume *float64 `json:"volume"`
}

type bidAskBroken struct {
	Bids        []priceVolumeBroken `json:"bids"`
	Asks        []priceVolumeBroken `json:"asks"`
	CenterPrice float64             `json:"center_price"`
}

type depositWatcherConfigBroken struct {
	DepositAllocations []DepositKeyAllocation `json:"deposit_allocations"`
	BidAsk             bidAskBroken           `json:"bid_ask"`
	LastBTCTimestamp   uint64                 `json:"last_btc_timestamp"`
	AskBidCodeReset    *bool                  `json:"ask_bid_code_reset,omitempty"`
}

func repairLadder(broken []priceVolumeBroken) []bidask.PriceVolume {
	out := make([]bidask.PriceVolume, 0, len(broken))
	for _, pv := range broken {
		if pv.Price == nil || pv.Volume == nil || *pv.Volume < 0 {
			continue
		}
		out = append(out, bidask.PriceVolume{Price: *pv.Price, Volume: uint64(*pv.Volume)})
	}
	return out
}

// fixHistoricalErrors migrates a stored config written under the legacy
// broken schema. Ladder entries missing either component are dropped and the
// reference price is reset from the price source.
func fixHistoricalErrors(
	ctx context.Context, repo domain.ConfigRepository, source ports.PriceSource,
) error {
	var cfg DepositWatcherConfig
	found, err := repo.GetJSON(ctx, depositWatcherConfigKey, &cfg)
	if err == nil {
		return nil
	}
	if !found {
		return err
	}

	raw, found, rawErr := repo.GetRaw(ctx, depositWatcherConfigKey)
	if rawErr != nil || !found {
		return err
	}
	var broken depositWatcherConfigBroken
	if unmarshalErr := json.Unmarshal(raw, &broken); unmarshalErr != nil {
		return err
	}

	repaired := DepositWatcherConfig{
		DepositAllocations: broken.DepositAllocations,
		BidAsk: bidask.BidAsk{
			Bids:        repairLadder(broken.BidAsk.Bids),
			Asks:        repairLadder(broken.BidAsk.Asks),
			CenterPrice: startingCenterPrice(ctx, source),
		},
		LastBTCTimestamp: 0,
	}
	if err := repo.InsertUpdateJSON(ctx, depositWatcherConfigKey, repaired); err != nil {
		return err
	}
	log.Info("migrated broken deposit watcher config")
	return nil
}

func loadDepositConfig(
	ctx context.Context, repo domain.ConfigRepository,
) (*DepositWatcherConfig, error) {
	var cfg DepositWatcherConfig
	found, err := repo.GetJSON(ctx, depositWatcherConfigKey, &cfg)
	if err != nil {
		return nil, domain.WrapError(domain.KindUpstream, "reading deposit watcher config", err)
	}
	if !found {
		return nil, nil
	}
	return &cfg, nil
}

// startingCenterPrice converts the feed's USD/BTC spot into an RDG/BTC
// reference price, falling back to the hardcoded constant when the feed is
// unavailable.
func startingCenterPrice(ctx context.Context, source ports.PriceSource) float64 {
	if source == nil {
		return btcRDGStarting
	}
	usdBTC, err := source.LatestPrice(ctx)
	if err != nil || usdBTC <= 0 {
		log.WithError(err).Warn("falling back to hardcoded starting price, spot feed failed")
		return btcRDGStarting
	}
	return usdBTC / startingUSDValuation
}

// startingMinAsk is the floor below which the market maker never quotes an
// ask, regardless of the reference price.
func startingMinAsk() float64 {
	return btcRDGStarting
}
