package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/ports"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/relay"
	"github.com/ledgerswap-network/ledgerswap-daemon/pkg/bidask"
)

// settlementDelay buffers against reorgs and unconfirmed events: only orders
// older than this are settled in a tick.
const settlementDelay = 30 * time.Second

var (
	watcherTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerswap_watcher_ticks_total",
		Help: "Deposit watcher reconciliation ticks.",
	})
	fulfillmentTxsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerswap_watcher_fulfillment_txs_total",
		Help: "Fulfillment transactions sent, labeled by chain.",
	}, []string{"chain"})
)

// Service is the deposit watcher: the periodic reconciliation loop tying the
// ledger, the bitcoin wallet and the curve engine together.
type Service interface {
	Run(ctx context.Context) error
	Tick(ctx context.Context) error
}

type service struct {
	relay         *relay.Relay
	signer        ports.MultipartySigner
	walletFactory ports.WalletFactory
	priceSource   ports.PriceSource
	interval      time.Duration

	// walletMtx serializes the full build-sign-broadcast sequence; the
	// cached handle is constructed once per process lifetime.
	walletMtx sync.Mutex
	wallet    ports.UtxoWallet
}

type ServiceOpts struct {
	Relay         *relay.Relay
	Signer        ports.MultipartySigner
	WalletFactory ports.WalletFactory
	PriceSource   ports.PriceSource
	Interval      time.Duration
}

func NewService(opts ServiceOpts) Service {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &service{
		relay:         opts.Relay,
		signer:        opts.Signer,
		walletFactory: opts.WalletFactory,
		priceSource:   opts.PriceSource,
		interval:      interval,
	}
}

// Run re-enters Tick on a fixed interval regardless of prior tick outcome.
// There is no backoff: resilience comes entirely from re-invocation.
func (s *service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				log.WithError(err).Error("deposit watcher tick failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *service) Tick(ctx context.Context) error {
	watcherTicks.Inc()

	if err := fixHistoricalErrors(ctx, s.relay.Stores.Config, s.priceSource); err != nil {
		log.WithError(err).Warn("deposit watcher config migration failed")
	}

	cfg, err := loadDepositConfig(ctx, s.relay.Stores.Config)
	if err != nil {
		return err
	}
	if cfg == nil {
		return s.bootstrap(ctx)
	}
	return s.steadyState(ctx, cfg)
}

// bootstrap runs the first-time multiparty key generation: form the group
// from the seed peers, validate the fresh key with a signing round over the
// round's own identifier hash, fund it from genesis and persist the initial
// config.
func (s *service) bootstrap(ctx context.Context) error {
	log.Info("attempting to start watcher keygen round")

	seeds := s.relay.NodeConfig.Seeds
	if len(seeds) <= s.relay.NodeConfig.MinSeedNodes() {
		log.Errorf("not enough seeds to initiate keygen, have %d", len(seeds))
		return nil
	}

	participants := make([]domain.PublicKey, 0, len(seeds))
	for _, seed := range seeds {
		if seed.PublicKey != "" {
			participants = append(participants, seed.PublicKey)
		}
	}

	keygen, err := s.signer.InitiateKeygen(ctx, participants)
	if err != nil {
		return domain.WrapError(domain.KindUpstream, "initiating keygen round", err)
	}

	// validate the fresh key end to end before trusting it with funds
	digest, err := domain.HashOfString(keygen.Identifier.UUID).Bytes()
	if err != nil {
		return err
	}
	signed, err := s.signer.InitiateSigning(
		ctx, keygen.Identifier, digest, keygen.Identifier.PartyKeys)
	if err != nil {
		return domain.WrapError(domain.KindUpstream, "validation signing round", err)
	}
	custodialKey := signed.Proof.PublicKey
	if custodialKey == "" {
		return domain.NewError(domain.KindNotFound, "missing public key on keysign result")
	}

	custodialAddr, err := custodialKey.Address()
	if err != nil {
		return err
	}
	if err := s.genesisFunding(ctx, custodialAddr); err != nil {
		log.WithError(err).Error("genesis watcher funding failed")
	}

	cfg := DepositWatcherConfig{
		DepositAllocations: []DepositKeyAllocation{{
			Key:        custodialKey,
			Allocation: 1.0,
			Initiate:   keygen.Request,
		}},
		BidAsk: bidask.BidAsk{
			CenterPrice: startingCenterPrice(ctx, s.priceSource),
		},
		LastBTCTimestamp: 0,
	}
	if err := s.relay.Stores.Config.InsertUpdateJSON(ctx, depositWatcherConfigKey, cfg); err != nil {
		return domain.WrapError(domain.KindUpstream, "persisting initial deposit watcher config", err)
	}
	log.Infof("deposit watcher bootstrapped with custodial key %s", custodialKey.Short())
	return nil
}

// genesisFunding seeds the custodial address from this node's own balance,
// for test networks. A failure never blocks the bootstrap.
func (s *service) genesisFunding(ctx context.Context, destination domain.Address) error {
	selfAddr, err := s.relay.NodeConfig.PublicKey().Address()
	if err != nil {
		return err
	}
	utxos, err := s.relay.Stores.Transaction.UtxosForAddress(ctx, selfAddr)
	if err != nil {
		return domain.WrapError(domain.KindUpstream, "listing genesis utxos", err)
	}
	if len(utxos) == 0 {
		log.Info("no genesis funding possible to send")
		return nil
	}

	utxo := utxos[0]
	log.Infof("sending genesis funding to %s from origin %s using utxo %s",
		destination, selfAddr, utxo.ID)

	tx, err := domain.NewTransactionBuilder(s.relay.NodeConfig.Network).
		WithUtxo(utxo).
		WithOutput(destination, domain.AmountFromRDG(utxo.Amount)).
		Build()
	if err != nil {
		return err
	}
	digest, err := tx.SignableHash().Bytes()
	if err != nil {
		return err
	}
	tx.AddProofPerInput(domain.SignDigest(s.relay.NodeConfig.PrivateKey, digest))

	if _, err := s.relay.SubmitTransactionSync(ctx, tx); err != nil {
		return err
	}
	return nil
}

func (s *service) steadyState(ctx context.Context, cfg *DepositWatcherConfig) error {
	if len(cfg.DepositAllocations) == 0 {
		log.Warn("deposit watcher config has no allocations")
		return nil
	}
	alloc := cfg.DepositAllocations[0]

	if err := s.relay.Stores.Multiparty.AddParty(
		ctx, alloc.PartyID(s.relay.NodeConfig.PublicKey()),
	); err != nil {
		log.WithError(err).Warn("registering party id")
	}

	wallet, err := s.cachedWallet(alloc.Key)
	if err != nil {
		return domain.WrapError(domain.KindUpstream, "constructing bitcoin wallet", err)
	}
	btcBalance, err := wallet.GetBalance()
	if err != nil {
		return domain.WrapError(domain.KindUpstream, "reading wallet balance", err)
	}

	keyAddr, err := alloc.Key.Address()
	if err != nil {
		return err
	}
	ledgerBalance, err := s.relay.Stores.Transaction.GetBalance(ctx, keyAddr)
	if err != nil {
		return domain.WrapError(domain.KindUpstream, "reading ledger balance", err)
	}
	if ledgerBalance <= 0 {
		log.Infof("no ledger balance for key %s, bitcoin balance %d, skipping tick",
			alloc.Key.Short(), btcBalance)
		return nil
	}

	if cfg.AskBidCodeReset != nil && *cfg.AskBidCodeReset {
		log.Info("regenerating starting price due to code reset")
		center := startingCenterPrice(ctx, s.priceSource)
		cfg.BidAsk = cfg.BidAsk.Regenerate(center, 1/center)
		reset := false
		cfg.AskBidCodeReset = &reset
		if err := s.relay.Stores.Config.InsertUpdateJSON(
			ctx, depositWatcherConfigKey, *cfg,
		); err != nil {
			return domain.WrapError(domain.KindUpstream, "persisting curve reset", err)
		}
	}

	update, err := s.processRequests(ctx, alloc, cfg.BidAsk, cfg.LastBTCTimestamp, wallet)
	if err != nil {
		log.WithError(err).Error("processing deposit watcher requests")
		return nil
	}

	// single durability boundary per tick: a crash before this write is
	// recovered through the bridge markers on the next tick
	next := *cfg
	next.LastBTCTimestamp = update.UpdatedBTCTimestamp
	next.BidAsk = update.UpdatedBidAsk
	next.DepositAllocations = []DepositKeyAllocation{update.UpdatedAllocation}
	if err := s.relay.Stores.Config.InsertUpdateJSON(
		ctx, depositWatcherConfigKey, next,
	); err != nil {
		return domain.WrapError(domain.KindUpstream, "persisting deposit watcher config", err)
	}
	return nil
}

func (s *service) cachedWallet(key domain.PublicKey) (ports.UtxoWallet, error) {
	s.walletMtx.Lock()
	defer s.walletMtx.Unlock()
	if s.wallet != nil {
		return s.wallet, nil
	}
	w, err := s.walletFactory(key, s.relay.NodeConfig.Network, true)
	if err != nil {
		return nil, err
	}
	s.wallet = w
	return w, nil
}

// processRequests reconciles pending party events and settles both chains'
// fulfillments. The two sends are independent: one chain's failure is logged
// and the other still proceeds, with unsettled orders resurfacing next tick.
func (s *service) processRequests(
	ctx context.Context,
	alloc DepositKeyAllocation,
	curve bidask.BidAsk,
	lastBTCTimestamp uint64,
	wallet ports.UtxoWallet,
) (*CurveUpdateResult, error) {
	keyAddr, err := alloc.Key.Address()
	if err != nil {
		return nil, err
	}
	identifier := alloc.Initiate.Identifier

	events, err := NewPartyEvents(
		ctx, s.relay, alloc.Key, curve, lastBTCTimestamp, wallet, startingMinAsk())
	if err != nil {
		return nil, err
	}

	btcBalance, err := wallet.GetBalance()
	if err != nil {
		return nil, domain.WrapError(domain.KindUpstream, "reading wallet balance", err)
	}
	ledgerBalance, err := s.relay.Stores.Transaction.GetBalance(ctx, keyAddr)
	if err != nil {
		return nil, domain.WrapError(domain.KindUpstream, "reading ledger balance", err)
	}
	utxos, err := s.relay.Stores.Transaction.UtxosForAddress(ctx, keyAddr)
	if err != nil {
		return nil, domain.WrapError(domain.KindUpstream, "listing key utxos", err)
	}

	log.Infof("watcher balances RDG:%d BTC:%d orders:%d utxos:%d",
		ledgerBalance, btcBalance, len(events.Orders), len(utxos))

	cutoff := time.Now().Add(-settlementDelay).UnixMilli()
	var settleable []bidask.OrderFulfillment
	for _, o := range events.Orders {
		if o.EventTime < cutoff {
			settleable = append(settleable, o)
		}
	}

	s.fulfillRDGAsks(ctx, settleable, utxos, events, identifier)
	s.fulfillBTCBids(ctx, settleable, events, wallet, identifier)

	alloc.BalanceBTC = btcBalance
	alloc.BalanceRDG = uint64(ledgerBalance)
	return &CurveUpdateResult{
		UpdatedBidAsk:       events.BidAsk,
		UpdatedBTCTimestamp: events.LastBTCTimestamp,
		UpdatedAllocation:   alloc,
	}, nil
}

// fulfillRDGAsks settles external bitcoin deposits with one consolidated
// ledger transaction: one swap-tagged output per fulfillment, spending the
// custodial key's utxos, with the unspent remainder paid back to the key.
func (s *service) fulfillRDGAsks(
	ctx context.Context,
	orders []bidask.OrderFulfillment,
	utxos []domain.UtxoEntry,
	events *PartyEvents,
	identifier domain.MultipartyIdentifier,
) {
	tb := domain.NewTransactionBuilder(s.relay.NodeConfig.Network).WithUtxos(utxos)
	var settled []bidask.OrderFulfillment
	var payoutTotal int64
	for _, o := range orders {
		if !o.IsAskFromExternalDeposit || o.ExternalTxID == "" {
			continue
		}
		amount := o.FulfilledCurrencyAmount()
		tb.WithOutput(o.Destination, amount).
			WithLastOutputSwapFulfillment(o.ExternalTxID)
		settled = append(settled, o)
		payoutTotal += amount.Amount
	}
	if tb.OutputCount() == 0 {
		return
	}

	// the ledger materializes only listed outputs, so the change output is
	// what keeps the custodial remainder spendable
	var inputTotal int64
	for _, u := range utxos {
		inputTotal += u.Amount
	}
	if change := inputTotal - payoutTotal; change > 0 {
		tb.WithOutput(events.KeyAddress, domain.AmountFromRDG(change))
	}

	tx, err := tb.Build()
	if err != nil {
		log.WithError(err).Error("building RDG fulfillment transaction")
		return
	}
	log.Infof("sending RDG fulfillment transaction %s", tx.Hash())
	if err := s.sendAskFulfillmentTransaction(ctx, tx, identifier); err != nil {
		log.WithError(err).Error("sending RDG fulfillment transaction")
		return
	}
	fulfillmentTxsSent.WithLabelValues("rdg").Inc()

	if err := events.WriteDepositMarkers(ctx, settled); err != nil {
		log.WithError(err).Error("writing bridge markers for RDG fulfillment")
	}
}

// sendAskFulfillmentTransaction signs the transaction through a multiparty
// round over its signable hash and submits it synchronously.
func (s *service) sendAskFulfillmentTransaction(
	ctx context.Context, tx *domain.Transaction, identifier domain.MultipartyIdentifier,
) error {
	digest, err := tx.SignableHash().Bytes()
	if err != nil {
		return err
	}
	result, err := s.signer.InitiateSigning(ctx, identifier, digest, identifier.PartyKeys)
	if err != nil {
		return domain.WrapError(domain.KindUpstream, "fulfillment signing round", err)
	}
	tx.AddProofPerInput(result.Proof)
	_, err = s.relay.SubmitTransactionSync(ctx, tx)
	return err
}

// fulfillBTCBids settles RDG withdrawals with one consolidated bitcoin
// transaction. The wallet lock is held for the full build-sign-broadcast
// sequence.
func (s *service) fulfillBTCBids(
	ctx context.Context,
	orders []bidask.OrderFulfillment,
	events *PartyEvents,
	wallet ports.UtxoWallet,
	identifier domain.MultipartyIdentifier,
) {
	var outputs []ports.BtcOutput
	for _, o := range orders {
		if o.IsAskFromExternalDeposit {
			continue
		}
		btcAddr, ok := o.Destination.BitcoinAddress()
		if !ok {
			continue
		}
		outputs = append(outputs, ports.BtcOutput{
			Address: btcAddr,
			Amount:  o.FulfilledAmount,
		})
	}
	if len(outputs) == 0 {
		return
	}

	txid, err := s.sendBTCBatch(ctx, wallet, identifier, outputs)
	if err != nil {
		log.WithError(err).Error("sending BTC fulfillment transaction")
		return
	}
	log.Infof("sent BTC fulfillment transaction %s with %d outputs", txid, len(outputs))
	fulfillmentTxsSent.WithLabelValues("btc").Inc()

	if err := events.WriteBridgeMarkers(ctx, txid); err != nil {
		log.WithError(err).Error("writing bridge markers for BTC fulfillment")
	}
}

func (s *service) sendBTCBatch(
	ctx context.Context,
	wallet ports.UtxoWallet,
	identifier domain.MultipartyIdentifier,
	outputs []ports.BtcOutput,
) (string, error) {
	s.walletMtx.Lock()
	defer s.walletMtx.Unlock()

	if err := wallet.BuildBatchOutputTransaction(outputs); err != nil {
		return "", domain.WrapError(domain.KindUpstream, "staging bitcoin transaction", err)
	}
	digests, err := wallet.SignableDigests()
	if err != nil {
		return "", domain.WrapError(domain.KindUpstream, "reading signable digests", err)
	}
	for i, sd := range digests {
		result, err := s.signer.InitiateSigning(ctx, identifier, sd.Digest, identifier.PartyKeys)
		if err != nil {
			return "", domain.WrapError(domain.KindUpstream, "bitcoin input signing round", err)
		}
		if err := wallet.AcceptExternalSignature(i, result.Proof, sd.HashType); err != nil {
			return "", domain.WrapError(domain.KindUpstream, "affixing input signature", err)
		}
	}
	signed, err := wallet.FinalizeSigning()
	if err != nil {
		return "", domain.WrapError(domain.KindUpstream, "finalizing bitcoin transaction", err)
	}
	if !signed {
		return "", domain.NewError(domain.KindValidation, "bitcoin transaction not fully signed")
	}
	txid, err := wallet.Broadcast()
	if err != nil {
		return "", domain.WrapError(domain.KindUpstream, "broadcasting bitcoin transaction", err)
	}
	return txid, nil
}
