package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/config"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/application/ledger"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/application/watcher"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/observation"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/peer"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/ports"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/relay"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/infrastructure/multiparty"
	coinbasefeed "github.com/ledgerswap-network/ledgerswap-daemon/internal/infrastructure/pricefeed/coinbase"
	krakenfeed "github.com/ledgerswap-network/ledgerswap-daemon/internal/infrastructure/pricefeed/kraken"
	dbbadger "github.com/ledgerswap-network/ledgerswap-daemon/internal/infrastructure/storage/db/badger"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/infrastructure/wallet/esplora"
)

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	nodeConfig, err := buildNodeConfig()
	if err != nil {
		log.WithError(err).Fatal("building node configuration")
	}

	dbManager, err := dbbadger.NewDbManager(
		filepath.Join(config.GetDatadir(), config.DbLocation), nil,
	)
	if err != nil {
		log.WithError(err).Fatal("opening datastore")
	}
	defer dbManager.Close()

	stores := relay.Stores{
		Peer:        dbbadger.NewPeerRepositoryImpl(dbManager),
		Transaction: dbbadger.NewTransactionRepositoryImpl(dbManager),
		Observation: dbbadger.NewObservationRepositoryImpl(dbManager),
		Multiparty:  dbbadger.NewMultipartyRepositoryImpl(dbManager),
		Config:      dbbadger.NewConfigRepositoryImpl(dbManager),
	}

	r := relay.New(nodeConfig, stores)
	ledgerSvc := ledger.NewService(stores.Transaction, stores.Observation)
	signer := multiparty.NewLocalSigner(r)

	discovery := peer.NewDiscoveryService(r, nodeConfig.DiscoveryInterval)
	handler := peer.NewHandlerService(peer.HandlerOpts{
		Relay:      r,
		Searcher:   ledgerSvc,
		Downloader: ledgerSvc,
		Signer:     signer,
		Discoverer: discovery,
	})
	observationHandler := observation.NewHandlerService(r, stores.Observation)

	priceSource, startPriceFeed, err := buildPriceSource()
	if err != nil {
		log.WithError(err).Fatal("opening price source")
	}

	watcherSvc := watcher.NewService(watcher.ServiceOpts{
		Relay:         r,
		Signer:        signer,
		WalletFactory: esplora.NewWalletFactory(config.GetString(config.EsploraURLKey)),
		PriceSource:   priceSource,
		Interval:      nodeConfig.WatcherInterval,
	})

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGTERM, syscall.SIGINT,
	)
	defer stop()

	log.Infof(
		"starting node %s on %s", nodeConfig.PublicKey().Short(), nodeConfig.Network,
	)
	r.SetNodeState(domain.NodeStateReady)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return handler.Run(gctx) })
	g.Go(func() error { return observationHandler.Run(gctx) })
	g.Go(func() error { return discovery.Run(gctx) })
	g.Go(func() error { return watcherSvc.Run(gctx) })
	if startPriceFeed != nil {
		g.Go(startPriceFeed)
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.WithError(err).Error("daemon stopped")
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func buildNodeConfig() (domain.NodeConfig, error) {
	priv, err := config.GetNodeKey()
	if err != nil {
		return domain.NodeConfig{}, err
	}
	seeds, err := config.GetSeeds()
	if err != nil {
		return domain.NodeConfig{}, err
	}

	return domain.NodeConfig{
		PrivateKey:           priv,
		Network:              config.GetNetwork(),
		ExternalAddress:      config.GetString(config.ExternalAddressKey),
		Port:                 config.GetInt(config.PortKey),
		Seeds:                seeds,
		PeerTimeout:          config.GetDuration(config.PeerTimeoutKey),
		BroadcastTimeout:     config.GetDuration(config.BroadcastTimeoutKey),
		ObservationFormation: config.GetDuration(config.ObservationFormationTimeKey),
		DiscoveryInterval:    config.GetDuration(config.DiscoveryIntervalKey),
		WatcherInterval:      config.GetDuration(config.WatcherIntervalKey),
	}, nil
}

// buildPriceSource returns the configured feed plus an optional long-running
// loop the daemon must supervise.
func buildPriceSource() (ports.PriceSource, func() error, error) {
	switch config.GetString(config.PriceSourceKey) {
	case config.PriceSourceKraken:
		svc, err := krakenfeed.NewService()
		if err != nil {
			return nil, nil, err
		}
		return svc, svc.Start, nil
	default:
		return coinbasefeed.NewService(""), nil, nil
	}
}
