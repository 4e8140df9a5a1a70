package observation

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/relay"
)

// handlerConcurrency bounds the in-flight gossiped observations. Observation
// traffic dwarfs peer request traffic, so the bound is far wider than the
// peer dispatcher's.
const handlerConcurrency = 200

var observationsProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ledgerswap_observations_processed_total",
	Help: "Gossiped observations consumed from the relay queue.",
})

// HandlerService consumes gossiped observations: it routes each contained
// proof to any transaction contention pool waiting on the observed hash and
// persists the observation.
type HandlerService interface {
	Run(ctx context.Context) error
}

type handlerService struct {
	relay *relay.Relay
	repo  domain.ObservationRepository
}

func NewHandlerService(r *relay.Relay, repo domain.ObservationRepository) HandlerService {
	return &handlerService{relay: r, repo: repo}
}

func (h *handlerService) Run(ctx context.Context) error {
	sem := make(chan struct{}, handlerConcurrency)
	for {
		obs, err := h.relay.Observations.Receive(ctx)
		if err != nil {
			return err
		}
		sem <- struct{}{}
		go func(obs *domain.Observation) {
			defer func() { <-sem }()
			h.process(ctx, obs)
		}(obs)
	}
}

func (h *handlerService) process(ctx context.Context, obs *domain.Observation) {
	if obs == nil {
		return
	}
	observationsProcessed.Inc()

	for _, proof := range obs.Proofs {
		for _, observed := range proof.Metadata.Observed {
			if observed.HashType != domain.HashTypeTransaction {
				continue
			}
			pool := h.relay.TransactionPoolFor(observed.Hash)
			if pool == nil {
				continue
			}
			if err := pool.Proofs.Send(proof); err != nil {
				log.WithError(err).Debugf(
					"dropping observation proof for transaction %s", observed.Hash)
			}
		}
	}

	if err := h.repo.InsertObservation(ctx, obs); err != nil {
		log.WithError(err).Warnf("persisting observation %s", obs.Hash)
	}
}
