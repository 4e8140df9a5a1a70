package peer

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/ports"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/relay"
)

// handlerConcurrency bounds the in-flight inbound peer requests.
const handlerConcurrency = 10

// Discoverer is the push-discovery hook the dispatcher uses when a request
// arrives from a sender the peer store does not know yet.
type Discoverer interface {
	DiscoverPeer(ctx context.Context, nm domain.NodeMetadata) error
}

// HandlerService consumes inbound peer messages and produces their responses.
type HandlerService interface {
	Run(ctx context.Context) error
}

type handlerService struct {
	relay      *relay.Relay
	searcher   ports.HashSearcher
	downloader ports.DownloadProcessor
	signer     ports.MultipartySigner
	discoverer Discoverer
}

type HandlerOpts struct {
	Relay      *relay.Relay
	Searcher   ports.HashSearcher
	Downloader ports.DownloadProcessor
	Signer     ports.MultipartySigner
	Discoverer Discoverer
}

func NewHandlerService(opts HandlerOpts) HandlerService {
	return &handlerService{
		relay:      opts.Relay,
		searcher:   opts.Searcher,
		downloader: opts.Downloader,
		signer:     opts.Signer,
		discoverer: opts.Discoverer,
	}
}

// Run drains the inbound queue until ctx is cancelled. Up to
// handlerConcurrency messages are processed at once.
func (h *handlerService) Run(ctx context.Context) error {
	sem := make(chan struct{}, handlerConcurrency)
	for {
		pm, err := h.relay.PeerMessageIn.Receive(ctx)
		if err != nil {
			return err
		}
		sem <- struct{}{}
		go func(pm relay.PeerMessage) {
			defer func() { <-sem }()
			h.handleMessage(ctx, pm)
		}(pm)
	}
}

// handleMessage is the outer layer: compute the response, stamp identity and
// auth onto it, reply, then run the peer-discovery side effects. Nothing in
// the side effects may fail or delay the primary response.
func (h *handlerService) handleMessage(ctx context.Context, pm relay.PeerMessage) {
	res := h.requestResponse(ctx, pm.Request)
	res.CorrelationID = pm.Request.CorrelationID
	res.WithMetadata(h.relay.NodeConfig.NodeMetadata())
	if err := res.Sign(h.relay.NodeConfig.PrivateKey); err != nil {
		log.WithError(err).Warn("signing peer response")
	}
	pm.Reply(res)

	h.enrichPeerStore(ctx, pm)
}

// enrichPeerStore opportunistically learns about the sender. An unknown
// sender triggers a spawned about-node query; a known sender gets a last-seen
// bump queued on the trust channel.
func (h *handlerService) enrichPeerStore(ctx context.Context, pm relay.PeerMessage) {
	if pm.Request.Proof == nil {
		return
	}
	sender, err := pm.Request.VerifyAuth()
	if err != nil {
		log.WithError(err).Debug("peer request proof did not verify, skipping discovery")
		return
	}

	known, err := h.relay.Stores.Peer.FindByPublicKey(ctx, sender)
	if err != nil {
		log.WithError(err).Warn("looking up request sender in peer store")
		return
	}
	if known != nil {
		update := *known
		update.LastSeen = time.Now().UnixMilli()
		if err := h.relay.Trust.Send(relay.TrustUpdate{Update: &update}); err != nil {
			log.WithError(err).Warnf("queueing trust update for peer %s", sender.Short())
		}
		return
	}
	if pm.Request.NodeMetadata == nil || h.discoverer == nil {
		return
	}

	nm := *pm.Request.NodeMetadata
	go func() {
		dctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.discoverer.DiscoverPeer(dctx, nm); err != nil {
			log.WithError(err).Debugf("discovering new peer %s", nm.LongIdentifier())
		}
	}()
}

// requestResponse handles every populated sub-request independently and
// aggregates the sub-responses. The first sub-handler failure populates the
// response's error slot; later ones are logged.
func (h *handlerService) requestResponse(
	ctx context.Context, req *domain.Request,
) *domain.Response {
	res := &domain.Response{}
	fail := func(err error) {
		if res.Error == nil {
			res.Error = &domain.ResponseError{
				Kind:    domain.ErrKind(err).String(),
				Message: err.Error(),
			}
			return
		}
		log.WithError(err).Warn("additional sub-request failure on peer request")
	}

	if req.HashSearch != nil {
		hs, err := h.searcher.Search(ctx, req.HashSearch.SearchString)
		if err != nil {
			fail(err)
		} else {
			res.HashSearch = hs
		}
	}

	if req.SubmitTransaction != nil {
		st, err := h.relay.SubmitTransaction(ctx, *req.SubmitTransaction)
		if err != nil {
			fail(err)
		} else {
			res.SubmitTransaction = st
		}
	}

	if req.GetPeersInfo != nil {
		infos, err := h.relay.Stores.Peer.AllPeerInfo(ctx)
		if err != nil {
			fail(err)
		} else {
			self := h.selfInfo(ctx)
			res.GetPeersInfo = &domain.GetPeersInfoResponse{
				PeerInfo: infos,
				SelfInfo: self,
			}
		}
	}

	if req.GossipTransaction != nil {
		if err := h.enqueueGossipTransaction(req.GossipTransaction); err != nil {
			fail(err)
		}
	}

	if req.GossipObservation != nil {
		if err := h.enqueueGossipObservation(req.GossipObservation); err != nil {
			fail(err)
		}
	}

	if req.Download != nil {
		dl, err := h.downloader.ProcessDownloadRequest(ctx, *req.Download)
		if err != nil {
			fail(err)
		} else {
			res.Download = dl
		}
	}

	if req.AboutNode != nil {
		res.AboutNode = &domain.AboutNodeResponse{PeerNodeInfo: &domain.PeerNodeInfo{
			Metadata: h.relay.NodeConfig.NodeMetadata(),
			LastSeen: time.Now().UnixMilli(),
		}}
	}

	if req.MultipartyThreshold != nil {
		res.MultipartyThreshold = h.handleMultiparty(*req.MultipartyThreshold)
	}

	return res
}

// A failed gossip enqueue is reported to the sender as an error on this
// request; the process keeps serving.
func (h *handlerService) enqueueGossipTransaction(req *domain.GossipTransactionRequest) error {
	if req.Transaction == nil {
		return domain.NewError(domain.KindNotFound, "missing transaction on gossip request")
	}
	if err := h.relay.Transactions.Send(relay.TransactionMessage{
		Transaction: req.Transaction,
	}); err != nil {
		log.WithError(err).Error("gossiped transaction could not be queued")
		return domain.WrapError(domain.KindFatalEnqueue, "queueing gossiped transaction", err)
	}
	return nil
}

func (h *handlerService) enqueueGossipObservation(req *domain.GossipObservationRequest) error {
	if req.Observation == nil {
		return domain.NewError(domain.KindNotFound, "missing observation on gossip request")
	}
	if err := h.relay.Observations.Send(req.Observation); err != nil {
		log.WithError(err).Error("gossiped observation could not be queued")
		return domain.WrapError(domain.KindFatalEnqueue, "queueing gossiped observation", err)
	}
	return nil
}

// handleMultiparty acknowledges immediately and joins the initiated round as
// an independent task. The round outcome is only logged: the protocol
// round-trips several messages and cannot complete within one request.
func (h *handlerService) handleMultiparty(
	req domain.MultipartyThresholdRequest,
) *domain.MultipartyThresholdResponse {
	if h.signer == nil {
		return &domain.MultipartyThresholdResponse{}
	}
	if req.InitiateKeygen != nil {
		keygen := *req.InitiateKeygen
		go func() {
			if err := h.signer.KeygenFollower(context.Background(), keygen); err != nil {
				log.WithError(err).Warn("keygen follower round failed")
				return
			}
			log.Debugf("keygen follower round %s completed", keygen.Identifier.UUID)
		}()
	}
	if req.InitiateSigning != nil {
		signing := *req.InitiateSigning
		go func() {
			if err := h.signer.SigningFollower(context.Background(), signing); err != nil {
				log.WithError(err).Warn("signing follower round failed")
				return
			}
			log.Debugf("signing follower round %s completed", signing.Identifier.UUID)
		}()
	}
	return &domain.MultipartyThresholdResponse{Acknowledged: true}
}

func (h *handlerService) selfInfo(ctx context.Context) *domain.PeerNodeInfo {
	info := &domain.PeerNodeInfo{
		Metadata: h.relay.NodeConfig.NodeMetadata(),
		LastSeen: time.Now().UnixMilli(),
	}
	addr, err := h.relay.NodeConfig.PublicKey().Address()
	if err != nil {
		return info
	}
	txs, err := h.relay.Stores.Transaction.FindForAddress(ctx, addr, 1, 0, false)
	if err != nil || len(txs) == 0 {
		return info
	}
	info.LatestTransactionHash = txs[0].Hash()
	return info
}
