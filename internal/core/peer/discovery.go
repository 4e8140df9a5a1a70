package peer

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/relay"
)

// DiscoveryService keeps the known-peer set fresh: a periodic pull audit over
// every known peer plus ad hoc push discovery of newly seen ones.
type DiscoveryService interface {
	Run(ctx context.Context) error
	Tick(ctx context.Context) error
	DiscoverPeer(ctx context.Context, nm domain.NodeMetadata) error
}

type discoveryService struct {
	relay    *relay.Relay
	interval time.Duration
	limiter  *rate.Limiter
}

func NewDiscoveryService(r *relay.Relay, interval time.Duration) DiscoveryService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &discoveryService{
		relay:    r,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Limit(5), 10),
	}
}

// Run drives the periodic pull audit and drains the trust queue fed by the
// audit itself and by the request handler.
func (d *discoveryService) Run(ctx context.Context) error {
	go d.applyTrustUpdates(ctx)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				log.WithError(err).Warn("discovery tick failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// applyTrustUpdates serializes every signalled peer-store mutation through
// one applier, so concurrent handler goroutines and broadcast fan-outs never
// write the store directly.
func (d *discoveryService) applyTrustUpdates(ctx context.Context) {
	for {
		tu, err := d.relay.Trust.Receive(ctx)
		if err != nil {
			return
		}
		d.applyTrustUpdate(ctx, tu)
	}
}

func (d *discoveryService) applyTrustUpdate(ctx context.Context, tu relay.TrustUpdate) {
	if tu.RemovePeer != nil {
		if err := d.relay.Stores.Peer.RemovePeer(ctx, *tu.RemovePeer); err != nil {
			log.WithError(err).Warnf("removing peer %s", tu.RemovePeer.Short())
		}
	}
	if tu.Update == nil {
		return
	}
	pk := tu.Update.Metadata.PublicKey
	known, err := d.relay.Stores.Peer.FindByPublicKey(ctx, pk)
	if err != nil {
		log.WithError(err).Warn("looking up peer for trust update")
		return
	}
	if known != nil {
		if err := d.relay.Stores.Peer.UpdateLastSeen(ctx, pk); err != nil {
			log.WithError(err).Warnf("updating last seen for peer %s", pk.Short())
		}
		return
	}
	if err := d.relay.Stores.Peer.AddPeer(ctx, *tu.Update); err != nil {
		log.WithError(err).Debugf("adding peer %s from trust update", pk.Short())
	}
}

// Tick runs one pull audit: ask every known peer for its peer list, merge the
// answers, drop peers whose self-report contradicts our record or who did not
// answer at all, then best-effort add every merged peer we have never seen.
func (d *discoveryService) Tick(ctx context.Context) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	nodes, err := d.relay.Stores.Peer.ActiveNodes(ctx)
	if err != nil {
		return domain.WrapError(domain.KindUpstream, "listing active nodes", err)
	}
	if len(nodes) == 0 {
		return nil
	}

	req := &domain.Request{GetPeersInfo: &domain.GetPeersInfoRequest{}}
	if err := req.Sign(d.relay.NodeConfig.PrivateKey); err != nil {
		return err
	}
	results := d.relay.Broadcast(ctx, nodes, req, 0)

	merged := make(map[domain.PublicKey]domain.PeerNodeInfo)
	for _, res := range results {
		if res.Err != nil || res.Response.Err() != nil || res.Response.GetPeersInfo == nil {
			d.removePeer(ctx, res.PublicKey, "unresponsive")
			continue
		}
		info := res.Response.GetPeersInfo
		for _, pi := range info.PeerInfo {
			if _, ok := merged[pi.Metadata.PublicKey]; !ok {
				merged[pi.Metadata.PublicKey] = pi
			}
		}
		if info.SelfInfo != nil {
			d.auditSelfReport(ctx, res.PublicKey, *info.SelfInfo)
		}
	}

	self := d.relay.NodeConfig.PublicKey()
	for pk, pi := range merged {
		if pk == self || pi.Metadata.IsZero() {
			continue
		}
		known, err := d.relay.Stores.Peer.FindByPublicKey(ctx, pk)
		if err != nil || known != nil {
			continue
		}
		if err := d.relay.Stores.Peer.AddPeer(ctx, pi); err != nil {
			log.WithError(err).Debugf("adding discovered peer %s", pi.Metadata.LongIdentifier())
		}
	}
	return nil
}

// auditSelfReport drops the stored record for a peer whose current
// self-report no longer matches what is on file.
func (d *discoveryService) auditSelfReport(
	ctx context.Context, pk domain.PublicKey, reported domain.PeerNodeInfo,
) {
	stored, err := d.relay.Stores.Peer.FindByPublicKey(ctx, pk)
	if err != nil || stored == nil {
		return
	}
	if stored.LatestTransactionHash != reported.LatestTransactionHash {
		d.removePeer(ctx, pk, "stale self-report")
	}
}

func (d *discoveryService) removePeer(_ context.Context, pk domain.PublicKey, reason string) {
	log.Debugf("flagging peer %s for removal: %s", pk.Short(), reason)
	if err := d.relay.Trust.Send(relay.TrustUpdate{RemovePeer: &pk}); err != nil {
		log.WithError(err).Warnf("queueing removal of peer %s", pk.Short())
	}
}

// DiscoverPeer performs push discovery of one peer: query its about endpoint,
// require every nested field, then store the record. Any absent field fails
// the whole call.
func (d *discoveryService) DiscoverPeer(ctx context.Context, nm domain.NodeMetadata) error {
	if nm.PublicKey == "" {
		return domain.NewError(domain.KindNotFound, "missing public key on node metadata")
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	req := &domain.Request{AboutNode: &domain.AboutNodeRequest{}}
	if err := req.Sign(d.relay.NodeConfig.PrivateKey); err != nil {
		return err
	}
	res, err := d.relay.SendMessageSync(ctx, req, nm.PublicKey, 0)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}
	if res.AboutNode == nil {
		return domain.NewError(domain.KindNotFound, "missing about response")
	}
	info := res.AboutNode.PeerNodeInfo
	if info == nil {
		return domain.NewError(domain.KindNotFound, "missing peer node info on about response")
	}
	if info.Metadata.PublicKey == "" {
		return domain.NewError(domain.KindNotFound, "missing public key on about response")
	}
	if info.Metadata.ExternalAddress == "" {
		return domain.NewError(domain.KindNotFound, "missing external address on about response")
	}
	if info.Metadata.PublicKey != nm.PublicKey {
		return domain.NewError(domain.KindValidation, "about response key does not match contacted peer")
	}

	record := *info
	record.LastSeen = time.Now().UnixMilli()
	if err := d.relay.Stores.Peer.AddPeer(ctx, record); err != nil {
		return domain.WrapError(domain.KindUpstream, "storing discovered peer", err)
	}
	log.Infof("discovered peer %s", record.Metadata.LongIdentifier())
	return nil
}
