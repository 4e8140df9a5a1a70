package peer

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/relay"
)

type discoveryFixture struct {
	relay     *relay.Relay
	peerRepo  *mockPeerRepository
	discovery *discoveryService
}

func newDiscoveryFixture(t *testing.T) *discoveryFixture {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	f := &discoveryFixture{peerRepo: &mockPeerRepository{}}
	f.relay = relay.New(domain.NodeConfig{
		PrivateKey:       priv,
		Network:          domain.NetworkRegtest,
		ExternalAddress:  "127.0.0.1",
		Port:             16180,
		PeerTimeout:      200 * time.Millisecond,
		BroadcastTimeout: 200 * time.Millisecond,
	}, relay.Stores{Peer: f.peerRepo})
	f.discovery = NewDiscoveryService(f.relay, time.Minute).(*discoveryService)
	return f
}

// answerPeers simulates the transport for the duration of the test: every
// outbound message is answered by the builder.
func (f *discoveryFixture) answerPeers(t *testing.T, build func(relay.PeerMessage) *domain.Response) {
	t.Helper()
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		for {
			select {
			case pm := <-f.relay.PeerMessageOut.Chan():
				if res := build(pm); res != nil {
					pm.Reply(res)
				}
			case <-done:
				return
			}
		}
	}()
}

func peerKey(t *testing.T) domain.PublicKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return domain.PublicKeyFromBytes(priv.PubKey().SerializeCompressed())
}

func TestTickAddsUnknownPeers(t *testing.T) {
	f := newDiscoveryFixture(t)
	known := peerKey(t)
	unseen := peerKey(t)
	unseenInfo := domain.PeerNodeInfo{
		Metadata: domain.NodeMetadata{
			PublicKey:       unseen,
			ExternalAddress: "10.0.0.2",
			Port:            16180,
		},
	}

	f.peerRepo.On("ActiveNodes", mock.Anything).Return([]domain.PublicKey{known}, nil)
	f.peerRepo.On("FindByPublicKey", mock.Anything, known).
		Return(&domain.PeerNodeInfo{Metadata: domain.NodeMetadata{PublicKey: known}}, nil)
	f.peerRepo.On("FindByPublicKey", mock.Anything, unseen).Return(nil, nil)
	f.peerRepo.On("AddPeer", mock.Anything, unseenInfo).Return(nil)

	f.answerPeers(t, func(pm relay.PeerMessage) *domain.Response {
		return &domain.Response{GetPeersInfo: &domain.GetPeersInfoResponse{
			PeerInfo: []domain.PeerNodeInfo{unseenInfo},
		}}
	})

	require.NoError(t, f.discovery.Tick(context.Background()))
	f.peerRepo.AssertCalled(t, "AddPeer", mock.Anything, unseenInfo)
	require.Equal(t, 0, f.relay.Trust.Len())
}

func TestTickSkipsSelfAndKnownPeers(t *testing.T) {
	f := newDiscoveryFixture(t)
	known := peerKey(t)
	self := f.relay.NodeConfig.PublicKey()

	f.peerRepo.On("ActiveNodes", mock.Anything).Return([]domain.PublicKey{known}, nil)
	f.peerRepo.On("FindByPublicKey", mock.Anything, known).
		Return(&domain.PeerNodeInfo{Metadata: domain.NodeMetadata{PublicKey: known}}, nil)

	f.answerPeers(t, func(pm relay.PeerMessage) *domain.Response {
		return &domain.Response{GetPeersInfo: &domain.GetPeersInfoResponse{
			PeerInfo: []domain.PeerNodeInfo{
				{Metadata: domain.NodeMetadata{PublicKey: self, ExternalAddress: "x"}},
				{Metadata: domain.NodeMetadata{PublicKey: known, ExternalAddress: "y"}},
			},
		}}
	})

	require.NoError(t, f.discovery.Tick(context.Background()))
	f.peerRepo.AssertNotCalled(t, "AddPeer", mock.Anything, mock.Anything)
}

func TestTickPrunesUnresponsivePeer(t *testing.T) {
	f := newDiscoveryFixture(t)
	silent := peerKey(t)

	f.peerRepo.On("ActiveNodes", mock.Anything).Return([]domain.PublicKey{silent}, nil)
	f.peerRepo.On("RemovePeer", mock.Anything, silent).Return(nil)

	// no transport drains the queue, so the broadcast call times out and the
	// removal lands on the trust queue
	ctx := context.Background()
	require.NoError(t, f.discovery.Tick(ctx))
	tu, err := f.relay.Trust.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, tu.RemovePeer)
	require.Equal(t, silent, *tu.RemovePeer)

	f.discovery.applyTrustUpdate(ctx, tu)
	f.peerRepo.AssertCalled(t, "RemovePeer", mock.Anything, silent)
}

func TestTickRemovesStaleSelfReport(t *testing.T) {
	f := newDiscoveryFixture(t)
	peer := peerKey(t)

	f.peerRepo.On("ActiveNodes", mock.Anything).Return([]domain.PublicKey{peer}, nil)
	f.peerRepo.On("FindByPublicKey", mock.Anything, peer).
		Return(&domain.PeerNodeInfo{
			Metadata:              domain.NodeMetadata{PublicKey: peer},
			LatestTransactionHash: domain.HashOfString("old"),
		}, nil)
	f.peerRepo.On("RemovePeer", mock.Anything, peer).Return(nil)

	f.answerPeers(t, func(pm relay.PeerMessage) *domain.Response {
		return &domain.Response{GetPeersInfo: &domain.GetPeersInfoResponse{
			SelfInfo: &domain.PeerNodeInfo{
				Metadata:              domain.NodeMetadata{PublicKey: peer},
				LatestTransactionHash: domain.HashOfString("new"),
			},
		}}
	})

	ctx := context.Background()
	require.NoError(t, f.discovery.Tick(ctx))
	tu, err := f.relay.Trust.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, tu.RemovePeer)
	require.Equal(t, peer, *tu.RemovePeer)

	f.discovery.applyTrustUpdate(ctx, tu)
	f.peerRepo.AssertCalled(t, "RemovePeer", mock.Anything, peer)
}

func TestApplyTrustUpdateBumpsKnownAndAddsUnknown(t *testing.T) {
	f := newDiscoveryFixture(t)
	ctx := context.Background()
	known := peerKey(t)
	unknown := peerKey(t)

	f.peerRepo.On("FindByPublicKey", mock.Anything, known).
		Return(&domain.PeerNodeInfo{Metadata: domain.NodeMetadata{PublicKey: known}}, nil)
	f.peerRepo.On("UpdateLastSeen", mock.Anything, known).Return(nil)
	f.discovery.applyTrustUpdate(ctx, relay.TrustUpdate{
		Update: &domain.PeerNodeInfo{
			Metadata: domain.NodeMetadata{PublicKey: known},
			LastSeen: time.Now().UnixMilli(),
		},
	})
	f.peerRepo.AssertCalled(t, "UpdateLastSeen", mock.Anything, known)
	f.peerRepo.AssertNotCalled(t, "AddPeer", mock.Anything, mock.Anything)

	unknownInfo := domain.PeerNodeInfo{
		Metadata: domain.NodeMetadata{
			PublicKey:       unknown,
			ExternalAddress: "10.0.0.7",
			Port:            16180,
		},
		LastSeen: time.Now().UnixMilli(),
	}
	f.peerRepo.On("FindByPublicKey", mock.Anything, unknown).Return(nil, nil)
	f.peerRepo.On("AddPeer", mock.Anything, unknownInfo).Return(nil)
	f.discovery.applyTrustUpdate(ctx, relay.TrustUpdate{Update: &unknownInfo})
	f.peerRepo.AssertCalled(t, "AddPeer", mock.Anything, unknownInfo)
}

func TestTickNoPeersIsNoop(t *testing.T) {
	f := newDiscoveryFixture(t)
	f.peerRepo.On("ActiveNodes", mock.Anything).Return([]domain.PublicKey{}, nil)
	require.NoError(t, f.discovery.Tick(context.Background()))
	require.Equal(t, 0, f.relay.PeerMessageOut.Len())
}

func TestDiscoverPeerStoresValidatedRecord(t *testing.T) {
	f := newDiscoveryFixture(t)
	target := peerKey(t)
	targetMeta := domain.NodeMetadata{
		PublicKey:       target,
		ExternalAddress: "10.0.0.5",
		Port:            16180,
	}

	f.peerRepo.On("AddPeer", mock.Anything, mock.MatchedBy(func(info domain.PeerNodeInfo) bool {
		return info.Metadata.PublicKey == target && info.LastSeen > 0
	})).Return(nil)

	f.answerPeers(t, func(pm relay.PeerMessage) *domain.Response {
		return &domain.Response{AboutNode: &domain.AboutNodeResponse{
			PeerNodeInfo: &domain.PeerNodeInfo{Metadata: targetMeta},
		}}
	})

	require.NoError(t, f.discovery.DiscoverPeer(context.Background(), targetMeta))
	f.peerRepo.AssertExpectations(t)
}

func TestDiscoverPeerMissingFieldIsHardError(t *testing.T) {
	f := newDiscoveryFixture(t)
	target := peerKey(t)
	targetMeta := domain.NodeMetadata{
		PublicKey:       target,
		ExternalAddress: "10.0.0.5",
		Port:            16180,
	}

	f.answerPeers(t, func(pm relay.PeerMessage) *domain.Response {
		// external address missing from the nested metadata
		return &domain.Response{AboutNode: &domain.AboutNodeResponse{
			PeerNodeInfo: &domain.PeerNodeInfo{
				Metadata: domain.NodeMetadata{PublicKey: target},
			},
		}}
	})

	err := f.discovery.DiscoverPeer(context.Background(), targetMeta)
	require.Error(t, err)
	require.Equal(t, domain.KindNotFound, domain.ErrKind(err))
	f.peerRepo.AssertNotCalled(t, "AddPeer", mock.Anything, mock.Anything)
}

func TestDiscoverPeerKeyMismatchRejected(t *testing.T) {
	f := newDiscoveryFixture(t)
	target := peerKey(t)
	imposter := peerKey(t)
	targetMeta := domain.NodeMetadata{
		PublicKey:       target,
		ExternalAddress: "10.0.0.5",
		Port:            16180,
	}

	f.answerPeers(t, func(pm relay.PeerMessage) *domain.Response {
		return &domain.Response{AboutNode: &domain.AboutNodeResponse{
			PeerNodeInfo: &domain.PeerNodeInfo{Metadata: domain.NodeMetadata{
				PublicKey:       imposter,
				ExternalAddress: "10.0.0.6",
			}},
		}}
	})

	err := f.discovery.DiscoverPeer(context.Background(), targetMeta)
	require.Error(t, err)
	require.Equal(t, domain.KindValidation, domain.ErrKind(err))
}

func TestDiscoverPeerRequiresPublicKey(t *testing.T) {
	f := newDiscoveryFixture(t)
	err := f.discovery.DiscoverPeer(context.Background(), domain.NodeMetadata{
		ExternalAddress: "10.0.0.5",
	})
	require.Error(t, err)
	require.Equal(t, 0, f.relay.PeerMessageOut.Len())
}
