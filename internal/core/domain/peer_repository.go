package domain

import "context"

// PeerRepository is the persistent peer store.
type PeerRepository interface {
	// ActiveNodes lists the public keys of every known peer.
	ActiveNodes(ctx context.Context) ([]PublicKey, error)
	// FindByPublicKey returns the stored record for a peer, nil when unknown.
	FindByPublicKey(ctx context.Context, pk PublicKey) (*PeerNodeInfo, error)
	// AddPeer inserts or replaces the record for a peer.
	AddPeer(ctx context.Context, info PeerNodeInfo) error
	// RemovePeer deletes the record for a peer.
	RemovePeer(ctx context.Context, pk PublicKey) error
	// UpdateLastSeen bumps the last-seen timestamp of an already known peer.
	// Unknown peers are not inserted.
	UpdateLastSeen(ctx context.Context, pk PublicKey) error
	// AllPeerInfo lists the full stored record of every known peer.
	AllPeerInfo(ctx context.Context) ([]PeerNodeInfo, error)
}
