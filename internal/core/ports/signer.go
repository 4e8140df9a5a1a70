package ports

import (
	"context"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
)

// MultipartySigner is the opaque threshold-signing capability. The protocol's
// own state machine lives behind it; the core only initiates rounds and
// receives results.
type MultipartySigner interface {
	// InitiateKeygen starts a key-generation round with the given
	// participants and returns the resulting shared custodial key.
	InitiateKeygen(
		ctx context.Context, participants []domain.PublicKey,
	) (*domain.KeygenResult, error)
	// InitiateSigning starts a signing round over a message digest and
	// returns a signature proof keyed by the group identity.
	InitiateSigning(
		ctx context.Context, identifier domain.MultipartyIdentifier,
		digest []byte, participants []domain.PublicKey,
	) (*domain.SigningResult, error)
	// KeygenFollower joins a keygen round initiated by a remote peer.
	KeygenFollower(ctx context.Context, req domain.InitiateKeygenRequest) error
	// SigningFollower joins a signing round initiated by a remote peer.
	SigningFollower(ctx context.Context, req domain.InitiateSigningRequest) error
}

// DownloadProcessor serves ledger state sync requests from peers.
type DownloadProcessor interface {
	ProcessDownloadRequest(
		ctx context.Context, req domain.DownloadRequest,
	) (*domain.DownloadResponse, error)
}

// HashSearcher resolves free-form hash lookups across stores.
type HashSearcher interface {
	Search(ctx context.Context, searchString string) (*domain.HashSearchResponse, error)
}
