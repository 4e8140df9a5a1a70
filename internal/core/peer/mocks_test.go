package peer

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
)

type mockPeerRepository struct {
	mock.Mock
}

func (m *mockPeerRepository) ActiveNodes(ctx context.Context) ([]domain.PublicKey, error) {
	args := m.Called(ctx)
	if nodes := args.Get(0); nodes != nil {
		return nodes.([]domain.PublicKey), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPeerRepository) FindByPublicKey(
	ctx context.Context, pk domain.PublicKey,
) (*domain.PeerNodeInfo, error) {
	args := m.Called(ctx, pk)
	if info := args.Get(0); info != nil {
		return info.(*domain.PeerNodeInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPeerRepository) AddPeer(ctx context.Context, info domain.PeerNodeInfo) error {
	args := m.Called(ctx, info)
	return args.Error(0)
}

func (m *mockPeerRepository) RemovePeer(ctx context.Context, pk domain.PublicKey) error {
	args := m.Called(ctx, pk)
	return args.Error(0)
}

func (m *mockPeerRepository) UpdateLastSeen(ctx context.Context, pk domain.PublicKey) error {
	args := m.Called(ctx, pk)
	return args.Error(0)
}

func (m *mockPeerRepository) AllPeerInfo(ctx context.Context) ([]domain.PeerNodeInfo, error) {
	args := m.Called(ctx)
	if infos := args.Get(0); infos != nil {
		return infos.([]domain.PeerNodeInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTransactionRepository struct {
	mock.Mock
}

func (m *mockTransactionRepository) GetBalance(
	ctx context.Context, addr domain.Address,
) (int64, error) {
	args := m.Called(ctx, addr)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockTransactionRepository) FindForAddress(
	ctx context.Context, addr domain.Address, limit, offset int, incoming bool,
) ([]*domain.Transaction, error) {
	args := m.Called(ctx, addr, limit, offset, incoming)
	if txs := args.Get(0); txs != nil {
		return txs.([]*domain.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTransactionRepository) UtxosForAddress(
	ctx context.Context, addr domain.Address,
) ([]domain.UtxoEntry, error) {
	args := m.Called(ctx, addr)
	if utxos := args.Get(0); utxos != nil {
		return utxos.([]domain.UtxoEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTransactionRepository) UtxoValid(
	ctx context.Context, id domain.UtxoID,
) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockTransactionRepository) InsertTransaction(
	ctx context.Context, tx *domain.Transaction,
) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *mockTransactionRepository) FindByHash(
	ctx context.Context, hash domain.Hash,
) (*domain.Transaction, error) {
	args := m.Called(ctx, hash)
	if tx := args.Get(0); tx != nil {
		return tx.(*domain.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTransactionRepository) FindInTimeRange(
	ctx context.Context, start, end int64, limit int,
) ([]*domain.Transaction, error) {
	args := m.Called(ctx, start, end, limit)
	if txs := args.Get(0); txs != nil {
		return txs.([]*domain.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockHashSearcher struct {
	mock.Mock
}

func (m *mockHashSearcher) Search(
	ctx context.Context, searchString string,
) (*domain.HashSearchResponse, error) {
	args := m.Called(ctx, searchString)
	if res := args.Get(0); res != nil {
		return res.(*domain.HashSearchResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDownloadProcessor struct {
	mock.Mock
}

func (m *mockDownloadProcessor) ProcessDownloadRequest(
	ctx context.Context, req domain.DownloadRequest,
) (*domain.DownloadResponse, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*domain.DownloadResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockMultipartySigner struct {
	mock.Mock
}

func (m *mockMultipartySigner) InitiateKeygen(
	ctx context.Context, participants []domain.PublicKey,
) (*domain.KeygenResult, error) {
	args := m.Called(ctx, participants)
	if res := args.Get(0); res != nil {
		return res.(*domain.KeygenResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockMultipartySigner) InitiateSigning(
	ctx context.Context, identifier domain.MultipartyIdentifier,
	digest []byte, participants []domain.PublicKey,
) (*domain.SigningResult, error) {
	args := m.Called(ctx, identifier, digest, participants)
	if res := args.Get(0); res != nil {
		return res.(*domain.SigningResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockMultipartySigner) KeygenFollower(
	ctx context.Context, req domain.InitiateKeygenRequest,
) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *mockMultipartySigner) SigningFollower(
	ctx context.Context, req domain.InitiateSigningRequest,
) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

type mockDiscoverer struct {
	mock.Mock
}

func (m *mockDiscoverer) DiscoverPeer(ctx context.Context, nm domain.NodeMetadata) error {
	args := m.Called(ctx, nm)
	return args.Error(0)
}
