package watcher

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/ports"
)

// inmemoryConfigStore is a map-backed ConfigRepository, enough to observe
// what the watcher persists.
type inmemoryConfigStore struct {
	mtx  sync.Mutex
	data map[string][]byte
}

func newInmemoryConfigStore() *inmemoryConfigStore {
	return &inmemoryConfigStore{data: make(map[string][]byte)}
}

func (s *inmemoryConfigStore) GetJSON(
	_ context.Context, key string, v interface{},
) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	buf, ok := s.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return true, err
	}
	return true, nil
}

func (s *inmemoryConfigStore) InsertUpdateJSON(
	_ context.Context, key string, v interface{},
) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.data[key] = buf
	return nil
}

func (s *inmemoryConfigStore) GetRaw(_ context.Context, key string) ([]byte, bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	buf, ok := s.data[key]
	return buf, ok, nil
}

func (s *inmemoryConfigStore) putRaw(key string, buf []byte) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.data[key] = buf
}

// inmemoryMultipartyStore is a map-backed MultipartyRepository so bridge
// markers written in one tick are visible to the next.
type inmemoryMultipartyStore struct {
	mtx     sync.Mutex
	bridges map[domain.Hash]domain.BridgeTransaction
	parties map[domain.PublicKey]domain.PartyID
}

func newInmemoryMultipartyStore() *inmemoryMultipartyStore {
	return &inmemoryMultipartyStore{
		bridges: make(map[domain.Hash]domain.BridgeTransaction),
		parties: make(map[domain.PublicKey]domain.PartyID),
	}
}

func (s *inmemoryMultipartyStore) BridgeTxUsed(
	_ context.Context, hash domain.Hash,
) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	_, ok := s.bridges[hash]
	return ok, nil
}

func (s *inmemoryMultipartyStore) InsertBridgeTx(
	_ context.Context, rec domain.BridgeTransaction,
) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.bridges[rec.Hash] = rec
	return nil
}

func (s *inmemoryMultipartyStore) AddParty(_ context.Context, id domain.PartyID) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.parties[id.PublicKey] = id
	return nil
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

type mockMultipartyRepository struct {
	mock.Mock
}

func (m *mockMultipartyRepository) BridgeTxUsed(
	ctx context.Context, hash domain.Hash,
) (bool, error) {
	args := m.Called(ctx, hash)
	return args.Bool(0), args.Error(1)
}

func (m *mockMultipartyRepository) InsertBridgeTx(
	ctx context.Context, rec domain.BridgeTransaction,
) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *mockMultipartyRepository) AddParty(ctx context.Context, id domain.PartyID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
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

type mockWallet struct {
	mock.Mock
}

func (m *mockWallet) Address() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *mockWallet) GetBalance() (uint64, error) {
	args := m.Called()
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockWallet) ListSourcedTransactions() ([]ports.ExternalTimedTransaction, error) {
	args := m.Called()
	if txs := args.Get(0); txs != nil {
		return txs.([]ports.ExternalTimedTransaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockWallet) BuildBatchOutputTransaction(outputs []ports.BtcOutput) error {
	args := m.Called(outputs)
	return args.Error(0)
}

func (m *mockWallet) SignableDigests() ([]ports.SignableDigest, error) {
	args := m.Called()
	if digests := args.Get(0); digests != nil {
		return digests.([]ports.SignableDigest), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockWallet) AcceptExternalSignature(
	inputIndex int, proof domain.Proof, hashType ports.SigHashType,
) error {
	args := m.Called(inputIndex, proof, hashType)
	return args.Error(0)
}

func (m *mockWallet) FinalizeSigning() (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}

func (m *mockWallet) Broadcast() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

type mockPriceSource struct {
	mock.Mock
}

func (m *mockPriceSource) LatestPrice(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}
