package dbbadger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
)

func newTestDb(t *testing.T) *DbManager {
	t.Helper()
	db, err := NewDbManager(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPeerRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewPeerRepositoryImpl(newTestDb(t))

	info := domain.PeerNodeInfo{
		Metadata: domain.NodeMetadata{
			PublicKey:       "02aabb",
			ExternalAddress: "10.0.0.1",
			Port:            16180,
			Network:         domain.NetworkRegtest,
		},
		LatestTransactionHash: domain.HashOfString("genesis"),
		LastSeen:              time.Now().Unix(),
	}
	require.NoError(t, repo.AddPeer(ctx, info))

	found, err := repo.FindByPublicKey(ctx, "02aabb")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, info.Metadata.ExternalAddress, found.Metadata.ExternalAddress)
	require.Equal(t, info.LatestTransactionHash, found.LatestTransactionHash)

	nodes, err := repo.ActiveNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	require.NoError(t, repo.RemovePeer(ctx, "02aabb"))
	found, err = repo.FindByPublicKey(ctx, "02aabb")
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestPeerRepositoryUnknownPeerIsNil(t *testing.T) {
	ctx := context.Background()
	repo := NewPeerRepositoryImpl(newTestDb(t))

	found, err := repo.FindByPublicKey(ctx, "02ffff")
	require.NoError(t, err)
	require.Nil(t, found)

	// Removing and touching unknown peers are both no-ops.
	require.NoError(t, repo.RemovePeer(ctx, "02ffff"))
	require.NoError(t, repo.UpdateLastSeen(ctx, "02ffff"))
}

func TestPeerRepositoryUpdateLastSeen(t *testing.T) {
	ctx := context.Background()
	repo := NewPeerRepositoryImpl(newTestDb(t))

	require.NoError(t, repo.AddPeer(ctx, domain.PeerNodeInfo{
		Metadata: domain.NodeMetadata{PublicKey: "02aabb", ExternalAddress: "10.0.0.1"},
		LastSeen: 1,
	}))
	require.NoError(t, repo.UpdateLastSeen(ctx, "02aabb"))

	found, err := repo.FindByPublicKey(ctx, "02aabb")
	require.NoError(t, err)
	require.Greater(t, found.LastSeen, int64(1))
}

func TestTransactionRepositorySpendsInputsAndCreatesOutputs(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepositoryImpl(newTestDb(t))

	alice := domain.Address("addr-alice")
	bob := domain.Address("addr-bob")

	genesis := &domain.Transaction{
		Outputs: []domain.Output{
			{Address: alice, Amount: domain.AmountFromRDG(100_000)},
		},
		Time: 1000,
	}
	require.NoError(t, repo.InsertTransaction(ctx, genesis))

	balance, err := repo.GetBalance(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, int64(100_000), balance)

	utxos, err := repo.UtxosForAddress(ctx, alice)
	require.NoError(t, err)
	require.Len(t, utxos, 1)

	valid, err := repo.UtxoValid(ctx, utxos[0].ID)
	require.NoError(t, err)
	require.True(t, valid)

	spend := &domain.Transaction{
		Inputs: []domain.Input{{Utxo: utxos[0].ID}},
		Outputs: []domain.Output{
			{Address: bob, Amount: domain.AmountFromRDG(40_000)},
			{Address: alice, Amount: domain.AmountFromRDG(60_000)},
		},
		Time: 2000,
	}
	require.NoError(t, repo.InsertTransaction(ctx, spend))

	valid, err = repo.UtxoValid(ctx, utxos[0].ID)
	require.NoError(t, err)
	require.False(t, valid)

	balance, err = repo.GetBalance(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, int64(60_000), balance)

	balance, err = repo.GetBalance(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, int64(40_000), balance)
}

func TestTransactionRepositoryFindForAddress(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepositoryImpl(newTestDb(t))

	alice := domain.Address("addr-alice")
	bob := domain.Address("addr-bob")

	for i := int64(1); i <= 3; i++ {
		tx := &domain.Transaction{
			Outputs: []domain.Output{
				{Address: alice, Amount: domain.AmountFromRDG(i * 1000)},
			},
			Time: i * 100,
		}
		require.NoError(t, repo.InsertTransaction(ctx, tx))
	}

	incoming, err := repo.FindForAddress(ctx, alice, 2, 0, true)
	require.NoError(t, err)
	require.Len(t, incoming, 2)
	// Newest first.
	require.Equal(t, int64(300), incoming[0].Time)
	require.Equal(t, int64(200), incoming[1].Time)

	paged, err := repo.FindForAddress(ctx, alice, 2, 2, true)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	require.Equal(t, int64(100), paged[0].Time)

	outgoing, err := repo.FindForAddress(ctx, bob, 10, 0, false)
	require.NoError(t, err)
	require.Empty(t, outgoing)
}

func TestTransactionRepositoryBitcoinOutputsHaveNoUtxo(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepositoryImpl(newTestDb(t))

	withdrawal := domain.AddressFromBitcoin("bcrt1qexample")
	tx := &domain.Transaction{
		Outputs: []domain.Output{
			{Address: withdrawal, Amount: domain.AmountFromRDG(5000)},
		},
		Time: 1000,
	}
	require.NoError(t, repo.InsertTransaction(ctx, tx))

	utxos, err := repo.UtxosForAddress(ctx, withdrawal)
	require.NoError(t, err)
	require.Empty(t, utxos)
}

func TestTransactionRepositoryFindByHashAndTimeRange(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepositoryImpl(newTestDb(t))

	var hashes []domain.Hash
	for i := int64(1); i <= 4; i++ {
		tx := &domain.Transaction{
			Outputs: []domain.Output{
				{Address: domain.Address("addr"), Amount: domain.AmountFromRDG(i)},
			},
			Time: i * 100,
		}
		require.NoError(t, repo.InsertTransaction(ctx, tx))
		hashes = append(hashes, tx.Hash())
	}

	found, err := repo.FindByHash(ctx, hashes[2])
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, int64(300), found.Time)

	missing, err := repo.FindByHash(ctx, domain.HashOfString("nope"))
	require.NoError(t, err)
	require.Nil(t, missing)

	// Half-open range, oldest first.
	ranged, err := repo.FindInTimeRange(ctx, 200, 400, 10)
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	require.Equal(t, int64(200), ranged[0].Time)
	require.Equal(t, int64(300), ranged[1].Time)

	capped, err := repo.FindInTimeRange(ctx, 0, 1000, 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)
}

func TestObservationRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewObservationRepositoryImpl(newTestDb(t))

	obs := &domain.Observation{Time: 500}
	obs.WithHash()
	require.NoError(t, repo.InsertObservation(ctx, obs))

	found, err := repo.FindObservation(ctx, obs.Hash)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, obs.Hash, found.Hash)

	missing, err := repo.FindObservation(ctx, domain.HashOfString("nope"))
	require.NoError(t, err)
	require.Nil(t, missing)

	ranged, err := repo.FindObservationsInTimeRange(ctx, 0, 501, 10)
	require.NoError(t, err)
	require.Len(t, ranged, 1)

	ranged, err = repo.FindObservationsInTimeRange(ctx, 501, 1000, 10)
	require.NoError(t, err)
	require.Empty(t, ranged)
}

func TestMultipartyRepositoryBridgeMarkers(t *testing.T) {
	ctx := context.Background()
	repo := NewMultipartyRepositoryImpl(newTestDb(t))

	hash := domain.HashOfString("payout-1")
	used, err := repo.BridgeTxUsed(ctx, hash)
	require.NoError(t, err)
	require.False(t, used)

	require.NoError(t, repo.InsertBridgeTx(ctx, domain.BridgeTransaction{
		Hash:         hash,
		ExternalTxID: "btctxid",
		Outgoing:     true,
		Currency:     domain.CurrencyBitcoin,
		Time:         time.Now().Unix(),
		AmountRDG:    5000,
	}))

	used, err = repo.BridgeTxUsed(ctx, hash)
	require.NoError(t, err)
	require.True(t, used)
}

func TestMultipartyRepositoryAddParty(t *testing.T) {
	ctx := context.Background()
	repo := NewMultipartyRepositoryImpl(newTestDb(t))

	require.NoError(t, repo.AddParty(ctx, domain.PartyID{
		PublicKey: "02custodial",
		Owner:     "02owner",
	}))
	// Re-registering the same party is idempotent.
	require.NoError(t, repo.AddParty(ctx, domain.PartyID{
		PublicKey: "02custodial",
		Owner:     "02owner",
	}))

	err := repo.AddParty(ctx, domain.PartyID{Owner: "02owner"})
	require.Error(t, err)
	require.Equal(t, domain.KindValidation, domain.ErrKind(err))
}

func TestConfigRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewConfigRepositoryImpl(newTestDb(t))

	type blob struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	var out blob
	found, err := repo.GetJSON(ctx, "settings", &out)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, repo.InsertUpdateJSON(ctx, "settings", blob{Name: "a", Count: 1}))
	found, err = repo.GetJSON(ctx, "settings", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, blob{Name: "a", Count: 1}, out)

	require.NoError(t, repo.InsertUpdateJSON(ctx, "settings", blob{Name: "b", Count: 2}))
	found, err = repo.GetJSON(ctx, "settings", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, blob{Name: "b", Count: 2}, out)

	raw, found, err := repo.GetRaw(ctx, "settings")
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `{"name":"b","count":2}`, string(raw))
}

func TestConfigRepositoryUnmarshalFailureIsFound(t *testing.T) {
	ctx := context.Background()
	repo := NewConfigRepositoryImpl(newTestDb(t))

	require.NoError(t, repo.InsertUpdateJSON(ctx, "settings", map[string]interface{}{
		"count": 1.5,
	}))

	var out struct {
		Count uint64 `json:"count"`
	}
	found, err := repo.GetJSON(ctx, "settings", &out)
	require.True(t, found)
	require.Error(t, err)
}
