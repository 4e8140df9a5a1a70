package dbbadger

import (
	"context"
	"errors"
	"fmt"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
)

type bridgeRecord struct {
	Hash   string
	Record domain.BridgeTransaction
}

type partyRecord struct {
	Key   string
	Party domain.PartyID
}

type multipartyRepositoryImpl struct {
	db *DbManager
}

func NewMultipartyRepositoryImpl(db *DbManager) domain.MultipartyRepository {
	return multipartyRepositoryImpl{db: db}
}

func (m multipartyRepositoryImpl) BridgeTxUsed(
	ctx context.Context, hash domain.Hash,
) (bool, error) {
	var record bridgeRecord
	if err := m.db.Store.Get(bridgeKey(string(hash)), &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m multipartyRepositoryImpl) InsertBridgeTx(
	ctx context.Context, rec domain.BridgeTransaction,
) error {
	return m.db.Store.Upsert(bridgeKey(string(rec.Hash)), bridgeRecord{
		Hash:   string(rec.Hash),
		Record: rec,
	})
}

func (m multipartyRepositoryImpl) AddParty(
	ctx context.Context, id domain.PartyID,
) error {
	if id.PublicKey == "" {
		return domain.NewError(domain.KindValidation, "party public key is required")
	}
	key := partyKey(string(id.PublicKey))
	return m.db.Store.Upsert(key, partyRecord{
		Key:   key,
		Party: id,
	})
}

func bridgeKey(hash string) string {
	return fmt.Sprintf("bridge:%s", hash)
}

func partyKey(pubkey string) string {
	return fmt.Sprintf("party:%s", pubkey)
}
