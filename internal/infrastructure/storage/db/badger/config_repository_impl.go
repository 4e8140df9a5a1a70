package dbbadger

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
)

// configRecord keeps the caller's blob verbatim so schema migrations can read
// back exactly what an older version wrote.
type configRecord struct {
	Key  string
	Blob []byte
}

type configRepositoryImpl struct {
	db *DbManager
}

func NewConfigRepositoryImpl(db *DbManager) domain.ConfigRepository {
	return configRepositoryImpl{db: db}
}

func (c configRepositoryImpl) GetJSON(
	ctx context.Context, key string, v interface{},
) (bool, error) {
	var record configRecord
	if err := c.db.Store.Get(key, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(record.Blob, v); err != nil {
		return true, err
	}
	return true, nil
}

func (c configRepositoryImpl) InsertUpdateJSON(
	ctx context.Context, key string, v interface{},
) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.db.Store.Upsert(key, configRecord{Key: key, Blob: blob})
}

func (c configRepositoryImpl) GetRaw(
	ctx context.Context, key string,
) ([]byte, bool, error) {
	var record configRecord
	if err := c.db.Store.Get(key, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return record.Blob, true, nil
}
