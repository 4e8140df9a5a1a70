package dbbadger

import (
	"context"
	"errors"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
)

type observationRecord struct {
	Hash        string
	Time        int64
	Observation *domain.Observation
}

type observationRepositoryImpl struct {
	db *DbManager
}

func NewObservationRepositoryImpl(db *DbManager) domain.ObservationRepository {
	return observationRepositoryImpl{db: db}
}

func (o observationRepositoryImpl) InsertObservation(
	ctx context.Context, obs *domain.Observation,
) error {
	return o.db.LedgerStore.Upsert(string(obs.Hash), observationRecord{
		Hash:        string(obs.Hash),
		Time:        obs.Time,
		Observation: obs,
	})
}

func (o observationRepositoryImpl) FindObservation(
	ctx context.Context, hash domain.Hash,
) (*domain.Observation, error) {
	var record observationRecord
	if err := o.db.LedgerStore.Get(string(hash), &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return record.Observation, nil
}

func (o observationRepositoryImpl) FindObservationsInTimeRange(
	ctx context.Context, start, end int64, limit int,
) ([]*domain.Observation, error) {
	query := badgerhold.Where("Time").Ge(start).And("Time").Lt(end).
		SortBy("Time").Limit(limit)
	var records []observationRecord
	if err := o.db.LedgerStore.Find(&records, query); err != nil {
		return nil, err
	}
	observations := make([]*domain.Observation, 0, len(records))
	for _, r := range records {
		observations = append(observations, r.Observation)
	}
	return observations, nil
}
