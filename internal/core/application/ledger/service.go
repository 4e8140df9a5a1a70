package ledger

import (
	"context"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
)

// downloadBatchLimit caps one sync response so a peer cannot request the
// whole ledger in a single message.
const downloadBatchLimit = 10000

// Service resolves hash lookups and ledger state downloads against the
// persistent stores. It backs the dispatcher's hash-search and download
// sub-requests.
type Service struct {
	transactionRepository domain.TransactionRepository
	observationRepository domain.ObservationRepository
}

func NewService(
	transactionRepository domain.TransactionRepository,
	observationRepository domain.ObservationRepository,
) *Service {
	return &Service{
		transactionRepository: transactionRepository,
		observationRepository: observationRepository,
	}
}

// Search resolves a free-form hash string against the transaction store
// first, then the observation store. Both slots empty means nothing matched.
func (s *Service) Search(
	ctx context.Context, searchString string,
) (*domain.HashSearchResponse, error) {
	if searchString == "" {
		return nil, domain.NewError(domain.KindValidation, "empty search string")
	}
	hash := domain.Hash(searchString)

	tx, err := s.transactionRepository.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return &domain.HashSearchResponse{Transaction: tx}, nil
	}

	obs, err := s.observationRepository.FindObservation(ctx, hash)
	if err != nil {
		return nil, err
	}
	return &domain.HashSearchResponse{Observation: obs}, nil
}

// ProcessDownloadRequest serves transactions and observations in the
// half-open time window [StartTime, EndTime), oldest first, capped per batch.
func (s *Service) ProcessDownloadRequest(
	ctx context.Context, req domain.DownloadRequest,
) (*domain.DownloadResponse, error) {
	if req.EndTime <= req.StartTime {
		return nil, domain.Errorf(
			domain.KindValidation,
			"invalid download window [%d, %d)", req.StartTime, req.EndTime,
		)
	}

	txs, err := s.transactionRepository.FindInTimeRange(
		ctx, req.StartTime, req.EndTime, downloadBatchLimit,
	)
	if err != nil {
		return nil, err
	}

	observations, err := s.observationRepository.FindObservationsInTimeRange(
		ctx, req.StartTime, req.EndTime, downloadBatchLimit,
	)
	if err != nil {
		return nil, err
	}

	return &domain.DownloadResponse{
		Transactions: txs,
		Observations: observations,
	}, nil
}
