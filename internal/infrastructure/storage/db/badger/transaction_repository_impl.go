package dbbadger

import (
	"context"
	"errors"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
)

type transactionRecord struct {
	Hash            string
	Time            int64
	OutputAddresses []string
	InputAddresses  []string
	Transaction     *domain.Transaction
}

type utxoRecord struct {
	ID      string
	Address string
	Amount  int64
	Spent   bool
	Entry   domain.UtxoEntry
}

type transactionRepositoryImpl struct {
	db *DbManager
}

func NewTransactionRepositoryImpl(db *DbManager) domain.TransactionRepository {
	return transactionRepositoryImpl{db: db}
}

func (t transactionRepositoryImpl) GetBalance(
	ctx context.Context, addr domain.Address,
) (int64, error) {
	var records []utxoRecord
	query := badgerhold.Where("Address").Eq(string(addr)).And("Spent").Eq(false)
	if err := t.db.LedgerStore.Find(&records, query); err != nil {
		return 0, err
	}
	var balance int64
	for _, r := range records {
		balance += r.Amount
	}
	return balance, nil
}

func (t transactionRepositoryImpl) FindForAddress(
	ctx context.Context, addr domain.Address, limit, offset int, incoming bool,
) ([]*domain.Transaction, error) {
	field := "OutputAddresses"
	if !incoming {
		field = "InputAddresses"
	}
	query := badgerhold.Where(field).Contains(string(addr)).
		SortBy("Time").Reverse().
		Skip(offset).Limit(limit)

	var records []transactionRecord
	if err := t.db.LedgerStore.Find(&records, query); err != nil {
		return nil, err
	}
	txs := make([]*domain.Transaction, 0, len(records))
	for _, r := range records {
		txs = append(txs, r.Transaction)
	}
	return txs, nil
}

func (t transactionRepositoryImpl) UtxosForAddress(
	ctx context.Context, addr domain.Address,
) ([]domain.UtxoEntry, error) {
	var records []utxoRecord
	query := badgerhold.Where("Address").Eq(string(addr)).And("Spent").Eq(false)
	if err := t.db.LedgerStore.Find(&records, query); err != nil {
		return nil, err
	}
	utxos := make([]domain.UtxoEntry, 0, len(records))
	for _, r := range records {
		utxos = append(utxos, r.Entry)
	}
	return utxos, nil
}

func (t transactionRepositoryImpl) UtxoValid(
	ctx context.Context, id domain.UtxoID,
) (bool, error) {
	var record utxoRecord
	if err := t.db.LedgerStore.Get(id.String(), &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return !record.Spent, nil
}

// InsertTransaction stores the transaction, marks its inputs spent and
// creates one spendable output record per ledger-addressed output. Outputs
// wrapping external bitcoin addresses are not spendable on the ledger and get
// no utxo record.
func (t transactionRepositoryImpl) InsertTransaction(
	ctx context.Context, tx *domain.Transaction,
) error {
	hash := tx.Hash()

	var inputAddrs []string
	for _, in := range tx.Inputs {
		var spent utxoRecord
		err := t.db.LedgerStore.Get(in.Utxo.String(), &spent)
		if err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				continue
			}
			return err
		}
		spent.Spent = true
		if err := t.db.LedgerStore.Update(in.Utxo.String(), spent); err != nil {
			return err
		}
		inputAddrs = append(inputAddrs, spent.Address)
	}

	var outputAddrs []string
	for i, out := range tx.Outputs {
		outputAddrs = append(outputAddrs, string(out.Address))
		if _, isBtc := out.Address.BitcoinAddress(); isBtc {
			continue
		}
		id := domain.UtxoID{TransactionHash: hash, OutputIndex: i}
		record := utxoRecord{
			ID:      id.String(),
			Address: string(out.Address),
			Amount:  out.Amount.Amount,
			Entry: domain.UtxoEntry{
				ID:      id,
				Address: out.Address,
				Amount:  out.Amount.Amount,
			},
		}
		if err := t.db.LedgerStore.Upsert(id.String(), record); err != nil {
			return err
		}
	}

	return t.db.LedgerStore.Upsert(string(hash), transactionRecord{
		Hash:            string(hash),
		Time:            tx.Time,
		OutputAddresses: outputAddrs,
		InputAddresses:  inputAddrs,
		Transaction:     tx,
	})
}

func (t transactionRepositoryImpl) FindByHash(
	ctx context.Context, hash domain.Hash,
) (*domain.Transaction, error) {
	var record transactionRecord
	if err := t.db.LedgerStore.Get(string(hash), &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return record.Transaction, nil
}

func (t transactionRepositoryImpl) FindInTimeRange(
	ctx context.Context, start, end int64, limit int,
) ([]*domain.Transaction, error) {
	query := badgerhold.Where("Time").Ge(start).And("Time").Lt(end).
		SortBy("Time").Limit(limit)
	var records []transactionRecord
	if err := t.db.LedgerStore.Find(&records, query); err != nil {
		return nil, err
	}
	txs := make([]*domain.Transaction, 0, len(records))
	for _, r := range records {
		txs = append(txs, r.Transaction)
	}
	return txs, nil
}
