package dbbadger

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"
)

// DbManager holds all the badgerhold stores in a single data structure.
// Ledger traffic (transactions, utxos, observations) gets its own store so
// its churn never compacts against the long-lived metadata.
type DbManager struct {
	Store       *badgerhold.Store
	LedgerStore *badgerhold.Store
}

// NewDbManager opens (or creates if not exists) the badger stores under the
// base data dir.
func NewDbManager(baseDbDir string, logger badger.Logger) (*DbManager, error) {
	mainDb, err := createDb(baseDbDir+"/main", logger)
	if err != nil {
		return nil, fmt.Errorf("opening main db: %w", err)
	}

	ledgerDb, err := createDb(baseDbDir+"/ledger", logger)
	if err != nil {
		return nil, fmt.Errorf("opening ledger db: %w", err)
	}

	return &DbManager{
		Store:       mainDb,
		LedgerStore: ledgerDb,
	}, nil
}

func (d *DbManager) Close() error {
	if err := d.Store.Close(); err != nil {
		return err
	}
	return d.LedgerStore.Close()
}

// JSONEncode is a custom JSON based encoder for badger
func JSONEncode(value interface{}) ([]byte, error) {
	var buff bytes.Buffer

	en := json.NewEncoder(&buff)

	err := en.Encode(value)
	if err != nil {
		return nil, err
	}

	return buff.Bytes(), nil
}

// JSONDecode is a custom JSON based decoder for badger
func JSONDecode(data []byte, value interface{}) error {
	var buff bytes.Buffer
	de := json.NewDecoder(&buff)

	_, err := buff.Write(data)
	if err != nil {
		return err
	}

	return de.Decode(value)
}

func createDb(dbDir string, logger badger.Logger) (db *badgerhold.Store, err error) {
	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	db, err = badgerhold.Open(badgerhold.Options{
		Encoder:          JSONEncode,
		Decoder:          JSONDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})

	return
}
