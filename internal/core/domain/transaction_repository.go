package domain

import "context"

// TransactionRepository is the persistent ledger transaction store.
type TransactionRepository interface {
	// GetBalance sums the unspent outputs held by an address.
	GetBalance(ctx context.Context, addr Address) (int64, error)
	// FindForAddress lists transactions paying the address, newest first.
	FindForAddress(ctx context.Context, addr Address, limit, offset int, incoming bool) ([]*Transaction, error)
	// UtxosForAddress lists the spendable outputs held by an address.
	UtxosForAddress(ctx context.Context, addr Address) ([]UtxoEntry, error)
	// UtxoValid reports whether the utxo id refers to a known unspent output.
	UtxoValid(ctx context.Context, id UtxoID) (bool, error)
	// InsertTransaction stores an accepted transaction and its outputs.
	InsertTransaction(ctx context.Context, tx *Transaction) error
	// FindByHash returns the stored transaction, nil when absent.
	FindByHash(ctx context.Context, hash Hash) (*Transaction, error)
	// FindInTimeRange lists transactions with start <= Time < end, oldest
	// first, capped at limit.
	FindInTimeRange(ctx context.Context, start, end int64, limit int) ([]*Transaction, error)
}

// ObservationRepository persists gossiped observations.
type ObservationRepository interface {
	InsertObservation(ctx context.Context, o *Observation) error
	FindObservation(ctx context.Context, hash Hash) (*Observation, error)
	// FindObservationsInTimeRange lists observations with start <= Time < end,
	// oldest first, capped at limit.
	FindObservationsInTimeRange(ctx context.Context, start, end int64, limit int) ([]*Observation, error)
}

// MultipartyRepository tracks threshold-signing state shared across ticks:
// consumed bridge transactions and known liquidity parties.
type MultipartyRepository interface {
	// BridgeTxUsed reports whether a ledger or external transaction has
	// already been consumed by a bridge payout.
	BridgeTxUsed(ctx context.Context, hash Hash) (bool, error)
	// InsertBridgeTx marks a cross-chain movement consumed.
	InsertBridgeTx(ctx context.Context, rec BridgeTransaction) error
	// AddParty registers a liquidity party id.
	AddParty(ctx context.Context, id PartyID) error
}

// ConfigRepository is the generic typed blob store keyed by string.
type ConfigRepository interface {
	// GetJSON unmarshals the stored blob into v; found is false when the key
	// has never been written.
	GetJSON(ctx context.Context, key string, v interface{}) (found bool, err error)
	// InsertUpdateJSON stores v wholesale under key, atomically per write.
	InsertUpdateJSON(ctx context.Context, key string, v interface{}) error
	// GetRaw returns the stored blob verbatim, for schema migrations.
	GetRaw(ctx context.Context, key string) ([]byte, bool, error)
}
