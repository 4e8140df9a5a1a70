package ports

import (
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
)

// ExternalTimedTransaction is a normalized view of one observed bitcoin
// wallet transaction.
type ExternalTimedTransaction struct {
	TxID string
	// Timestamp is nil until the transaction confirms.
	Timestamp            *uint64
	OtherAddress         string
	OtherOutputAddresses []string
	Amount               uint64
	Incoming             bool
	Currency             domain.Currency
}

// SigHashType tags each signable digest with the sighash flavor the wallet
// expects the signature to cover.
type SigHashType byte

// SignableDigest is one per-input digest awaiting an external signature.
type SignableDigest struct {
	Digest   []byte
	HashType SigHashType
}

// UtxoWallet is the opaque bitcoin wallet capability bound to a single
// custodial key. All descriptor and PSBT machinery lives behind it.
type UtxoWallet interface {
	// Address returns the wallet's deposit address.
	Address() (string, error)
	// GetBalance returns the confirmed balance in satoshis.
	GetBalance() (uint64, error)
	// ListSourcedTransactions lists every transaction funding or draining the
	// wallet, confirmed or not.
	ListSourcedTransactions() ([]ExternalTimedTransaction, error)
	// BuildBatchOutputTransaction stages one outgoing transaction paying every
	// (address, amount) output.
	BuildBatchOutputTransaction(outputs []BtcOutput) error
	// SignableDigests returns one digest per input of the staged transaction.
	SignableDigests() ([]SignableDigest, error)
	// AcceptExternalSignature affixes an externally produced signature proof
	// to the staged transaction's input.
	AcceptExternalSignature(inputIndex int, proof domain.Proof, hashType SigHashType) error
	// FinalizeSigning reports whether the staged transaction is fully signed.
	FinalizeSigning() (bool, error)
	// Broadcast publishes the staged transaction and returns its txid.
	Broadcast() (string, error)
}

// BtcOutput is one destination/amount pair of an outgoing bitcoin
// transaction.
type BtcOutput struct {
	Address string
	Amount  uint64
}

// WalletFactory constructs a wallet handle bound to a public key on a
// network, optionally syncing on open.
type WalletFactory func(
	key domain.PublicKey, network domain.Network, syncOnOpen bool,
) (UtxoWallet, error)
