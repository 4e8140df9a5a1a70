package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// UtxoID identifies one unspent output on the native ledger.
type UtxoID struct {
	TransactionHash Hash `json:"transaction_hash"`
	OutputIndex     int  `json:"output_index"`
}

func (u UtxoID) String() string {
	return fmt.Sprintf("%s:%d", u.TransactionHash, u.OutputIndex)
}

// UtxoEntry is a spendable output together with its resolved address and
// amount.
type UtxoEntry struct {
	ID      UtxoID  `json:"id"`
	Address Address `json:"address"`
	Amount  int64   `json:"amount"`
}

type Input struct {
	Utxo  UtxoID `json:"utxo"`
	Proof *Proof `json:"proof,omitempty"`
}

// SwapFulfillment tags an output as the fulfillment of a deposit swap,
// referencing the external chain transaction that triggered it.
type SwapFulfillment struct {
	ExternalTxID string `json:"external_tx_id"`
}

type Output struct {
	Address         Address          `json:"address"`
	Amount          CurrencyAmount   `json:"amount"`
	SwapFulfillment *SwapFulfillment `json:"swap_fulfillment,omitempty"`
}

// Transaction is a native ledger transaction.
type Transaction struct {
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`
	Time    int64    `json:"time"`
}

type signablePayload struct {
	Inputs  []UtxoID `json:"inputs"`
	Outputs []Output `json:"outputs"`
	Time    int64    `json:"time"`
}

// SignableHash is the digest inputs are signed over: everything except the
// input proofs themselves.
func (t *Transaction) SignableHash() Hash {
	p := signablePayload{Outputs: t.Outputs, Time: t.Time}
	for _, in := range t.Inputs {
		p.Inputs = append(p.Inputs, in.Utxo)
	}
	buf, _ := json.Marshal(p)
	return HashOf(buf)
}

// Hash is the content hash of the full transaction, proofs included.
func (t *Transaction) Hash() Hash {
	buf, _ := json.Marshal(t)
	return HashOf(buf)
}

// AddProofPerInput attaches the same signature proof to every input, the way
// a threshold round signs the whole transaction at once.
func (t *Transaction) AddProofPerInput(p Proof) {
	for i := range t.Inputs {
		proof := p
		t.Inputs[i].Proof = &proof
	}
}

func (t *Transaction) FirstInputProofPublicKey() (PublicKey, bool) {
	for _, in := range t.Inputs {
		if in.Proof != nil {
			return in.Proof.PublicKey, true
		}
	}
	return "", false
}

// OutputAmountTo sums the amounts of all outputs paying the given address.
func (t *Transaction) OutputAmountTo(addr Address) int64 {
	var total int64
	for _, o := range t.Outputs {
		if o.Address == addr {
			total += o.Amount.Amount
		}
	}
	return total
}

// OutputBitcoinAddress returns the first bitcoin destination embedded in the
// transaction's outputs, if any.
func (t *Transaction) OutputBitcoinAddress() (string, bool) {
	for _, o := range t.Outputs {
		if btcAddr, ok := o.Address.BitcoinAddress(); ok {
			return btcAddr, true
		}
	}
	return "", false
}

// TransactionBuilder assembles a ledger transaction from utxos and outputs.
type TransactionBuilder struct {
	network Network
	tx      Transaction
	err     error
}

func NewTransactionBuilder(network Network) *TransactionBuilder {
	return &TransactionBuilder{
		network: network,
		tx:      Transaction{Time: time.Now().UnixMilli()},
	}
}

func (b *TransactionBuilder) WithUtxo(u UtxoEntry) *TransactionBuilder {
	b.tx.Inputs = append(b.tx.Inputs, Input{Utxo: u.ID})
	return b
}

func (b *TransactionBuilder) WithUtxos(utxos []UtxoEntry) *TransactionBuilder {
	for _, u := range utxos {
		b.WithUtxo(u)
	}
	return b
}

func (b *TransactionBuilder) WithOutput(addr Address, amount CurrencyAmount) *TransactionBuilder {
	b.tx.Outputs = append(b.tx.Outputs, Output{Address: addr, Amount: amount})
	return b
}

// WithLastOutputSwapFulfillment marks the most recently added output as a
// deposit-swap fulfillment.
func (b *TransactionBuilder) WithLastOutputSwapFulfillment(externalTxID string) *TransactionBuilder {
	if len(b.tx.Outputs) == 0 {
		b.err = NewError(KindValidation, "no output to mark as swap fulfillment")
		return b
	}
	b.tx.Outputs[len(b.tx.Outputs)-1].SwapFulfillment = &SwapFulfillment{ExternalTxID: externalTxID}
	return b
}

func (b *TransactionBuilder) OutputCount() int {
	return len(b.tx.Outputs)
}

func (b *TransactionBuilder) Build() (*Transaction, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.tx.Inputs) == 0 {
		return nil, NewError(KindValidation, "transaction requires at least one input")
	}
	if len(b.tx.Outputs) == 0 {
		return nil, NewError(KindValidation, "transaction requires at least one output")
	}
	tx := b.tx
	return &tx, nil
}
