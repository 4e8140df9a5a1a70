// Package esplora implements the custodial bitcoin wallet against an
// esplora-compatible HTTP API (blockstream/electrs). The wallet is bound to a
// single p2wpkh key; signatures are produced externally and affixed through
// AcceptExternalSignature.
package esplora

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/ports"
)

const (
	requestTimeout = 15 * time.Second

	// satsPerVByte is a conservative flat fee rate for withdrawal batches.
	satsPerVByte = 5
	dustLimit    = 546
)

type utxoStatus struct {
	Confirmed bool   `json:"confirmed"`
	BlockTime uint64 `json:"block_time"`
}

type addressUtxo struct {
	TxID   string     `json:"txid"`
	Vout   uint32     `json:"vout"`
	Value  uint64     `json:"value"`
	Status utxoStatus `json:"status"`
}

type txVin struct {
	Prevout struct {
		ScriptpubkeyAddress string `json:"scriptpubkey_address"`
		Value               uint64 `json:"value"`
	} `json:"prevout"`
}

type txVout struct {
	ScriptpubkeyAddress string `json:"scriptpubkey_address"`
	Value               uint64 `json:"value"`
}

type addressTx struct {
	TxID   string     `json:"txid"`
	Vin    []txVin    `json:"vin"`
	Vout   []txVout   `json:"vout"`
	Status utxoStatus `json:"status"`
}

type stagedInput struct {
	value    uint64
	pkScript []byte
}

type service struct {
	apiURL  string
	client  *http.Client
	params  *chaincfg.Params
	pubKey  []byte
	address string

	stagedTx     *wire.MsgTx
	stagedInputs []stagedInput
}

// NewWalletFactory returns a WalletFactory opening wallets against the given
// esplora endpoint.
func NewWalletFactory(apiURL string) ports.WalletFactory {
	return func(
		key domain.PublicKey, network domain.Network, syncOnOpen bool,
	) (ports.UtxoWallet, error) {
		parsed, err := key.Parse()
		if err != nil {
			return nil, err
		}
		address, err := key.BitcoinAddress(network)
		if err != nil {
			return nil, err
		}

		svc := &service{
			apiURL:  strings.TrimSuffix(apiURL, "/"),
			client:  &http.Client{Timeout: requestTimeout},
			params:  network.ChainParams(),
			pubKey:  parsed.SerializeCompressed(),
			address: address,
		}
		if syncOnOpen {
			if err := svc.healthCheck(); err != nil {
				return nil, fmt.Errorf("health check: %w", err)
			}
		}
		return svc, nil
	}
}

func (s *service) healthCheck() error {
	_, err := s.get("/blocks/tip/height")
	return err
}

func (s *service) Address() (string, error) {
	return s.address, nil
}

func (s *service) GetBalance() (uint64, error) {
	utxos, err := s.confirmedUtxos()
	if err != nil {
		return 0, err
	}
	var balance uint64
	for _, u := range utxos {
		balance += u.Value
	}
	return balance, nil
}

func (s *service) ListSourcedTransactions() ([]ports.ExternalTimedTransaction, error) {
	resp, err := s.get(fmt.Sprintf("/address/%s/txs", s.address))
	if err != nil {
		return nil, fmt.Errorf("error on retrieving transactions: %w", err)
	}
	var txs []addressTx
	if err := json.Unmarshal(resp, &txs); err != nil {
		return nil, fmt.Errorf("error on retrieving transactions: %w", err)
	}

	sourced := make([]ports.ExternalTimedTransaction, 0, len(txs))
	for _, tx := range txs {
		sourced = append(sourced, s.toSourcedTransaction(tx))
	}
	return sourced, nil
}

func (s *service) toSourcedTransaction(tx addressTx) ports.ExternalTimedTransaction {
	var spentByUs, receivedByUs, paidToOthers uint64
	var counterpartyIn string
	for _, in := range tx.Vin {
		if in.Prevout.ScriptpubkeyAddress == s.address {
			spentByUs += in.Prevout.Value
		} else if counterpartyIn == "" {
			counterpartyIn = in.Prevout.ScriptpubkeyAddress
		}
	}

	var otherOutputs []string
	var counterpartyOut string
	for _, out := range tx.Vout {
		if out.ScriptpubkeyAddress == s.address {
			receivedByUs += out.Value
			continue
		}
		paidToOthers += out.Value
		otherOutputs = append(otherOutputs, out.ScriptpubkeyAddress)
		if counterpartyOut == "" {
			counterpartyOut = out.ScriptpubkeyAddress
		}
	}

	incoming := spentByUs == 0
	amount, other := receivedByUs, counterpartyIn
	if !incoming {
		amount, other = paidToOthers, counterpartyOut
	}

	var timestamp *uint64
	if tx.Status.Confirmed {
		ts := tx.Status.BlockTime
		timestamp = &ts
	}

	return ports.ExternalTimedTransaction{
		TxID:                 tx.TxID,
		Timestamp:            timestamp,
		OtherAddress:         other,
		OtherOutputAddresses: otherOutputs,
		Amount:               amount,
		Incoming:             incoming,
		Currency:             domain.CurrencyBitcoin,
	}
}

// BuildBatchOutputTransaction stages one transaction paying every output,
// funded greedily from the largest confirmed utxos, with change back to the
// wallet address when above dust.
func (s *service) BuildBatchOutputTransaction(outputs []ports.BtcOutput) error {
	if len(outputs) == 0 {
		return domain.NewError(domain.KindValidation, "no outputs to pay")
	}

	utxos, err := s.confirmedUtxos()
	if err != nil {
		return err
	}
	sort.Slice(utxos, func(i, j int) bool { return utxos[i].Value > utxos[j].Value })

	var target uint64
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, out := range outputs {
		script, err := s.payScript(out.Address)
		if err != nil {
			return err
		}
		tx.AddTxOut(wire.NewTxOut(int64(out.Amount), script))
		target += out.Amount
	}

	ownScript, err := s.payScript(s.address)
	if err != nil {
		return err
	}

	var selected []stagedInput
	var funded uint64
	for _, u := range utxos {
		if funded >= target+s.fee(len(selected), len(outputs)+1) {
			break
		}
		prevHash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return fmt.Errorf("parsing utxo txid %s: %w", u.TxID, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(prevHash, u.Vout), nil, nil))
		selected = append(selected, stagedInput{value: u.Value, pkScript: ownScript})
		funded += u.Value
	}

	fee := s.fee(len(selected), len(outputs)+1)
	if funded < target+fee {
		return domain.Errorf(
			domain.KindValidation,
			"insufficient funds: have %d, need %d", funded, target+fee,
		)
	}

	if change := funded - target - fee; change > dustLimit {
		tx.AddTxOut(wire.NewTxOut(int64(change), ownScript))
	}

	s.stagedTx = tx
	s.stagedInputs = selected
	return nil
}

// SignableDigests returns the bip143 sighash of every staged input.
func (s *service) SignableDigests() ([]ports.SignableDigest, error) {
	if s.stagedTx == nil {
		return nil, domain.NewError(domain.KindValidation, "no staged transaction")
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range s.stagedInputs {
		fetcher.AddPrevOut(
			s.stagedTx.TxIn[i].PreviousOutPoint,
			wire.NewTxOut(int64(in.value), in.pkScript),
		)
	}
	sigHashes := txscript.NewTxSigHashes(s.stagedTx, fetcher)

	sigScript, err := s.legacyScript()
	if err != nil {
		return nil, err
	}

	digests := make([]ports.SignableDigest, 0, len(s.stagedInputs))
	for i, in := range s.stagedInputs {
		digest, err := txscript.CalcWitnessSigHash(
			sigScript, sigHashes, txscript.SigHashAll, s.stagedTx, i, int64(in.value),
		)
		if err != nil {
			return nil, fmt.Errorf("computing sighash for input %d: %w", i, err)
		}
		digests = append(digests, ports.SignableDigest{
			Digest:   digest,
			HashType: ports.SigHashType(txscript.SigHashAll),
		})
	}
	return digests, nil
}

func (s *service) AcceptExternalSignature(
	inputIndex int, proof domain.Proof, hashType ports.SigHashType,
) error {
	if s.stagedTx == nil {
		return domain.NewError(domain.KindValidation, "no staged transaction")
	}
	if inputIndex < 0 || inputIndex >= len(s.stagedTx.TxIn) {
		return domain.Errorf(domain.KindValidation, "input index %d out of range", inputIndex)
	}

	rawSig, err := hex.DecodeString(proof.Signature)
	if err != nil {
		return domain.WrapError(domain.KindValidation, "decoding signature hex", err)
	}

	s.stagedTx.TxIn[inputIndex].Witness = wire.TxWitness{
		append(rawSig, byte(hashType)),
		s.pubKey,
	}
	return nil
}

func (s *service) FinalizeSigning() (bool, error) {
	if s.stagedTx == nil {
		return false, domain.NewError(domain.KindValidation, "no staged transaction")
	}
	for _, in := range s.stagedTx.TxIn {
		if len(in.Witness) != 2 {
			return false, nil
		}
	}
	return true, nil
}

func (s *service) Broadcast() (string, error) {
	if s.stagedTx == nil {
		return "", domain.NewError(domain.KindValidation, "no staged transaction")
	}

	var buf bytes.Buffer
	if err := s.stagedTx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serializing staged transaction: %w", err)
	}

	txid, err := s.post("/tx", hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return "", fmt.Errorf("broadcasting transaction: %w", err)
	}

	s.stagedTx = nil
	s.stagedInputs = nil
	return strings.TrimSpace(string(txid)), nil
}

func (s *service) confirmedUtxos() ([]addressUtxo, error) {
	resp, err := s.get(fmt.Sprintf("/address/%s/utxo", s.address))
	if err != nil {
		return nil, fmt.Errorf("error on retrieving utxos: %w", err)
	}
	var utxos []addressUtxo
	if err := json.Unmarshal(resp, &utxos); err != nil {
		return nil, fmt.Errorf("error on retrieving utxos: %w", err)
	}

	confirmed := make([]addressUtxo, 0, len(utxos))
	for _, u := range utxos {
		if u.Status.Confirmed {
			confirmed = append(confirmed, u)
		}
	}
	return confirmed, nil
}

func (s *service) payScript(address string) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(address, s.params)
	if err != nil {
		return nil, domain.WrapError(
			domain.KindValidation, fmt.Sprintf("decoding address %s", address), err,
		)
	}
	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return nil, fmt.Errorf("building script for %s: %w", address, err)
	}
	return script, nil
}

// legacyScript is the p2pkh-form script the bip143 sighash of a p2wpkh input
// commits to.
func (s *service) legacyScript() ([]byte, error) {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(s.pubKey), s.params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// fee estimates the virtual size of a fully signed p2wpkh spend.
func (s *service) fee(inputs, outputs int) uint64 {
	vsize := 11 + 68*inputs + 31*outputs
	return uint64(vsize * satsPerVByte)
}

func (s *service) get(path string) ([]byte, error) {
	res, err := s.client.Get(s.apiURL + path)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s", string(body))
	}
	return body, nil
}

func (s *service) post(path, body string) ([]byte, error) {
	res, err := s.client.Post(s.apiURL+path, "text/plain", strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	buf, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s", string(buf))
	}
	return buf, nil
}
