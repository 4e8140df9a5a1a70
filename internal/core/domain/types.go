package domain

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/shopspring/decimal"
)

// Network is the environment the node participates in. Regtest doubles as the
// local debug environment.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
	NetworkRegtest Network = "regtest"
)

func (n Network) IsLocalDebug() bool {
	return n == NetworkRegtest
}

// ChainParams maps the network onto the bitcoin chain parameters used for
// address derivation.
func (n Network) ChainParams() *chaincfg.Params {
	switch n {
	case NetworkMainnet:
		return &chaincfg.MainNetParams
	case NetworkTestnet:
		return &chaincfg.TestNet3Params
	default:
		return &chaincfg.RegressionNetParams
	}
}

// Hash is the hex encoding of a double-sha256 content hash.
type Hash string

func HashOf(buf []byte) Hash {
	h := chainhash.DoubleHashH(buf)
	return Hash(h.String())
}

func HashOfString(s string) Hash {
	return HashOf([]byte(s))
}

func (h Hash) String() string { return string(h) }

func (h Hash) Bytes() ([]byte, error) {
	b, err := hex.DecodeString(string(h))
	if err != nil {
		return nil, WrapError(KindValidation, "decoding hash hex", err)
	}
	return b, nil
}

// PublicKey is a hex-encoded compressed secp256k1 public key.
type PublicKey string

func (pk PublicKey) Parse() (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(string(pk))
	if err != nil {
		return nil, WrapError(KindValidation, "decoding public key hex", err)
	}
	key, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, WrapError(KindValidation, "parsing public key", err)
	}
	return key, nil
}

func PublicKeyFromBytes(raw []byte) PublicKey {
	return PublicKey(hex.EncodeToString(raw))
}

// Address returns the native ledger address controlled by the key.
func (pk PublicKey) Address() (Address, error) {
	raw, err := hex.DecodeString(string(pk))
	if err != nil {
		return "", WrapError(KindValidation, "decoding public key hex", err)
	}
	return Address(HashOf(raw)), nil
}

// BitcoinAddress derives the p2wpkh address controlled by the same key on the
// bitcoin side of the bridge.
func (pk PublicKey) BitcoinAddress(network Network) (string, error) {
	key, err := pk.Parse()
	if err != nil {
		return "", err
	}
	witness, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(key.SerializeCompressed()), network.ChainParams(),
	)
	if err != nil {
		return "", WrapError(KindUpstream, "deriving bitcoin address", err)
	}
	return witness.EncodeAddress(), nil
}

func (pk PublicKey) Short() string {
	if len(pk) <= 8 {
		return string(pk)
	}
	return string(pk[:8])
}

// Address is a native ledger address in hex form.
type Address string

func (a Address) String() string { return string(a) }

// AddressFromBitcoin wraps an external bitcoin address so it can travel inside
// ledger transaction outputs.
func AddressFromBitcoin(btcAddr string) Address {
	return Address("btc:" + btcAddr)
}

// BitcoinAddress returns the embedded bitcoin address and whether the address
// wraps one.
func (a Address) BitcoinAddress() (string, bool) {
	const prefix = "btc:"
	if len(a) > len(prefix) && a[:len(prefix)] == prefix {
		return string(a[len(prefix):]), true
	}
	return "", false
}

// ValidBitcoinAddress reports whether the embedded bitcoin address parses on
// the given network.
func (a Address) ValidBitcoinAddress(network Network) bool {
	btcAddr, ok := a.BitcoinAddress()
	if !ok {
		return false
	}
	_, err := btcutil.DecodeAddress(btcAddr, network.ChainParams())
	return err == nil
}

// Currency enumerates the two bridged assets.
type Currency string

const (
	CurrencyRDG     Currency = "RDG"
	CurrencyBitcoin Currency = "BTC"
)

const satoshisPerUnit = 1e8

// CurrencyAmount is an integer amount of the smallest unit of one asset.
type CurrencyAmount struct {
	Amount   int64    `json:"amount"`
	Currency Currency `json:"currency"`
}

func AmountFromRDG(amount int64) CurrencyAmount {
	return CurrencyAmount{Amount: amount, Currency: CurrencyRDG}
}

func AmountFromBTC(amount int64) CurrencyAmount {
	return CurrencyAmount{Amount: amount, Currency: CurrencyBitcoin}
}

// Fractional renders the amount in whole units.
func (ca CurrencyAmount) Fractional() decimal.Decimal {
	return decimal.New(ca.Amount, 0).Div(decimal.New(satoshisPerUnit, 0))
}

func (ca CurrencyAmount) String() string {
	return fmt.Sprintf("%s %s", ca.Fractional().String(), ca.Currency)
}

// ParseAmount converts a decimal string of whole units into a CurrencyAmount.
func ParseAmount(s string, currency Currency) (CurrencyAmount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return CurrencyAmount{}, WrapError(KindValidation, "parsing amount", err)
	}
	sats := d.Mul(decimal.New(satoshisPerUnit, 0)).IntPart()
	return CurrencyAmount{Amount: sats, Currency: currency}, nil
}

// Proof is a cryptographic proof of origin: a public key and a signature over
// a message digest.
type Proof struct {
	PublicKey PublicKey `json:"public_key"`
	Signature string    `json:"signature"`
}

// SignDigest produces a Proof over digest with the given private key.
func SignDigest(priv *btcec.PrivateKey, digest []byte) Proof {
	sig := ecdsa.Sign(priv, digest)
	return Proof{
		PublicKey: PublicKeyFromBytes(priv.PubKey().SerializeCompressed()),
		Signature: hex.EncodeToString(sig.Serialize()),
	}
}

// Verify checks the signature against the digest and returns the signer key.
func (p Proof) Verify(digest []byte) (PublicKey, error) {
	key, err := p.PublicKey.Parse()
	if err != nil {
		return "", err
	}
	rawSig, err := hex.DecodeString(p.Signature)
	if err != nil {
		return "", WrapError(KindValidation, "decoding signature hex", err)
	}
	sig, err := ecdsa.ParseDERSignature(rawSig)
	if err != nil {
		return "", WrapError(KindValidation, "parsing signature", err)
	}
	if !sig.Verify(digest, key) {
		return "", ErrInvalidProof
	}
	return p.PublicKey, nil
}

func (p Proof) IsZero() bool {
	return p.PublicKey == "" && p.Signature == ""
}
