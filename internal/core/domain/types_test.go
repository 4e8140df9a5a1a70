package domain

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv
}

func TestProofSignAndVerify(t *testing.T) {
	priv := newKey(t)
	digest, err := HashOfString("payload").Bytes()
	require.NoError(t, err)

	proof := SignDigest(priv, digest)
	signedBy, err := proof.Verify(digest)
	require.NoError(t, err)
	require.Equal(t, PublicKeyFromBytes(priv.PubKey().SerializeCompressed()), signedBy)

	otherDigest, err := HashOfString("tampered").Bytes()
	require.NoError(t, err)
	_, err = proof.Verify(otherDigest)
	require.Error(t, err)
}

func TestRequestAuthRoundTrip(t *testing.T) {
	priv := newKey(t)
	req := &Request{
		HashSearch: &HashSearchRequest{SearchString: "deadbeef"},
	}

	_, err := req.VerifyAuth()
	require.Error(t, err)

	require.NoError(t, req.Sign(priv))
	sender, err := req.VerifyAuth()
	require.NoError(t, err)
	require.Equal(t, PublicKeyFromBytes(priv.PubKey().SerializeCompressed()), sender)

	// Mutating the body after signing invalidates the proof.
	req.HashSearch.SearchString = "cafebabe"
	_, err = req.VerifyAuth()
	require.Error(t, err)
}

func TestBitcoinAddressWrapping(t *testing.T) {
	wrapped := AddressFromBitcoin("bcrt1qexample")
	btcAddr, ok := wrapped.BitcoinAddress()
	require.True(t, ok)
	require.Equal(t, "bcrt1qexample", btcAddr)

	_, ok = Address("plain-ledger-address").BitcoinAddress()
	require.False(t, ok)
}

func TestPublicKeyAddresses(t *testing.T) {
	priv := newKey(t)
	pk := PublicKeyFromBytes(priv.PubKey().SerializeCompressed())

	ledgerAddr, err := pk.Address()
	require.NoError(t, err)
	require.NotEmpty(t, ledgerAddr)

	btcAddr, err := pk.BitcoinAddress(NetworkRegtest)
	require.NoError(t, err)
	require.True(t, AddressFromBitcoin(btcAddr).ValidBitcoinAddress(NetworkRegtest))

	// Same key, different networks, different encodings.
	mainnetAddr, err := pk.BitcoinAddress(NetworkMainnet)
	require.NoError(t, err)
	require.NotEqual(t, btcAddr, mainnetAddr)
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount("0.5", CurrencyBitcoin)
	require.NoError(t, err)
	require.Equal(t, int64(50_000_000), amount.Amount)
	require.Equal(t, CurrencyBitcoin, amount.Currency)
	require.Equal(t, "0.5", amount.Fractional().String())

	_, err = ParseAmount("not-a-number", CurrencyRDG)
	require.Error(t, err)
}
