package domain

// MultipartyIdentifier names one threshold-signing group: the round uuid, the
// ordered participant keys and the signing threshold.
type MultipartyIdentifier struct {
	UUID      string      `json:"uuid"`
	PartyKeys []PublicKey `json:"party_keys"`
	Threshold int         `json:"threshold"`
}

func (mi MultipartyIdentifier) IsZero() bool {
	return mi.UUID == "" && len(mi.PartyKeys) == 0
}

// InitiateKeygenRequest starts a distributed key-generation round.
type InitiateKeygenRequest struct {
	Identifier MultipartyIdentifier `json:"identifier"`
}

// InitiateSigningRequest starts a threshold-signing round over one digest.
type InitiateSigningRequest struct {
	Identifier MultipartyIdentifier `json:"identifier"`
	DigestHex  string               `json:"digest_hex"`
	PartyKeys  []PublicKey          `json:"party_keys"`
}

// KeygenResult is returned by an initiated key-generation round.
type KeygenResult struct {
	Identifier MultipartyIdentifier  `json:"identifier"`
	Request    InitiateKeygenRequest `json:"request"`
	PublicKey  PublicKey             `json:"public_key"`
}

// SigningResult is returned by an initiated signing round.
type SigningResult struct {
	Proof Proof `json:"proof"`
}

// BridgeTransaction records one cross-chain movement so a ledger or external
// transaction is never paid out twice.
type BridgeTransaction struct {
	Hash         Hash     `json:"hash"`
	ExternalTxID string   `json:"external_tx_id"`
	Outgoing     bool     `json:"outgoing"`
	Currency     Currency `json:"currency"`
	Source       Address  `json:"source"`
	Destination  Address  `json:"destination"`
	Time         int64    `json:"time"`
	AmountRDG    int64    `json:"amount_rdg"`
}

// PartyID names one liquidity party: the custodial key and its owning node.
type PartyID struct {
	PublicKey PublicKey `json:"public_key"`
	Owner     PublicKey `json:"owner"`
}
