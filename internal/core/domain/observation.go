package domain

import "encoding/json"

// HashType distinguishes what kind of ledger object an observation refers to.
type HashType string

const (
	HashTypeTransaction HashType = "transaction"
	HashTypeObservation HashType = "observation"
)

type ObservedHash struct {
	Hash     Hash     `json:"hash"`
	HashType HashType `json:"hash_type"`
}

// ObservationMetadata is the unsigned body of an observation: the hashes a
// node attests to having seen.
type ObservationMetadata struct {
	Hash     Hash           `json:"hash,omitempty"`
	Observed []ObservedHash `json:"observed"`
	Time     int64          `json:"time"`
}

// WithHash assigns the content hash of the metadata, ignoring any previously
// assigned hash.
func (om *ObservationMetadata) WithHash() {
	body := ObservationMetadata{Observed: om.Observed, Time: om.Time}
	buf, _ := json.Marshal(body)
	om.Hash = HashOf(buf)
}

// ObservationProof is a signed attestation over one observation metadata.
type ObservationProof struct {
	Metadata ObservationMetadata `json:"metadata"`
	Proof    Proof               `json:"proof"`
}

// Observation is the gossiped aggregate of observation proofs produced by one
// node.
type Observation struct {
	Hash   Hash               `json:"hash"`
	Proofs []ObservationProof `json:"proofs"`
	Time   int64              `json:"time"`
}

func (o *Observation) WithHash() {
	body := Observation{Proofs: o.Proofs, Time: o.Time}
	buf, _ := json.Marshal(body)
	o.Hash = HashOf(buf)
}
