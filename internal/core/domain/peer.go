package domain

import "fmt"

// NodeMetadata describes how to reach one node and who it claims to be.
type NodeMetadata struct {
	PublicKey       PublicKey `json:"public_key"`
	ExternalAddress string    `json:"external_address"`
	Port            int       `json:"port"`
	Alias           string    `json:"alias,omitempty"`
	Network         Network   `json:"network"`
}

func (nm NodeMetadata) LongIdentifier() string {
	return fmt.Sprintf("%s@%s:%d", nm.PublicKey.Short(), nm.ExternalAddress, nm.Port)
}

func (nm NodeMetadata) IsZero() bool {
	return nm.PublicKey == "" && nm.ExternalAddress == ""
}

// PeerNodeInfo is the stored record of one known peer, including the hash of
// the latest node transaction it announced. A changed hash on a later
// self-report marks the stored record stale.
type PeerNodeInfo struct {
	Metadata              NodeMetadata `json:"metadata"`
	LatestTransactionHash Hash         `json:"latest_transaction_hash"`
	LastSeen              int64        `json:"last_seen"`
}
