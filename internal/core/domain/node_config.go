package domain

import (
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

// NodeConfig is this node's identity and tuning, constructed once at startup
// and shared read-only across every task.
type NodeConfig struct {
	PrivateKey      *btcec.PrivateKey
	Network         Network
	ExternalAddress string
	Port            int
	Alias           string

	Seeds []NodeMetadata

	PeerTimeout          time.Duration
	BroadcastTimeout     time.Duration
	ObservationFormation time.Duration
	DiscoveryInterval    time.Duration
	WatcherInterval      time.Duration
}

func (nc NodeConfig) PublicKey() PublicKey {
	return PublicKeyFromBytes(nc.PrivateKey.PubKey().SerializeCompressed())
}

func (nc NodeConfig) NodeMetadata() NodeMetadata {
	return NodeMetadata{
		PublicKey:       nc.PublicKey(),
		ExternalAddress: nc.ExternalAddress,
		Port:            nc.Port,
		Alias:           nc.Alias,
		Network:         nc.Network,
	}
}

// MinSeedNodes is the minimum peer count required before a multiparty group
// can form.
func (nc NodeConfig) MinSeedNodes() int {
	if nc.Network.IsLocalDebug() {
		return 3
	}
	return 4
}
