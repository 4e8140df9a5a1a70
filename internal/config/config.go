package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/viper"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
)

const (
	// DatadirKey is the local data directory to store the internal state of the daemon
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// NetworkKey selects the network the node participates in (mainnet, testnet or regtest)
	NetworkKey = "NETWORK"
	// ExternalAddressKey is the address this node advertises to peers
	ExternalAddressKey = "EXTERNAL_ADDRESS"
	// PortKey is the port this node advertises to peers
	PortKey = "PORT"
	// NodeKeyKey is the hex-encoded secp256k1 private key identifying this node
	NodeKeyKey = "NODE_KEY"
	// SeedsKey is the comma-separated list of seed peers as pubkeyhex@host:port
	SeedsKey = "SEEDS"
	// PeerTimeoutKey bounds synchronous peer calls
	PeerTimeoutKey = "PEER_TIMEOUT"
	// BroadcastTimeoutKey bounds each call of a broadcast fan-out
	BroadcastTimeoutKey = "BROADCAST_TIMEOUT"
	// ObservationFormationTimeKey is the batching interval for observation formation
	ObservationFormationTimeKey = "OBSERVATION_FORMATION_TIME"
	// DiscoveryIntervalKey is the period of the peer discovery audit tick
	DiscoveryIntervalKey = "DISCOVERY_INTERVAL"
	// WatcherIntervalKey is the period of the deposit watcher tick
	WatcherIntervalKey = "WATCHER_INTERVAL"
	// PriceSourceKey selects the USD/BTC price feed (coinbase or kraken)
	PriceSourceKey = "PRICE_SOURCE"
	// EsploraURLKey is the esplora-compatible API endpoint backing the bitcoin wallet
	EsploraURLKey = "ESPLORA_URL"

	DbLocation = "db"

	PriceSourceCoinbase = "coinbase"
	PriceSourceKraken   = "kraken"
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("ledgerswap-daemon", false)

func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("LSWAP")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(NetworkKey, string(domain.NetworkRegtest))
	vip.SetDefault(ExternalAddressKey, "127.0.0.1")
	vip.SetDefault(PortKey, 16180)
	vip.SetDefault(PeerTimeoutKey, 60*time.Second)
	vip.SetDefault(BroadcastTimeoutKey, 20*time.Second)
	vip.SetDefault(ObservationFormationTimeKey, 3*time.Second)
	vip.SetDefault(DiscoveryIntervalKey, 60*time.Second)
	vip.SetDefault(WatcherIntervalKey, 90*time.Second)
	vip.SetDefault(PriceSourceKey, PriceSourceCoinbase)
	vip.SetDefault(EsploraURLKey, "http://localhost:3000")

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

func GetNetwork() domain.Network {
	return domain.Network(GetString(NetworkKey))
}

// GetNodeKey parses the configured node private key, generating an ephemeral
// one when unset (useful on regtest only).
func GetNodeKey() (*btcec.PrivateKey, error) {
	raw := GetString(NodeKeyKey)
	if raw == "" {
		if !GetNetwork().IsLocalDebug() {
			return nil, fmt.Errorf("missing %s", NodeKeyKey)
		}
		return btcec.NewPrivateKey()
	}
	buf, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %s", NodeKeyKey, err)
	}
	priv, _ := btcec.PrivKeyFromBytes(buf)
	return priv, nil
}

// GetSeeds parses the configured seed list. Entries are formatted as
// pubkeyhex@host:port, comma separated.
func GetSeeds() ([]domain.NodeMetadata, error) {
	raw := GetString(SeedsKey)
	if raw == "" {
		return nil, nil
	}

	network := GetNetwork()
	var seeds []domain.NodeMetadata
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		seed, err := parseSeed(entry, network)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

func parseSeed(entry string, network domain.Network) (domain.NodeMetadata, error) {
	keyAndAddr := strings.SplitN(entry, "@", 2)
	if len(keyAndAddr) != 2 {
		return domain.NodeMetadata{}, fmt.Errorf("invalid seed entry %q, want pubkeyhex@host:port", entry)
	}

	pk := domain.PublicKey(keyAndAddr[0])
	if _, err := pk.Parse(); err != nil {
		return domain.NodeMetadata{}, fmt.Errorf("invalid seed public key in %q: %s", entry, err)
	}

	hostAndPort := strings.SplitN(keyAndAddr[1], ":", 2)
	if len(hostAndPort) != 2 {
		return domain.NodeMetadata{}, fmt.Errorf("invalid seed address in %q, want host:port", entry)
	}
	var port int
	if _, err := fmt.Sscanf(hostAndPort[1], "%d", &port); err != nil || port <= 0 {
		return domain.NodeMetadata{}, fmt.Errorf("invalid seed port in %q", entry)
	}

	return domain.NodeMetadata{
		PublicKey:       pk,
		ExternalAddress: hostAndPort[0],
		Port:            port,
		Network:         network,
	}, nil
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	switch network := GetNetwork(); network {
	case domain.NetworkMainnet, domain.NetworkTestnet, domain.NetworkRegtest:
	default:
		return fmt.Errorf("unknown network %q", network)
	}

	switch source := GetString(PriceSourceKey); source {
	case PriceSourceCoinbase, PriceSourceKraken:
	default:
		return fmt.Errorf("unknown price source %q", source)
	}

	if GetInt(PortKey) <= 0 {
		return fmt.Errorf("%s must be positive", PortKey)
	}

	return nil
}

func initDatadir() error {
	return makeDirectoryIfNotExists(filepath.Join(GetDatadir(), DbLocation))
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
