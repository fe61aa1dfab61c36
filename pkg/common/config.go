package common

import (
	"os"

	"github.com/cyw0ng95/meshrpc/pkg/jsonutil"
)

const (
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "config.json"
)

// Config represents the broker/peer runtime configuration loaded from a
// JSON file at startup; a missing file is not an error, it just means
// every field defaults.
type Config struct {
	// Broker configuration, read only by cmd/broker.
	Broker BrokerConfig `json:"broker,omitempty"`
	// Peer configuration; parsed, but pkg/client does not read it
	// (client.Connect takes an Options value).
	Peer PeerConfig `json:"peer,omitempty"`
	// Logging configuration, shared by both roles.
	Logging LoggingConfig `json:"logging,omitempty"`
}

// BrokerConfig holds broker-specific configuration.
type BrokerConfig struct {
	// UnixSocketPath is the Unix-domain socket the broker accepts on.
	// At least one Unix-domain listener is always opened: when this is
	// empty, cmd/broker uses DefaultUnixSocketPath.
	UnixSocketPath string `json:"unix_socket_path,omitempty"`
	// TCPAddrs are additional TCP listen addresses (e.g. ":9443").
	TCPAddrs []string `json:"tcp_addrs,omitempty"`
	// WorkerCount is parsed from the config file; cmd/broker does not read
	// it (the broker runs no handlers, so it sizes no executor).
	WorkerCount int `json:"worker_count,omitempty"`
	// WriteQueueCapacity bounds the per-peer outbound message queue;
	// exceeding it disconnects the peer (see wire.ErrDisconnected).
	WriteQueueCapacity int `json:"write_queue_capacity,omitempty"`
}

// PeerConfig holds client-side configuration fields; nothing in this
// repository reads them.
type PeerConfig struct {
	// DialNetwork is "unix" or "tcp".
	DialNetwork string `json:"dial_network,omitempty"`
	// DialAddress is the socket path or host:port to dial.
	DialAddress string `json:"dial_address,omitempty"`
	// CallTimeoutSeconds is parsed but not applied: CallerContext.Recv has
	// no timeout and blocks until the next update or a closed stream.
	CallTimeoutSeconds int `json:"call_timeout_seconds,omitempty"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `json:"level,omitempty"`
}

// LoadConfig reads a JSON config file. A missing file is not an error: it
// yields the zero Config, matching environment-variable/flag fallbacks at
// call sites.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, MapErrorWithCode(err, ErrCodeSystemUnknown)
	}

	var cfg Config
	if err := jsonutil.Unmarshal(data, &cfg); err != nil {
		return nil, MapErrorWithCode(err, ErrCodeRPCInvalidArgs)
	}
	return &cfg, nil
}

// SaveConfig writes cfg to filename as indented JSON.
func SaveConfig(cfg *Config, filename string) error {
	data, err := jsonutil.MarshalIndent(cfg, jsonutil.DefaultJSONPrefix, jsonutil.DefaultJSONIndent)
	if err != nil {
		return MapErrorWithCode(err, ErrCodeSystemUnknown)
	}
	return os.WriteFile(filename, data, 0o644)
}

