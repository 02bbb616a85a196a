// Package config loads a ringnet peer's runtime configuration: its
// identity, its gateways, and the tuning constants that govern ring
// membership and forwarding (spec.md §6). Grounded on the teacher's
// pkg/config/config.go, which used the same three-tier viper load (base
// YAML, optional environment overlay, environment-variable override) for
// a blockchain node's Network/Consensus/VM/Storage sections; here the
// sections are replaced by the join-ring peer fields, but the loader
// shape is unchanged.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"ringnet/pkg/utils"
)

// GatewayConfig names one bootstrap peer a node may join through.
type GatewayConfig struct {
	Peer     string  `mapstructure:"peer" json:"peer"`
	Location float64 `mapstructure:"location" json:"location"`
	Addr     string  `mapstructure:"addr" json:"addr"`
}

// LoggingConfig carries the ambient logging concerns every ringnet
// component shares, matching the teacher's Logging section.
type LoggingConfig struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file"`
}

// Config is one peer's full runtime configuration: the join-ring fields
// from spec.md §6 plus the ambient transport and logging fields
// SPEC_FULL.md §6 adds on top.
type Config struct {
	// PeerKey identifies this peer. At runtime it is the libp2p host's
	// peer ID; a configured value lets an operator pin a stable identity
	// across restarts via a persisted libp2p identity key (outside this
	// struct's scope).
	PeerKey string `mapstructure:"peer_key" json:"peer_key"`

	// Gateways lists bootstrap peers this node may send a join request
	// to. Load does not check that it is non-empty.
	Gateways []GatewayConfig `mapstructure:"gateways" json:"gateways"`

	// MaxConnections caps the ring neighbour table. Default 20.
	MaxConnections int `mapstructure:"max_connections" json:"max_connections"`
	// MaxHopsToLive bounds how far a join or forward request travels.
	// Default 10.
	MaxHopsToLive int `mapstructure:"max_hops_to_live" json:"max_hops_to_live"`
	// RndIfHTLAbove: forwarders pick a random peer instead of the
	// closest once remaining hops exceed this. Default 7.
	RndIfHTLAbove int `mapstructure:"rnd_if_htl_above" json:"rnd_if_htl_above"`

	// IsGateway marks this node as an entry point into the ring. No code
	// in this module reads it: every node answers join requests, and
	// `ringnode start` decides whether to dial Gateways from ShouldConnect
	// alone, so a gateway with ShouldConnect true still runs the join.
	IsGateway bool `mapstructure:"is_gateway" json:"is_gateway"`
	// ShouldConnect controls whether Start immediately dials Gateways;
	// false is used for a standalone gateway-only node.
	ShouldConnect bool `mapstructure:"should_connect" json:"should_connect"`

	// ListenAddr is the libp2p multiaddr this node listens on.
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	// DiscoveryTag is the mDNS service tag used for local peer discovery.
	DiscoveryTag string `mapstructure:"discovery_tag" json:"discovery_tag"`
	// RouterCacheSize bounds the LRU cache of per-peer time estimators.
	// Default 4096.
	RouterCacheSize int `mapstructure:"router_cache_size" json:"router_cache_size"`

	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
}

// AppConfig mirrors the teacher's package-level configuration instance,
// populated by the most recent successful Load.
var AppConfig Config

// Load reads configs/default.yaml, optionally merges configs/<env>.yaml
// when env is non-empty, applies RINGNET_*-prefixed environment variable
// overrides, and unmarshals the result into AppConfig. It matches the
// teacher's Load(env string) (*Config, error) shape.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "read default config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config overlay", env))
		}
	}

	viper.SetEnvPrefix("RINGNET")
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	applyDefaults(&cfg)

	AppConfig = cfg
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the RINGNET_ENV environment
// variable to select the overlay, matching the teacher's LoadFromEnv.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("RINGNET_ENV", ""))
}

// applyDefaults fills in the constants from spec.md §6 for any field left
// at its zero value after unmarshalling, allowing a minimal YAML file (or
// none at all beyond peer identity) to still produce a working node.
func applyDefaults(c *Config) {
	if c.MaxConnections == 0 {
		c.MaxConnections = utils.EnvOrDefaultInt("RINGNET_MAX_CONNECTIONS", 20)
	}
	if c.MaxHopsToLive == 0 {
		c.MaxHopsToLive = utils.EnvOrDefaultInt("RINGNET_MAX_HOPS_TO_LIVE", 10)
	}
	if c.RndIfHTLAbove == 0 {
		c.RndIfHTLAbove = utils.EnvOrDefaultInt("RINGNET_RND_IF_HTL_ABOVE", 7)
	}
	if c.RouterCacheSize == 0 {
		c.RouterCacheSize = utils.EnvOrDefaultInt("RINGNET_ROUTER_CACHE_SIZE", 4096)
	}
	if c.ListenAddr == "" {
		c.ListenAddr = utils.EnvOrDefault("RINGNET_LISTEN_ADDR", "/ip4/0.0.0.0/tcp/0")
	}
	if c.DiscoveryTag == "" {
		c.DiscoveryTag = utils.EnvOrDefault("RINGNET_DISCOVERY_TAG", "ringnet-mdns")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = utils.EnvOrDefault("RINGNET_LOG_LEVEL", "info")
	}
}
