// Package config carries the §6 node-wide settings as a single struct built
// with functional options, following the call shape ipfs-rainbow's setup
// code uses for Config{...} literals and Option slices passed into
// component constructors.
package config

import (
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/cyberfly-io/rust-helia-sub001/internal/wantlist"
)

// Config is the node-wide configuration surface named by §6: Bitswap
// timeouts and thresholds, DHT query timeout, IPNS lifetime/republish
// cadence, bootstrap peers, and on-disk paths.
type Config struct {
	BlockTimeout               time.Duration
	MaxSizeReplaceHasWithBlock int
	DHTQueryTimeout            time.Duration
	IPNSLifetime               time.Duration
	IPNSRepublishInterval      time.Duration
	BootstrapPeers             []ma.Multiaddr
	BlockstorePath             string
	DatastorePath              string
}

// Option mutates a Config during construction.
type Option func(*Config)

// Default returns the spec's default values: 30s block want timeout, the
// §4.B 1024-byte HAVE/BLOCK threshold, a 30s DHT query timeout (§4.G), and
// no IPNS keys or bootstrap peers configured.
func Default() Config {
	return Config{
		BlockTimeout:               30 * time.Second,
		MaxSizeReplaceHasWithBlock: wantlist.MaxSizeReplaceHasWithBlock,
		DHTQueryTimeout:            30 * time.Second,
		IPNSLifetime:               24 * time.Hour,
		IPNSRepublishInterval:      4 * time.Hour,
	}
}

// New builds a Config starting from Default and applying opts in order.
func New(opts ...Option) Config {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func WithBlockTimeout(d time.Duration) Option {
	return func(c *Config) { c.BlockTimeout = d }
}

func WithMaxSizeReplaceHasWithBlock(n int) Option {
	return func(c *Config) { c.MaxSizeReplaceHasWithBlock = n }
}

func WithDHTQueryTimeout(d time.Duration) Option {
	return func(c *Config) { c.DHTQueryTimeout = d }
}

func WithIPNSLifetime(d time.Duration) Option {
	return func(c *Config) { c.IPNSLifetime = d }
}

func WithIPNSRepublishInterval(d time.Duration) Option {
	return func(c *Config) { c.IPNSRepublishInterval = d }
}

func WithBootstrapPeers(peers ...ma.Multiaddr) Option {
	return func(c *Config) { c.BootstrapPeers = append(c.BootstrapPeers, peers...) }
}

func WithBlockstorePath(path string) Option {
	return func(c *Config) { c.BlockstorePath = path }
}

func WithDatastorePath(path string) Option {
	return func(c *Config) { c.DatastorePath = path }
}
