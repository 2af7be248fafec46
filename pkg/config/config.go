// Package config loads node configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ZentaChain/chatguard/pkg/contacts"
	"github.com/ZentaChain/chatguard/pkg/crypto"
	"github.com/ZentaChain/chatguard/pkg/protocol"
)

// DBFile is the database file name inside DataDir
const DBFile = "chatguard.db"

// Config is the resolved node configuration
type Config struct {
	Enabled        bool
	LocalID        string
	DataDir        string
	DBPassword     string
	RSABits        int
	Freshness      contacts.FreshnessPolicy
	HandshakeRate  float64 // handshakes per second per peer
	HandshakeBurst int
	OutboxTTL      time.Duration

	API     APIConfig
	P2P     P2PConfig
	Metrics MetricsConfig
}

type APIConfig struct {
	Port       int
	EnableCORS bool
}

type P2PConfig struct {
	Enabled   bool
	Listen    []string
	Peers     []string // multiaddrs with /p2p/<id>
	EnableDHT bool
}

type MetricsConfig struct {
	Enabled bool
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Enabled:        true,
		DataDir:        "./data",
		RSABits:        crypto.DefaultRSABits,
		Freshness:      contacts.FreshnessStrict,
		HandshakeRate:  1,
		HandshakeBurst: 5,
		OutboxTTL:      7 * 24 * time.Hour,
		API: APIConfig{
			Port:       8080,
			EnableCORS: true,
		},
		P2P: P2PConfig{
			Enabled: true,
			Listen:  []string{"/ip4/0.0.0.0/tcp/9000"},
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// DBPath returns the SQLite file path
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, DBFile)
}

// Validate reports the first invalid field
func (c Config) Validate() error {
	if c.LocalID != "" {
		if err := protocol.ValidatePeerID(c.LocalID); err != nil {
			return fmt.Errorf("local_id: %w", err)
		}
	}
	if c.RSABits < crypto.MinRSABits {
		return fmt.Errorf("rsa_bits: %d is below %d", c.RSABits, crypto.MinRSABits)
	}
	if c.HandshakeRate <= 0 {
		return errors.New("handshake_rate must be positive")
	}
	if c.HandshakeBurst < 1 {
		return errors.New("handshake_burst must be at least 1")
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port: %d out of range", c.API.Port)
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	return nil
}

// fileConfig mirrors the YAML layout; nil pointers mean "not set"
type fileConfig struct {
	Enabled        *bool         `yaml:"enabled"`
	LocalID        string        `yaml:"local_id"`
	DataDir        string        `yaml:"data_dir"`
	DBPassword     string        `yaml:"db_password"`
	RSABits        int           `yaml:"rsa_bits"`
	Freshness      string        `yaml:"freshness"`
	HandshakeRate  float64       `yaml:"handshake_rate"`
	HandshakeBurst int           `yaml:"handshake_burst"`
	OutboxTTL      time.Duration `yaml:"outbox_ttl"`
	API            fileAPIConfig `yaml:"api"`
	P2P            fileP2PConfig `yaml:"p2p"`
	Metrics        fileMetrics   `yaml:"metrics"`
}

type fileAPIConfig struct {
	Port       int   `yaml:"port"`
	EnableCORS *bool `yaml:"enable_cors"`
}

type fileP2PConfig struct {
	Enabled   *bool    `yaml:"enabled"`
	Listen    []string `yaml:"listen"`
	Peers     []string `yaml:"peers"`
	EnableDHT *bool    `yaml:"enable_dht"`
}

type fileMetrics struct {
	Enabled *bool `yaml:"enabled"`
}

// Load reads path (if non-empty), merges it over Default and applies env overrides
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Parse merges YAML data into cfg
func Parse(data []byte, cfg *Config) error {
	var parsed fileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return merge(cfg, parsed)
}

func merge(dst *Config, src fileConfig) error {
	if src.Enabled != nil {
		dst.Enabled = *src.Enabled
	}
	if src.LocalID != "" {
		dst.LocalID = src.LocalID
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.DBPassword != "" {
		dst.DBPassword = src.DBPassword
	}
	if src.RSABits != 0 {
		dst.RSABits = src.RSABits
	}
	if src.Freshness != "" {
		policy, err := contacts.ParseFreshnessPolicy(src.Freshness)
		if err != nil {
			return err
		}
		dst.Freshness = policy
	}
	if src.HandshakeRate != 0 {
		dst.HandshakeRate = src.HandshakeRate
	}
	if src.HandshakeBurst != 0 {
		dst.HandshakeBurst = src.HandshakeBurst
	}
	if src.OutboxTTL != 0 {
		dst.OutboxTTL = src.OutboxTTL
	}
	if src.API.Port != 0 {
		dst.API.Port = src.API.Port
	}
	if src.API.EnableCORS != nil {
		dst.API.EnableCORS = *src.API.EnableCORS
	}
	if src.P2P.Enabled != nil {
		dst.P2P.Enabled = *src.P2P.Enabled
	}
	if src.P2P.EnableDHT != nil {
		dst.P2P.EnableDHT = *src.P2P.EnableDHT
	}
	if src.P2P.Listen != nil {
		dst.P2P.Listen = src.P2P.Listen
	}
	if src.P2P.Peers != nil {
		dst.P2P.Peers = src.P2P.Peers
	}
	if src.Metrics.Enabled != nil {
		dst.Metrics.Enabled = *src.Metrics.Enabled
	}
	return nil
}
