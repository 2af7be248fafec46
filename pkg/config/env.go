package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ZentaChain/chatguard/pkg/contacts"
)

// Environment variables read by ApplyEnvOverrides
const (
	EnvEnabled    = "CHATGUARD_ENABLED"
	EnvLocalID    = "CHATGUARD_LOCAL_ID"
	EnvDataDir    = "CHATGUARD_DATA_DIR"
	EnvDBPassword = "CHATGUARD_DB_PASSWORD"
	EnvFreshness  = "CHATGUARD_FRESHNESS"
	EnvAPIPort    = "CHATGUARD_API_PORT"
	EnvP2PListen  = "CHATGUARD_P2P_LISTEN"
	EnvP2PPeers   = "CHATGUARD_P2P_PEERS"
)

// ApplyEnvOverrides applies CHATGUARD_* variables on top of cfg
func ApplyEnvOverrides(cfg *Config) error {
	cfg.Enabled = envBoolWithFallback(EnvEnabled, cfg.Enabled)

	if v := envString(EnvLocalID); v != "" {
		cfg.LocalID = v
	}
	if v := envString(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := envString(EnvDBPassword); v != "" {
		cfg.DBPassword = v
	}
	if v := envString(EnvFreshness); v != "" {
		policy, err := contacts.ParseFreshnessPolicy(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFreshness, err)
		}
		cfg.Freshness = policy
	}
	cfg.API.Port = envIntWithFallback(EnvAPIPort, cfg.API.Port)

	if v := envCSV(EnvP2PListen); v != nil {
		cfg.P2P.Listen = v
	}
	if v := envCSV(EnvP2PPeers); v != nil {
		cfg.P2P.Peers = v
	}
	return nil
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envCSV(key string) []string {
	raw := envString(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBoolWithFallback(key string, fallback bool) bool {
	switch strings.ToLower(envString(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envIntWithFallback(key string, fallback int) int {
	raw := envString(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
