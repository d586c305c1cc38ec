// Package config loads and validates the gateway's on-disk configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// NetworkConfig describes one network the operator accepts payment on.
type NetworkConfig struct {
	Type           string `json:"type"` // "evm" or "solana"
	Network        string `json:"network"`
	PaymentAddress string `json:"payment_address"`
}

// ProtectedRoute is a single protected path and its USDC price.
type ProtectedRoute struct {
	Path       string `json:"path"`
	USDCAmount uint64 `json:"usdc_amount"`
}

// RoutesConfig holds the free and protected path sets.
type RoutesConfig struct {
	Free      []string         `json:"free"`
	Protected []ProtectedRoute `json:"protected"`
}

// Config is the full gateway configuration, loaded once at startup.
type Config struct {
	GatewayPort    uint16       `json:"gateway_port"`
	FacilitatorURL string       `json:"facilitator_url"`
	TargetAPIURL   string       `json:"target_api_url"`
	Networks       []NetworkConfig `json:"networks"`
	Routes         RoutesConfig `json:"routes"`
}

// Load reads and parses the config file at path, then validates it.
// Parse and validation failures are both fatal: the caller is
// expected to exit non-zero rather than serve.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate enforces the gateway's configuration invariants: every
// protected route must price at least one configured network, and
// usdc_amount must be positive. A path that is both free and
// protected is not an error (free wins); OverlappingRoutes lists such
// paths for the caller to log.
func (c *Config) Validate() error {
	if c.FacilitatorURL == "" {
		return fmt.Errorf("facilitator_url is required")
	}
	if c.TargetAPIURL == "" {
		return fmt.Errorf("target_api_url is required")
	}
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one network must be configured")
	}

	for i, n := range c.Networks {
		if n.Network == "" {
			return fmt.Errorf("networks[%d]: network id is required", i)
		}
		if n.PaymentAddress == "" {
			return fmt.Errorf("networks[%d]: payment_address is required", i)
		}
		switch n.Type {
		case "evm", "solana":
		default:
			return fmt.Errorf("networks[%d]: unknown type %q", i, n.Type)
		}
	}

	free := make(map[string]bool, len(c.Routes.Free))
	for _, p := range c.Routes.Free {
		free[p] = true
	}

	for i, r := range c.Routes.Protected {
		if r.Path == "" {
			return fmt.Errorf("routes.protected[%d]: path is required", i)
		}
		if r.USDCAmount == 0 {
			return fmt.Errorf("routes.protected[%d] (%s): usdc_amount must be > 0", i, r.Path)
		}
		if free[r.Path] {
			// Free classification wins; the caller logs a warning and
			// continues rather than failing startup.
			continue
		}
	}

	return nil
}

// OverlappingRoutes returns the set of paths configured as both free
// and protected. The free classification wins for these; callers
// should log a warning listing them.
func (c *Config) OverlappingRoutes() []string {
	free := make(map[string]bool, len(c.Routes.Free))
	for _, p := range c.Routes.Free {
		free[p] = true
	}
	var overlap []string
	for _, r := range c.Routes.Protected {
		if free[r.Path] {
			overlap = append(overlap, r.Path)
		}
	}
	return overlap
}
