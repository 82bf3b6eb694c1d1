package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"nftmarketd/native/settlement"
)

// FeeTier is the TOML form of a volume discount tier.
type FeeTier struct {
	MinVolume   int64  `toml:"MinVolume"`
	DiscountBps uint32 `toml:"DiscountBps"`
}

// Fees is the TOML form of the platform fee policy.
type Fees struct {
	PlatformFeeBps uint32    `toml:"PlatformFeeBps"`
	MinimumFee     int64     `toml:"MinimumFee"`
	MaximumFee     int64     `toml:"MaximumFee"`
	Recipient      string    `toml:"Recipient"`
	DynamicEnabled bool      `toml:"DynamicEnabled"`
	VolumeTiers    []FeeTier `toml:"VolumeTiers,omitempty"`
	VIPAddresses   []string  `toml:"VIPAddresses,omitempty"`
}

type Config struct {
	RPCAddress      string `toml:"RPCAddress"`
	RPCAuthToken    string `toml:"RPCAuthToken"`
	DataDir         string `toml:"DataDir"`
	NetworkName     string `toml:"NetworkName"`
	Environment     string `toml:"Environment"`
	LogFile         string `toml:"LogFile"`
	AdminAddress    string `toml:"AdminAddress"`
	VaultAddress    string `toml:"VaultAddress"`
	DefaultCurrency string `toml:"DefaultCurrency"`
	ExtensionWindow int64  `toml:"ExtensionWindow"`
	Fees            Fees   `toml:"Fees"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "nftmarket-local"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.DefaultCurrency) == "" {
		cfg.DefaultCurrency = "USDC"
	}
	if cfg.ExtensionWindow < 0 {
		return nil, fmt.Errorf("config: negative ExtensionWindow")
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config: DataDir is required")
	}
	if _, err := ParseAddress(cfg.AdminAddress); err != nil {
		return fmt.Errorf("config: AdminAddress: %w", err)
	}
	if _, err := ParseAddress(cfg.VaultAddress); err != nil {
		return fmt.Errorf("config: VaultAddress: %w", err)
	}
	if _, err := cfg.FeeConfig(); err != nil {
		return err
	}
	return nil
}

// ParseAddress decodes a 20-byte hex address, with or without a 0x prefix.
func ParseAddress(s string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid hex address %q: %w", s, err)
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("address %q must be 20 bytes, got %d", s, len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// FeeConfig converts the TOML fee section into the engine's fee policy.
func (c *Config) FeeConfig() (*settlement.FeeConfig, error) {
	recipient, err := ParseAddress(c.Fees.Recipient)
	if err != nil {
		return nil, fmt.Errorf("config: Fees.Recipient: %w", err)
	}
	cfg := &settlement.FeeConfig{
		PlatformFeeBps:    c.Fees.PlatformFeeBps,
		MinimumFee:        big.NewInt(c.Fees.MinimumFee),
		MaximumFee:        big.NewInt(c.Fees.MaximumFee),
		Recipient:         recipient,
		DynamicFeeEnabled: c.Fees.DynamicEnabled,
	}
	for _, tier := range c.Fees.VolumeTiers {
		cfg.VolumeDiscounts = append(cfg.VolumeDiscounts, settlement.VolumeTier{
			MinVolume:   big.NewInt(tier.MinVolume),
			DiscountBps: tier.DiscountBps,
		})
	}
	for _, vip := range c.Fees.VIPAddresses {
		addr, err := ParseAddress(vip)
		if err != nil {
			return nil, fmt.Errorf("config: Fees.VIPAddresses: %w", err)
		}
		cfg.VIPExemptions = append(cfg.VIPExemptions, addr)
	}
	if err := settlement.ValidateFeeConfig(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// AdminAddr returns the parsed administrator address.
func (c *Config) AdminAddr() ([20]byte, error) { return ParseAddress(c.AdminAddress) }

// VaultAddr returns the parsed custody vault address.
func (c *Config) VaultAddr() ([20]byte, error) { return ParseAddress(c.VaultAddress) }

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:      ":8545",
		DataDir:         "./nftmarket-data",
		NetworkName:     "nftmarket-local",
		Environment:     "local",
		AdminAddress:    "0x" + strings.Repeat("00", 19) + "01",
		VaultAddress:    "0x" + strings.Repeat("00", 19) + "02",
		DefaultCurrency: "USDC",
		ExtensionWindow: 120,
		Fees: Fees{
			PlatformFeeBps: 250,
			Recipient:      "0x" + strings.Repeat("00", 19) + "03",
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
