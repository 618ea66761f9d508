package params

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// MaxBps is the basis-point denominator used for every fee rate.
const MaxBps = 10000

// ErrInvalidFeeBps is returned when the configured fee rates cannot be
// satisfied by a single price (royalty + service fee > 100%).
var ErrInvalidFeeBps = errors.New("InvalidFeeBPS")

type Marketplace struct {
	// Address is the account that holds escrowed native coin and acts as
	// spender on the asset and payment token registries.
	Address common.Address
	// Owner receives the service fee unless ServiceFeeRecipient is set and is
	// the only account allowed to run admin transitions.
	Owner               common.Address
	ServiceFeeRecipient common.Address

	RoyaltyBps    uint64 // 1000 = 10%
	ServiceFeeBps uint64 // 250 = 2.5%

	// AllowedPaymentTokens lists fungible tokens accepted besides native coin.
	AllowedPaymentTokens []common.Address

	// ChainID goes into the typed-data domain of transaction envelopes.
	ChainID uint64

	// SignatureWindow is how many blocks a signed fulfillment message stays
	// valid after its reference block. Zero disables the window.
	SignatureWindow uint64
}

type Node struct {
	// MinBlockTime throttles block production on the single-node producer.
	//
	// Recommended values:
	//   - Devnet:  200ms
	//   - Tests:   0 (blocks are produced by calling Step directly)
	MinBlockTime time.Duration
	DataDir      string
	APIAddr      string
	LogFile      string
	Verbose      bool

	// GenesisFile is a JSON ledger.State loaded on first start only.
	GenesisFile string
}

type Config struct {
	Marketplace Marketplace
	Node        Node
}

func Default() Config {
	return Config{
		Marketplace: Marketplace{
			Address:         common.HexToAddress("0x00000000000000000000000000000000000fee00"),
			RoyaltyBps:      1000,
			ServiceFeeBps:   250,
			ChainID:         1337,
			SignatureWindow: 50,
		},
		Node: Node{
			MinBlockTime: 200 * time.Millisecond,
			DataDir:      "data",
			APIAddr:      ":8080",
			LogFile:      "data/node.log",
		},
	}
}

// FeeRecipient returns the account credited with the service fee.
func (m Marketplace) FeeRecipient() common.Address {
	if m.ServiceFeeRecipient != (common.Address{}) {
		return m.ServiceFeeRecipient
	}
	return m.Owner
}

// Validate checks invariants that must hold before the engine starts.
// A fee split that can exceed the price is a fatal configuration error.
func (c Config) Validate() error {
	if c.Marketplace.RoyaltyBps+c.Marketplace.ServiceFeeBps > MaxBps {
		return fmt.Errorf("%w: royalty %d + service fee %d exceeds %d bps",
			ErrInvalidFeeBps, c.Marketplace.RoyaltyBps, c.Marketplace.ServiceFeeBps, MaxBps)
	}
	if c.Marketplace.Address == (common.Address{}) {
		return fmt.Errorf("marketplace address must not be zero")
	}
	for _, tok := range c.Marketplace.AllowedPaymentTokens {
		if tok == (common.Address{}) {
			return fmt.Errorf("zero address cannot be allow-listed: native coin is always accepted")
		}
	}
	return nil
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("MARKET_ADDRESS"); v != "" {
		addr, err := parseAddress("MARKET_ADDRESS", v)
		if err != nil {
			return cfg, err
		}
		cfg.Marketplace.Address = addr
	}
	if v := os.Getenv("MARKET_OWNER"); v != "" {
		addr, err := parseAddress("MARKET_OWNER", v)
		if err != nil {
			return cfg, err
		}
		cfg.Marketplace.Owner = addr
	}
	if v := os.Getenv("MARKET_SERVICE_FEE_RECIPIENT"); v != "" {
		addr, err := parseAddress("MARKET_SERVICE_FEE_RECIPIENT", v)
		if err != nil {
			return cfg, err
		}
		cfg.Marketplace.ServiceFeeRecipient = addr
	}
	if v := os.Getenv("MARKET_ROYALTY_BPS"); v != "" {
		bps, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid MARKET_ROYALTY_BPS: %w", err)
		}
		cfg.Marketplace.RoyaltyBps = bps
	}
	if v := os.Getenv("MARKET_SERVICE_FEE_BPS"); v != "" {
		bps, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid MARKET_SERVICE_FEE_BPS: %w", err)
		}
		cfg.Marketplace.ServiceFeeBps = bps
	}
	if v := os.Getenv("MARKET_ALLOWED_TOKENS"); v != "" {
		// Example: "0xabc...,0xdef..."
		cfg.Marketplace.AllowedPaymentTokens = nil
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			addr, err := parseAddress("MARKET_ALLOWED_TOKENS", s)
			if err != nil {
				return cfg, err
			}
			cfg.Marketplace.AllowedPaymentTokens = append(cfg.Marketplace.AllowedPaymentTokens, addr)
		}
	}
	if v := os.Getenv("SIGNATURE_WINDOW_BLOCKS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid SIGNATURE_WINDOW_BLOCKS: %w", err)
		}
		cfg.Marketplace.SignatureWindow = n
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid CHAIN_ID: %w", err)
		}
		cfg.Marketplace.ChainID = id
	}

	if minBlock := os.Getenv("NODE_MIN_BLOCK_TIME_MS"); minBlock != "" {
		if ms, err := strconv.Atoi(minBlock); err == nil {
			cfg.Node.MinBlockTime = time.Duration(ms) * time.Millisecond
		}
	}
	cfg.Node.DataDir = getEnv("NODE_DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.GenesisFile = getEnv("GENESIS_FILE", cfg.Node.GenesisFile)
	cfg.Node.Verbose = os.Getenv("VERBOSE") == "true"

	return cfg, cfg.Validate()
}

func parseAddress(key, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid %s: %q is not a hex address", key, v)
	}
	return common.HexToAddress(v), nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
