package params

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, uint64(1000), cfg.Marketplace.RoyaltyBps)
	require.Equal(t, uint64(250), cfg.Marketplace.ServiceFeeBps)
}

func TestValidateRejectsFeeOverflow(t *testing.T) {
	cfg := Default()
	cfg.Marketplace.RoyaltyBps = 9000
	cfg.Marketplace.ServiceFeeBps = 1001

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidFeeBps) {
		t.Fatalf("Validate() = %v, want ErrInvalidFeeBps", err)
	}

	cfg.Marketplace.ServiceFeeBps = 1000
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsZeroAllowedToken(t *testing.T) {
	cfg := Default()
	cfg.Marketplace.AllowedPaymentTokens = []common.Address{{}}
	require.Error(t, cfg.Validate())
}

func TestFeeRecipientDefaultsToOwner(t *testing.T) {
	m := Default().Marketplace
	m.Owner = common.HexToAddress("0x01")
	require.Equal(t, m.Owner, m.FeeRecipient())

	m.ServiceFeeRecipient = common.HexToAddress("0x02")
	require.Equal(t, m.ServiceFeeRecipient, m.FeeRecipient())
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "MARKET_ROYALTY_BPS=500\nMARKET_OWNER=0x00000000000000000000000000000000000000aa\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o644))
	// godotenv writes straight into the process environment
	t.Cleanup(func() {
		os.Unsetenv("MARKET_ROYALTY_BPS")
		os.Unsetenv("MARKET_OWNER")
	})

	t.Setenv("MARKET_SERVICE_FEE_BPS", "100")
	t.Setenv("MARKET_ALLOWED_TOKENS", "0x00000000000000000000000000000000000000b1, 0x00000000000000000000000000000000000000b2")
	t.Setenv("NODE_MIN_BLOCK_TIME_MS", "50")

	cfg, err := LoadFromEnv(envPath)
	require.NoError(t, err)
	require.Equal(t, uint64(500), cfg.Marketplace.RoyaltyBps)
	require.Equal(t, uint64(100), cfg.Marketplace.ServiceFeeBps)
	require.Equal(t, common.HexToAddress("0xaa"), cfg.Marketplace.Owner)
	require.Len(t, cfg.Marketplace.AllowedPaymentTokens, 2)
	require.Equal(t, 50*time.Millisecond, cfg.Node.MinBlockTime)
}

func TestLoadFromEnvBadAddress(t *testing.T) {
	t.Setenv("MARKET_OWNER", "not-an-address")
	_, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}
