// Command fpctl is the maker and taker toolbox for the marketplace node: it
// manages keys, builds and signs fulfillment messages, and builds, signs and
// submits transaction envelopes.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/nftmarket/params"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

const keyEnv = "FPCTL_PRIVATE_KEY"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	out         io.Writer
	node        string
	key         string
	chainID     uint64
	marketplace string
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globals{out: out}
	defaults := params.Default().Marketplace

	root := &cobra.Command{
		Use:           "fpctl",
		Short:         "Keys, signed messages and transactions for the fixed-price NFT marketplace",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)
	root.SetErr(out)

	pf := root.PersistentFlags()
	pf.StringVar(&g.node, "node", "http://localhost:8080", "node API base URL")
	pf.StringVar(&g.key, "key", "", "hex private key (default $"+keyEnv+")")
	pf.Uint64Var(&g.chainID, "chain-id", defaults.ChainID, "chain id of the EIP-712 domain")
	pf.StringVar(&g.marketplace, "marketplace", defaults.Address.Hex(), "marketplace address of the EIP-712 domain")

	root.AddCommand(
		newKeygenCmd(g),
		newPubKeyCmd(g),
		newSerializeCmd(g),
		newSignCmd(g),
		newVerifyCmd(g),
		newTxCmd(g),
	)
	return root
}

func (g *globals) signer() (*crypto.Signer, error) {
	k := g.key
	if k == "" {
		k = os.Getenv(keyEnv)
	}
	if k == "" {
		return nil, fmt.Errorf("no private key: pass --key or set %s", keyEnv)
	}
	return crypto.FromPrivateKeyHex(k)
}

func (g *globals) domain() (*crypto.EIP712Signer, error) {
	addr, err := parseAddress("marketplace", g.marketplace)
	if err != nil {
		return nil, err
	}
	return crypto.NewEIP712Signer(crypto.DefaultDomain(g.chainID, addr)), nil
}

func parseAddress(name, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("--%s: %q is not a hex address", name, s)
	}
	return common.HexToAddress(s), nil
}

// parseUint256 accepts decimal or 0x-prefixed hex.
func parseUint256(name, s string) (*uint256.Int, error) {
	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(s, "0x") {
		v, err = uint256.FromHex(s)
	} else {
		v, err = uint256.FromDecimal(s)
	}
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return v, nil
}
