package main

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

type keyInfo struct {
	Address    common.Address `json:"address"`
	PubKey     hexutil.Bytes  `json:"pubKey"`
	PrivateKey string         `json:"privateKey,omitempty"`
}

func printJSON(g *globals, v interface{}) error {
	enc := json.NewEncoder(g.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newKeygenCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a secp256k1 key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			return printJSON(g, keyInfo{
				Address:    s.Address(),
				PubKey:     s.CompressedPubKey(),
				PrivateKey: s.PrivateKeyHex(),
			})
		},
	}
}

func newPubKeyCmd(g *globals) *cobra.Command {
	var pubHex string
	cmd := &cobra.Command{
		Use:   "pubkey",
		Short: "Print the address and compressed public key of --key, or the address --pubkey derives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var pub []byte
			if pubHex != "" {
				b, err := hexutil.Decode(pubHex)
				if err != nil {
					return fmt.Errorf("invalid --pubkey: %w", err)
				}
				pub = b
			} else {
				s, err := g.signer()
				if err != nil {
					return err
				}
				pub = s.CompressedPubKey()
			}
			addr, err := crypto.AddressFromCompressedPub(pub)
			if err != nil {
				return fmt.Errorf("invalid public key: %w", err)
			}
			return printJSON(g, keyInfo{Address: addr, PubKey: pub})
		},
	}
	cmd.Flags().StringVar(&pubHex, "pubkey", "", "0x-prefixed 33-byte compressed public key")
	return cmd
}
