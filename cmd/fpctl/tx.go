package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

// envelopeFlags are common to every tx subcommand.
type envelopeFlags struct {
	nonce  uint64
	amount string
	submit bool
}

func (e *envelopeFlags) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Uint64Var(&e.nonce, "nonce", 0, "envelope nonce; 0 asks the node for the next one")
	f.StringVar(&e.amount, "amount", "", "native coin attached to the call")
	f.BoolVar(&e.submit, "submit", false, "POST the signed envelope to --node")
}

type orderFlags struct {
	side         string
	asset        string
	tokenID      string
	paymentToken string
	price        string
	expiration   uint64
}

func (o *orderFlags) bind(cmd *cobra.Command, withExpiration bool) {
	f := cmd.Flags()
	f.StringVar(&o.side, "side", "sell", "order side: sell or buy")
	f.StringVar(&o.asset, "asset", "", "asset contract address")
	f.StringVar(&o.tokenID, "token-id", "", "token id (decimal or 0x hex)")
	f.StringVar(&o.paymentToken, "payment-token", "", "payment token, empty for native coin")
	f.StringVar(&o.price, "price", "", "sale price (decimal or 0x hex)")
	if withExpiration {
		f.Uint64Var(&o.expiration, "expiration", 0, "last block at which the order is valid")
		cmd.MarkFlagRequired("expiration")
	}
	cmd.MarkFlagRequired("asset")
	cmd.MarkFlagRequired("token-id")
	cmd.MarkFlagRequired("price")
}

func (o *orderFlags) payload() (*transaction.OrderPayload, error) {
	side, err := orderbook.ParseSide(o.side)
	if err != nil {
		return nil, err
	}
	asset, err := parseAddress("asset", o.asset)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress("payment-token", o.paymentToken)
	if err != nil {
		return nil, err
	}
	id, err := parseUint256("token-id", o.tokenID)
	if err != nil {
		return nil, err
	}
	price, err := parseUint256("price", o.price)
	if err != nil {
		return nil, err
	}
	return &transaction.OrderPayload{
		Side:         uint32(side),
		Asset:        asset,
		TokenID:      id,
		PaymentToken: token,
		Price:        price,
		Expiration:   o.expiration,
	}, nil
}

func newTxCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Build, sign and optionally submit transaction envelopes",
	}
	cmd.AddCommand(
		newCreateTxCmd(g),
		newCancelTxCmd(g),
		newFulfillTxCmd(g),
		newRegPubKeyTxCmd(g),
		newClearPubKeyTxCmd(g),
	)
	return cmd
}

func newCreateTxCmd(g *globals) *cobra.Command {
	var (
		env   envelopeFlags
		order orderFlags
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create or overwrite an order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := order.payload()
			if err != nil {
				return err
			}
			return g.send(&env, &transaction.Tx{Type: transaction.TxCreateOrder, Order: p})
		},
	}
	env.bind(cmd)
	order.bind(cmd, true)
	return cmd
}

func newCancelTxCmd(g *globals) *cobra.Command {
	var (
		env   envelopeFlags
		order orderFlags
	)
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel one of your orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := order.payload()
			if err != nil {
				return err
			}
			return g.send(&env, &transaction.Tx{Type: transaction.TxCancelOrder, Order: p})
		},
	}
	env.bind(cmd)
	order.bind(cmd, false)
	return cmd
}

func newFulfillTxCmd(g *globals) *cobra.Command {
	var (
		env         envelopeFlags
		order       orderFlags
		destination string
		message     string
		signature   string
	)
	cmd := &cobra.Command{
		Use:   "fulfill",
		Short: "Fill an open order, optionally under the maker's signed message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := order.payload()
			if err != nil {
				return err
			}
			dest, err := parseAddress("destination", destination)
			if err != nil {
				return err
			}
			if destination == "" {
				s, err := g.signer()
				if err != nil {
					return err
				}
				dest = s.Address()
			}
			fp := &transaction.FulfillPayload{OrderPayload: *p, Destination: dest}
			if message != "" || signature != "" {
				msg, err := hexutil.Decode(message)
				if err != nil {
					return fmt.Errorf("--signed-message: %w", err)
				}
				sig, err := hexutil.Decode(signature)
				if err != nil {
					return fmt.Errorf("--signed-signature: %w", err)
				}
				fp.Signed = &transaction.SignedPayload{Format: crypto.MessageFormatV1, Message: msg, Signature: sig}
			}
			return g.send(&env, &transaction.Tx{Type: transaction.TxFulfillOrder, Fulfill: fp})
		},
	}
	env.bind(cmd)
	order.bind(cmd, false)
	f := cmd.Flags()
	f.StringVar(&destination, "destination", "", "asset recipient (default: the signer)")
	f.StringVar(&message, "signed-message", "", "0x fulfillment message from the maker")
	f.StringVar(&signature, "signed-signature", "", "0x maker signature over --signed-message")
	return cmd
}

func newRegPubKeyTxCmd(g *globals) *cobra.Command {
	var (
		env envelopeFlags
		pub string
	)
	cmd := &cobra.Command{
		Use:   "regpubkey",
		Short: "Register a compressed public key for signed fulfillments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var key []byte
			if pub != "" {
				k, err := hexutil.Decode(pub)
				if err != nil {
					return fmt.Errorf("--pubkey: %w", err)
				}
				key = k
			} else {
				s, err := g.signer()
				if err != nil {
					return err
				}
				key = s.CompressedPubKey()
			}
			return g.send(&env, &transaction.Tx{Type: transaction.TxRegisterPubKey, PubKey: key})
		},
	}
	env.bind(cmd)
	cmd.Flags().StringVar(&pub, "pubkey", "", "0x compressed key (default: the signer's)")
	return cmd
}

func newClearPubKeyTxCmd(g *globals) *cobra.Command {
	var env envelopeFlags
	cmd := &cobra.Command{
		Use:   "clearpubkey",
		Short: "Remove your registered public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.send(&env, &transaction.Tx{Type: transaction.TxClearPubKey})
		},
	}
	env.bind(cmd)
	return cmd
}

// send fills in the envelope fields, signs it, prints it and submits it when
// asked.
func (g *globals) send(env *envelopeFlags, tx *transaction.Tx) error {
	s, err := g.signer()
	if err != nil {
		return err
	}
	domain, err := g.domain()
	if err != nil {
		return err
	}
	if env.amount != "" {
		amt, err := parseUint256("amount", env.amount)
		if err != nil {
			return err
		}
		tx.Amount = amt
	}
	tx.Nonce = env.nonce
	if tx.Nonce == 0 {
		if !env.submit {
			return fmt.Errorf("--nonce is required without --submit")
		}
		n, err := g.nextNonce(s)
		if err != nil {
			return err
		}
		tx.Nonce = n
	}

	if err := tx.Sign(s, domain); err != nil {
		return err
	}
	raw, err := tx.Serialize()
	if err != nil {
		return err
	}
	if !env.submit {
		var out bytes.Buffer
		if err := json.Indent(&out, raw, "", "  "); err != nil {
			return err
		}
		fmt.Fprintln(g.out, out.String())
		return nil
	}

	body, err := g.post("/api/v1/tx", raw)
	if err != nil {
		return err
	}
	fmt.Fprintln(g.out, strings.TrimSpace(string(body)))
	return nil
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func (g *globals) nextNonce(s *crypto.Signer) (uint64, error) {
	resp, err := httpClient.Get(strings.TrimRight(g.node, "/") + "/api/v1/balances/" + s.Address().Hex())
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("nonce query: %s", resp.Status)
	}
	var bal struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bal); err != nil {
		return 0, err
	}
	return bal.Nonce + 1, nil
}

func (g *globals) post(path string, body []byte) ([]byte, error) {
	resp, err := httpClient.Post(strings.TrimRight(g.node, "/")+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node returned %s: %s", resp.Status, strings.TrimSpace(string(out)))
	}
	return out, nil
}
