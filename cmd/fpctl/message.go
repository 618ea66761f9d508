package main

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/nftmarket/pkg/crypto"
)

// messageFlags are the fields of a fulfillment message.
type messageFlags struct {
	asset        string
	tokenID      string
	destination  string
	side         string
	price        string
	paymentToken string
	refBlock     uint64
}

func (m *messageFlags) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&m.asset, "asset", "", "asset contract address")
	f.StringVar(&m.tokenID, "token-id", "", "token id (decimal or 0x hex)")
	f.StringVar(&m.destination, "destination", "", "asset recipient")
	f.StringVar(&m.side, "side", "sell", "order side: sell or buy")
	f.StringVar(&m.price, "price", "", "sale price (decimal or 0x hex)")
	f.StringVar(&m.paymentToken, "payment-token", "", "payment token, empty for native coin")
	f.Uint64Var(&m.refBlock, "ref-block", 0, "reference block number")
	cmd.MarkFlagRequired("asset")
	cmd.MarkFlagRequired("token-id")
	cmd.MarkFlagRequired("destination")
	cmd.MarkFlagRequired("price")
}

func (m *messageFlags) serialize() ([]byte, error) {
	asset, err := parseAddress("asset", m.asset)
	if err != nil {
		return nil, err
	}
	dest, err := parseAddress("destination", m.destination)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress("payment-token", m.paymentToken)
	if err != nil {
		return nil, err
	}
	side, err := orderbook.ParseSide(m.side)
	if err != nil {
		return nil, err
	}
	id, err := parseUint256("token-id", m.tokenID)
	if err != nil {
		return nil, err
	}
	price, err := parseUint256("price", m.price)
	if err != nil {
		return nil, err
	}
	return crypto.SerializeMessage(asset, id, dest, uint32(side), price, token, m.refBlock)
}

type serializedMessage struct {
	Format    uint8         `json:"format"`
	Message   hexutil.Bytes `json:"message"`
	Digest    common.Hash   `json:"digest"`
	Signature hexutil.Bytes `json:"signature,omitempty"`
}

func newSerializeCmd(g *globals) *cobra.Command {
	var m messageFlags
	cmd := &cobra.Command{
		Use:   "serialize",
		Short: "Encode a fulfillment message and print it with its SHA-256 digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := m.serialize()
			if err != nil {
				return err
			}
			return printJSON(g, serializedMessage{Format: crypto.MessageFormatV1, Message: msg, Digest: crypto.Digest(msg)})
		},
	}
	m.bind(cmd)
	return cmd
}

func newSignCmd(g *globals) *cobra.Command {
	var m messageFlags
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a fulfillment message with --key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.signer()
			if err != nil {
				return err
			}
			msg, err := m.serialize()
			if err != nil {
				return err
			}
			sig, err := s.SignFulfillment(msg)
			if err != nil {
				return err
			}
			return printJSON(g, serializedMessage{
				Format:    crypto.MessageFormatV1,
				Message:   msg,
				Digest:    crypto.Digest(msg),
				Signature: sig,
			})
		},
	}
	m.bind(cmd)
	return cmd
}

var errBadSignature = errors.New("signature does not verify")

func newVerifyCmd(g *globals) *cobra.Command {
	var pub, message, signature string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a fulfillment signature against a compressed public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pk, err := hexutil.Decode(pub)
			if err != nil {
				return fmt.Errorf("--pubkey: %w", err)
			}
			msg, err := hexutil.Decode(message)
			if err != nil {
				return fmt.Errorf("--message: %w", err)
			}
			if _, err := crypto.ParseMessage(crypto.MessageFormatV1, msg); err != nil {
				return err
			}
			sig, err := hexutil.Decode(signature)
			if err != nil {
				return fmt.Errorf("--signature: %w", err)
			}
			if !crypto.Verify(pk, msg, sig) {
				return errBadSignature
			}
			fmt.Fprintln(g.out, "valid")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&pub, "pubkey", "", "0x compressed public key")
	f.StringVar(&message, "message", "", "0x serialized message")
	f.StringVar(&signature, "signature", "", "0x 64-byte signature")
	cmd.MarkFlagRequired("pubkey")
	cmd.MarkFlagRequired("message")
	cmd.MarkFlagRequired("signature")
	return cmd
}
