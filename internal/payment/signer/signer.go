// Package signer implements the stablecoin payment authorization signer
// the payment engine delegates to. Grounded on
// phenomenon0-polymarket-agents/pkg/eth (wallet + EIP-712 domain hashing)
// and joelklabo-agentpay/providers/x402.go (payment header shape).
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/clawrouter/clawrouter-proxy/internal/core"
)

// Signer produces a payment authorization header for a parsed 402
// challenge. Implementations must be deterministic given their private
// key and the challenge nonce (spec.md §4.2 "Signing contract").
type Signer interface {
	Sign(challenge core.PaymentChallenge, requestDigest []byte) (header string, value string, err error)
	Address() string
}

// Wallet wraps an ECDSA private key and signs EIP-3009-style "exact
// scheme" stablecoin transfer authorizations (the x402 exact scheme).
type Wallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewWallet parses a hex private key, with or without the "0x" prefix.
func NewWallet(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse wallet key: %w", err)
	}
	return &Wallet{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the wallet's checksummed hex address.
func (w *Wallet) Address() string { return w.address.Hex() }

// headerName is the x402 "exact scheme" payment-authorization header.
const headerName = "X-Payment-Authorization"

// Sign builds and signs an EIP-712 "TransferWithAuthorization" typed-data
// hash over the challenge's recipient/amount/nonce, scoped to the
// challenge's asset contract and chain. requestDigest is folded into the
// signed nonce material so a signature can never be replayed across
// distinct request bodies.
func (w *Wallet) Sign(challenge core.PaymentChallenge, requestDigest []byte) (string, string, error) {
	chainID, err := parseChainID(challenge.Chain)
	if err != nil {
		return "", "", err
	}

	validAfter := big.NewInt(0)
	validBefore := big.NewInt(challenge.ValidUntil.Unix())
	if challenge.ValidUntil.IsZero() {
		validBefore = big.NewInt(time.Now().Add(5 * time.Minute).Unix())
	}

	nonce := crypto.Keccak256Hash([]byte(challenge.Nonce), requestDigest)

	domainSep := hashDomain("USDC", "2", chainID, common.HexToAddress(challenge.Asset))
	typeHash := crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value," +
			"uint256 validAfter,uint256 validBefore,bytes32 nonce)"))

	amount, ok := new(big.Int).SetString(challenge.Amount, 10)
	if !ok {
		return "", "", fmt.Errorf("parse challenge amount %q", challenge.Amount)
	}

	structHash := crypto.Keccak256Hash(
		typeHash.Bytes(),
		common.LeftPadBytes(w.address.Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(challenge.Recipient).Bytes(), 32),
		common.LeftPadBytes(amount.Bytes(), 32),
		common.LeftPadBytes(validAfter.Bytes(), 32),
		common.LeftPadBytes(validBefore.Bytes(), 32),
		nonce.Bytes(),
	)

	finalHash := crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSep.Bytes(), structHash.Bytes())

	sig, err := crypto.Sign(finalHash.Bytes(), w.privateKey)
	if err != nil {
		return "", "", fmt.Errorf("sign payment authorization: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	return headerName, fmt.Sprintf("0x%x", sig), nil
}

func hashDomain(name, version string, chainID int64, contract common.Address) common.Hash {
	typeHash := crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	return crypto.Keccak256Hash(
		typeHash.Bytes(),
		crypto.Keccak256Hash([]byte(name)).Bytes(),
		crypto.Keccak256Hash([]byte(version)).Bytes(),
		common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32),
		common.LeftPadBytes(contract.Bytes(), 32),
	)
}

func parseChainID(chain string) (int64, error) {
	switch strings.ToLower(chain) {
	case "base", "base-mainnet", "8453":
		return 8453, nil
	case "base-sepolia", "84532":
		return 84532, nil
	case "ethereum", "mainnet", "1":
		return 1, nil
	default:
		n, ok := new(big.Int).SetString(chain, 10)
		if !ok {
			return 0, fmt.Errorf("unrecognized chain %q", chain)
		}
		return n.Int64(), nil
	}
}
