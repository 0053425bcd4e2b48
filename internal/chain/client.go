package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Decimals is the number of base units per coin (wei-style).
const Decimals = 18

// GasLimit is the fixed gas of a plain value transfer.
const GasLimit uint64 = 21000

// Transfer describes a plain value transfer signed with a custodial or operator key.
type Transfer struct {
	Secret string // hex private key of the sender
	To     string
	Value  *big.Int
}

// Client is a rate limited EVM JSON-RPC client.
type Client struct {
	eth      *ethclient.Client
	chainID  *big.Int
	gasPrice *big.Int
	limiter  *rate.Limiter
}

// Dial connects to the RPC endpoint. A zero chainID is fetched from the node.
func Dial(ctx context.Context, url string, chainID int64, gasPrice *big.Int) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("rpc url required")
	}
	eth, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	id := big.NewInt(chainID)
	if chainID == 0 {
		id, err = eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("fetch chain id: %w", err)
		}
	}

	return &Client{
		eth:      eth,
		chainID:  id,
		gasPrice: new(big.Int).Set(gasPrice),
		limiter:  rate.NewLimiter(rate.Every(100*time.Millisecond), 5), // ~10 RPS
	}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// TxCost is the fee of one transfer at the configured gas price.
func (c *Client) TxCost() *big.Int {
	return new(big.Int).Mul(c.gasPrice, new(big.Int).SetUint64(GasLimit))
}

// Balance returns the confirmed balance of address in base units.
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	bal, err := c.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return bal, nil
}

// BlockNumber returns the current head height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("get block number: %w", err)
	}
	return n, nil
}

// Send signs and submits a legacy value transfer paying the fixed fee.
// It returns the transaction hash.
func (c *Client) Send(ctx context.Context, t Transfer) (string, error) {
	if t.Value == nil || t.Value.Sign() <= 0 {
		return "", fmt.Errorf("transfer value must be positive")
	}
	if !common.IsHexAddress(t.To) {
		return "", fmt.Errorf("invalid destination %q", t.To)
	}
	key, err := parseKey(t.Secret)
	if err != nil {
		return "", err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}

	to := common.HexToAddress(t.To)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: c.gasPrice,
		Gas:      GasLimit,
		To:       &to,
		Value:    t.Value,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// Mined reports whether the transaction hash has a receipt, i.e. is included
// in a block.
func (c *Client) Mined(ctx context.Context, hash string) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}
	_, err := c.eth.TransactionReceipt(ctx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get receipt: %w", err)
	}
	return true, nil
}

// --- Keys and units ---

// NewKeypair generates a fresh custodial address and its hex secret.
func NewKeypair() (address, secret string, err error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), hex.EncodeToString(crypto.FromECDSA(key)), nil
}

// AddressOf derives the address controlled by a hex secret.
func AddressOf(secret string) (string, error) {
	key, err := parseKey(secret)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// IsAddress reports whether s is a 0x-prefixed hex address.
func IsAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// ToBase converts a coin amount to base units, dropping sub-unit digits.
func ToBase(amount decimal.Decimal) *big.Int {
	return amount.Shift(Decimals).BigInt()
}

// FromBase converts base units to a coin amount.
func FromBase(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, -Decimals)
}

func parseKey(secret string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(secret), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	return key, nil
}
