// Package chain wraps go-ethereum access for the flasharb engine: the RPC
// client used for gas readings and health probes, and the flash-loan lender
// that submits borrow transactions to the on-chain lending pool.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// weiPerGwei and weiPerEth are the usual unit scale factors.
var (
	weiPerGwei = big.NewFloat(1e9)
	weiPerEth  = big.NewFloat(1e18)
)

// ClientConfig holds RPC connection and signer parameters.
type ClientConfig struct {
	RPCURL        string
	ChainID       int64
	PrivateKeyHex string // optional; required only for transaction submission
}

// Client wraps an ethclient.Client together with the signer identity.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
}

// New dials the RPC endpoint and, when a private key is configured, derives
// the signer address. The connection is verified with a ChainID call.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	remoteID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if cfg.ChainID > 0 && remoteID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id mismatch: configured %d, node reports %d", cfg.ChainID, remoteID.Int64())
	}

	c := &Client{eth: eth, chainID: remoteID}

	if cfg.PrivateKeyHex != "" {
		key, err := crypto.HexToECDSA(cfg.PrivateKeyHex)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("chain: parse private key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

// Ping checks RPC liveness by requesting the head block number and returns
// the observed round-trip latency.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.eth.BlockNumber(ctx); err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return time.Since(start), nil
}

// GasPriceGwei returns the node's suggested gas price in gwei.
func (c *Client) GasPriceGwei(ctx context.Context) (float64, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: suggest gas price: %w", err)
	}
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(price), weiPerGwei).Float64()
	return gwei, nil
}

// SignerBalanceETH returns the signer account balance in ether. It returns an
// error when no signer key is configured.
func (c *Client) SignerBalanceETH(ctx context.Context) (float64, error) {
	if c.key == nil {
		return 0, fmt.Errorf("chain: no signer configured")
	}
	wei, err := c.eth.BalanceAt(ctx, c.from, nil)
	if err != nil {
		return 0, fmt.Errorf("chain: balance of %s: %w", c.from.Hex(), err)
	}
	eth, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEth).Float64()
	return eth, nil
}

// From returns the signer address, or the zero address when no key is set.
func (c *Client) From() common.Address {
	return c.from
}

// Eth exposes the underlying ethclient for sub-components (the lender).
func (c *Client) Eth() *ethclient.Client {
	return c.eth
}

// ChainID returns the connected chain's id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}
