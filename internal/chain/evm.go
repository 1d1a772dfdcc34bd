package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

// EVMClient talks JSON-RPC to an Ethereum-compatible network.
type EVMClient struct {
	network domain.Network
	url     string
	rpc     *ethclient.Client
	logger  *zap.Logger
}

// NewEVMClient dials url for network.
func NewEVMClient(ctx context.Context, network domain.Network, url string, logger *zap.Logger) (*EVMClient, error) {
	if !network.IsEVM() {
		return nil, fmt.Errorf("%w: %s is not an EVM network", domain.ErrUnsupportedNetwork, network)
	}
	if url == "" {
		return nil, ErrNoRPCNodes
	}
	rpc, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, NewError(fmt.Errorf("dial RPC: %w", err), network, url, "dial")
	}
	return &EVMClient{
		network: network,
		url:     url,
		rpc:     rpc,
		logger:  logger.Named("evm_rpc").With(zap.String("network", network.String())),
	}, nil
}

// Network implements Client.
func (c *EVMClient) Network() domain.Network { return c.network }

// Balance returns the native balance of address in ether units.
func (c *EVMClient) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !common.IsHexAddress(address) {
		return decimal.Zero, fmt.Errorf("invalid %s address %q", c.network, address)
	}
	ctx, cancel := context.WithTimeout(ctx, reqTimeout)
	defer cancel()

	wei, err := c.rpc.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, NewError(err, c.network, c.url, "eth_getBalance")
	}
	return decimal.NewFromBigInt(wei, -18), nil
}

// GasPrice returns the suggested gas price in gwei.
func (c *EVMClient) GasPrice(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, reqTimeout)
	defer cancel()

	price, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return 0, NewError(err, c.network, c.url, "eth_gasPrice")
	}
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(price), big.NewFloat(1e9)).Float64()
	return gwei, nil
}

// Ping checks that the node answers.
func (c *EVMClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, reqTimeout)
	defer cancel()
	if _, err := c.rpc.BlockNumber(ctx); err != nil {
		return NewError(err, c.network, c.url, "eth_blockNumber")
	}
	return nil
}

// Close releases the connection.
func (c *EVMClient) Close() {
	c.rpc.Close()
}
