package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	// ErrEndpointUnavailable wraps connection/transport failures against
	// the node. Fatal to startup; recoverable by retrying the bootstrap.
	ErrEndpointUnavailable = errors.New("endpoint unavailable")

	// ErrNetworkMismatch means the connected ledger is not the expected
	// one. Surfaced before any state is trusted, never worked around.
	ErrNetworkMismatch = errors.New("network mismatch")
)

// NodeClient is the subset of the Ethereum RPC the engine consumes.
// *ethclient.Client satisfies it; tests inject fakes.
type NodeClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// MustParseAddress parses a hex contract address, panicking on bad
// input. Only for configuration values checked at startup.
func MustParseAddress(s string) common.Address {
	if !common.IsHexAddress(s) {
		panic(fmt.Sprintf("invalid address %q", s))
	}
	return common.HexToAddress(s)
}

// Dial connects to a node RPC endpoint. A websocket endpoint is required
// for the live event subscription.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: node endpoint required", ErrEndpointUnavailable)
	}
	client, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrEndpointUnavailable, trimmed, err)
	}
	return client, nil
}
