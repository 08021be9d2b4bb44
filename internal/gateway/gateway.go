package gateway

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"DbankSync/internal/event"
	"DbankSync/internal/observability"
)

// Gateway is the thin capability surface over the external node: account
// discovery, balance and contract-view queries, gas estimation, signed
// submission, and the event subscription. No position logic lives here.
type Gateway struct {
	client  NodeClient
	signer  Signer
	bank    common.Address
	token   common.Address
	chainID *big.Int // expected ledger identity
	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(client NodeClient, signer Signer, bank, token common.Address, chainID *big.Int, log zerolog.Logger, metrics *observability.Metrics) *Gateway {
	return &Gateway{
		client:  client,
		signer:  signer,
		bank:    bank,
		token:   token,
		chainID: chainID,
		log:     log.With().Str("component", "gateway").Logger(),
		metrics: metrics,
	}
}

// Accounts returns the addresses the configured signer controls.
func (g *Gateway) Accounts() []common.Address {
	return []common.Address{g.signer.Address()}
}

func (g *Gateway) BankAddress() common.Address  { return g.bank }
func (g *Gateway) TokenAddress() common.Address { return g.token }

// VerifyNetwork confirms the connected ledger's identity matches the
// expected chain ID. Must pass before any reported value is trusted.
func (g *Gateway) VerifyNetwork(ctx context.Context) error {
	actual, err := g.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("%w: chain id query: %v", ErrEndpointUnavailable, err)
	}
	if actual.Cmp(g.chainID) != 0 {
		return fmt.Errorf("%w: connected to chain %s, expected %s; select an account on the expected network",
			ErrNetworkMismatch, actual, g.chainID)
	}
	return nil
}

// CurrentHeight returns the node's latest block number.
func (g *Gateway) CurrentHeight(ctx context.Context) (uint64, error) {
	height, err := g.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return height, nil
}

// WalletBalance queries the on-ledger balance of an account.
func (g *Gateway) WalletBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	bal, err := g.client.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("wallet balance: %w", err)
	}
	return bal, nil
}

// --- Read-only contract views ---

func (g *Gateway) DepositBalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return g.bankUint256(ctx, "depositBalanceOf", account)
}

func (g *Gateway) CollateralOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return g.bankUint256(ctx, "collateralOf", account)
}

func (g *Gateway) IsDeposited(ctx context.Context, account common.Address) (bool, error) {
	return g.bankBool(ctx, "isDeposited", account)
}

func (g *Gateway) IsBorrowed(ctx context.Context, account common.Address) (bool, error) {
	return g.bankBool(ctx, "isBorrowed", account)
}

func (g *Gateway) bankUint256(ctx context.Context, method string, account common.Address) (*big.Int, error) {
	out, err := g.callBank(ctx, method, account)
	if err != nil {
		return nil, err
	}
	value := new(big.Int)
	if err := bankABI.UnpackIntoInterface(&value, method, out); err != nil {
		return nil, fmt.Errorf("%s: unpack: %w", method, err)
	}
	return value, nil
}

func (g *Gateway) bankBool(ctx context.Context, method string, account common.Address) (bool, error) {
	out, err := g.callBank(ctx, method, account)
	if err != nil {
		return false, err
	}
	var value bool
	if err := bankABI.UnpackIntoInterface(&value, method, out); err != nil {
		return false, fmt.Errorf("%s: unpack: %w", method, err)
	}
	return value, nil
}

func (g *Gateway) callBank(ctx context.Context, method string, account common.Address) ([]byte, error) {
	data, err := bankABI.Pack(method, account)
	if err != nil {
		return nil, fmt.Errorf("%s: pack: %w", method, err)
	}
	out, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &g.bank, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: call: %w", method, err)
	}
	return out, nil
}

// --- Call data builders for state-changing operations ---

func (g *Gateway) DepositCallData() []byte  { return mustPack(bankABI, "deposit") }
func (g *Gateway) WithdrawCallData() []byte { return mustPack(bankABI, "withdraw") }
func (g *Gateway) BorrowCallData() []byte   { return mustPack(bankABI, "borrow") }
func (g *Gateway) PayOffCallData() []byte   { return mustPack(bankABI, "payOff") }

func (g *Gateway) ApproveCallData(spender common.Address, amount *big.Int) []byte {
	return mustPack(tokenABI, "approve", spender, amount)
}

// --- Gas and submission ---

// SuggestGasPrice asks the node for the current gas price.
func (g *Gateway) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	return price, nil
}

// EstimateCall asks the node whether the operation would execute, and at
// what cost. A revert in contract logic surfaces here.
func (g *Gateway) EstimateCall(ctx context.Context, to common.Address, value *big.Int, data []byte) (uint64, error) {
	start := time.Now()
	gas, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  g.signer.Address(),
		To:    &to,
		Value: value,
		Data:  data,
	})
	if g.metrics != nil {
		g.metrics.GasEstimateDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return 0, err
	}
	return gas, nil
}

// SubmitCall signs and sends a state-changing call. Returning a hash means
// the node accepted the transaction for processing, nothing more: the
// effective outcome arrives later through the event subscription.
func (g *Gateway) SubmitCall(ctx context.Context, to common.Address, value *big.Int, data []byte, gas uint64, gasPrice *big.Int) (common.Hash, error) {
	from := g.signer.Address()

	nonce, err := g.client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}

	if value == nil {
		value = new(big.Int)
	}
	tx := types.NewTransaction(nonce, to, value, gas, gasPrice, data)
	signedTx, err := g.signer.SignTx(tx, g.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}

	start := time.Now()
	err = g.client.SendTransaction(ctx, signedTx)
	if g.metrics != nil {
		g.metrics.SubmitDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return common.Hash{}, err
	}

	g.log.Debug().
		Str("tx_hash", signedTx.Hash().Hex()).
		Str("to", to.Hex()).
		Uint64("nonce", nonce).
		Str("gas_price", gasPrice.String()).
		Msg("transaction sent")

	return signedTx.Hash(), nil
}

// Subscribe opens the live event feed for both contracts from the given
// height. Restartable only by re-subscribing; the returned subscription's
// Err channel reports stream failure.
func (g *Gateway) Subscribe(ctx context.Context, fromHeight uint64) (<-chan types.Log, ethereum.Subscription, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromHeight),
		Addresses: []common.Address{g.bank, g.token},
		Topics:    event.AllSignatures(),
	}

	logs := make(chan types.Log, 64)
	sub, err := g.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: subscribe logs: %v", ErrEndpointUnavailable, err)
	}

	g.log.Info().Uint64("from_height", fromHeight).Msg("event subscription established")
	return logs, sub, nil
}
