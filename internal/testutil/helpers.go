package testutil

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"DbankSync/internal/event"
	"DbankSync/internal/gateway"
)

// Deterministic addresses for tests.
var (
	TestAccount = common.HexToAddress("0x1111111111111111111111111111111111111111")
	OtherParty  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	BankAddr    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	TokenAddr   = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

// TestKey is a throwaway secp256k1 private key.
const TestKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// Selector returns the 4-byte method selector for a canonical signature.
func Selector(sig string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(sig))[:4])
	return sel
}

// Uint256Bytes ABI-encodes a single uint256 return value.
func Uint256Bytes(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

// BoolBytes ABI-encodes a single bool return value.
func BoolBytes(b bool) []byte {
	out := make([]byte, 32)
	if b {
		out[31] = 1
	}
	return out
}

// ============================================================================
// FakeNode
// ============================================================================

// FakeNode is an in-memory gateway.NodeClient. View calls are answered
// from the configured maps; submitted transactions are recorded.
type FakeNode struct {
	mu sync.Mutex

	ChainIDValue *big.Int
	Height       uint64
	Balances     map[common.Address]*big.Int

	// CallResults maps a method selector to its ABI-encoded return.
	CallResults map[[4]byte][]byte
	CallErrs    map[[4]byte]error

	GasPrice    *big.Int
	Gas         uint64
	EstimateErr error
	GasPriceErr error
	SendErr     error
	Nonce       uint64

	SentTxs       []*types.Transaction
	EstimateCalls [][]byte

	SubscribeErr error
	LogSink      chan<- types.Log
	Sub          *FakeSubscription
}

var _ gateway.NodeClient = (*FakeNode)(nil)

// NewFakeNode returns a node on chain 1337 at height 100 with one gwei
// gas and empty contract state.
func NewFakeNode() *FakeNode {
	return &FakeNode{
		ChainIDValue: big.NewInt(1337),
		Height:       100,
		Balances:     make(map[common.Address]*big.Int),
		CallResults:  make(map[[4]byte][]byte),
		CallErrs:     make(map[[4]byte]error),
		GasPrice:     big.NewInt(1_000_000_000),
		Gas:          50_000,
		Sub:          NewFakeSubscription(),
	}
}

// SetView configures the bank contract's view of an account in one shot.
func (f *FakeNode) SetView(wallet, deposit, collateral *big.Int, deposited, borrowed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Balances[TestAccount] = new(big.Int).Set(wallet)
	f.CallResults[Selector("depositBalanceOf(address)")] = Uint256Bytes(deposit)
	f.CallResults[Selector("collateralOf(address)")] = Uint256Bytes(collateral)
	f.CallResults[Selector("isDeposited(address)")] = BoolBytes(deposited)
	f.CallResults[Selector("isBorrowed(address)")] = BoolBytes(borrowed)
}

func (f *FakeNode) ChainID(ctx context.Context) (*big.Int, error) {
	return f.ChainIDValue, nil
}

func (f *FakeNode) BlockNumber(ctx context.Context) (uint64, error) {
	return f.Height, nil
}

func (f *FakeNode) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bal, ok := f.Balances[account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (f *FakeNode) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(call.Data) < 4 {
		return nil, fmt.Errorf("call data too short: %d bytes", len(call.Data))
	}
	var sel [4]byte
	copy(sel[:], call.Data[:4])
	if err, ok := f.CallErrs[sel]; ok {
		return nil, err
	}
	if out, ok := f.CallResults[sel]; ok {
		return out, nil
	}
	return nil, fmt.Errorf("no fake result for selector %x", sel)
}

func (f *FakeNode) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if f.GasPriceErr != nil {
		return nil, f.GasPriceErr
	}
	return new(big.Int).Set(f.GasPrice), nil
}

func (f *FakeNode) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	f.EstimateCalls = append(f.EstimateCalls, call.Data)
	f.mu.Unlock()
	if f.EstimateErr != nil {
		return 0, f.EstimateErr
	}
	return f.Gas, nil
}

func (f *FakeNode) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.Nonce
	f.Nonce++
	return n, nil
}

func (f *FakeNode) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.SendErr != nil {
		return f.SendErr
	}
	f.mu.Lock()
	f.SentTxs = append(f.SentTxs, tx)
	f.mu.Unlock()
	return nil
}

func (f *FakeNode) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if f.SubscribeErr != nil {
		return nil, f.SubscribeErr
	}
	f.mu.Lock()
	f.LogSink = ch
	f.mu.Unlock()
	return f.Sub, nil
}

// Emit pushes a raw log into the active subscription.
func (f *FakeNode) Emit(lg types.Log) {
	f.mu.Lock()
	sink := f.LogSink
	f.mu.Unlock()
	sink <- lg
}

// ============================================================================
// FakeSubscription
// ============================================================================

// FakeSubscription implements ethereum.Subscription for driving the
// demultiplexer without a node.
type FakeSubscription struct {
	errCh        chan error
	mu           sync.Mutex
	unsubscribed bool
}

var _ ethereum.Subscription = (*FakeSubscription)(nil)

func NewFakeSubscription() *FakeSubscription {
	return &FakeSubscription{errCh: make(chan error, 1)}
}

func (s *FakeSubscription) Err() <-chan error {
	return s.errCh
}

func (s *FakeSubscription) Unsubscribe() {
	s.mu.Lock()
	s.unsubscribed = true
	s.mu.Unlock()
}

// Unsubscribed reports whether Unsubscribe was called.
func (s *FakeSubscription) Unsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

// Fail injects a transport failure, as a dropped websocket would.
func (s *FakeSubscription) Fail(err error) {
	s.errCh <- err
}

// ============================================================================
// Log builders
// ============================================================================

func accountTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

// DepositLog builds a well-formed Deposit event log.
func DepositLog(account common.Address, newBalance *big.Int, height uint64) types.Log {
	return types.Log{
		Address:     BankAddr,
		Topics:      []common.Hash{event.DepositSig, accountTopic(account)},
		Data:        Uint256Bytes(newBalance),
		BlockNumber: height,
	}
}

// WithdrawLog builds a well-formed Withdraw event log.
func WithdrawLog(account common.Address, released, timestamp, interest *big.Int, height uint64) types.Log {
	data := append(Uint256Bytes(released), Uint256Bytes(timestamp)...)
	data = append(data, Uint256Bytes(interest)...)
	return types.Log{
		Address:     BankAddr,
		Topics:      []common.Hash{event.WithdrawSig, accountTopic(account)},
		Data:        data,
		BlockNumber: height,
	}
}

// BorrowLog builds a well-formed Borrow event log.
func BorrowLog(account common.Address, collateral, minted *big.Int, height uint64) types.Log {
	return types.Log{
		Address:     BankAddr,
		Topics:      []common.Hash{event.BorrowSig, accountTopic(account)},
		Data:        append(Uint256Bytes(collateral), Uint256Bytes(minted)...),
		BlockNumber: height,
	}
}

// PayOffLog builds a well-formed PayOff event log.
func PayOffLog(account common.Address, fee *big.Int, height uint64) types.Log {
	return types.Log{
		Address:     BankAddr,
		Topics:      []common.Hash{event.PayOffSig, accountTopic(account)},
		Data:        Uint256Bytes(fee),
		BlockNumber: height,
	}
}

// ApprovalLog builds a well-formed token Approval event log.
func ApprovalLog(owner, spender common.Address, amount *big.Int, height uint64) types.Log {
	return types.Log{
		Address:     TokenAddr,
		Topics:      []common.Hash{event.ApprovalSig, accountTopic(owner), accountTopic(spender)},
		Data:        Uint256Bytes(amount),
		BlockNumber: height,
	}
}
