package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerEvent is the interface all decoded contract events implement.
// EmittingHeight is the ordering and dedup key for the whole engine.
type LedgerEvent interface {
	// Topic returns the discriminator
	Topic() Topic

	// EmittingHeight returns the block height the event was emitted at
	EmittingHeight() uint64

	// SubjectAccount returns the account the event is about
	SubjectAccount() common.Address
}

type Deposit struct {
	Account           common.Address
	NewDepositBalance *big.Int
	Height            uint64
}

func (e *Deposit) Topic() Topic                   { return TopicDeposit }
func (e *Deposit) EmittingHeight() uint64         { return e.Height }
func (e *Deposit) SubjectAccount() common.Address { return e.Account }

type Withdraw struct {
	Account          common.Address
	ReleasedBalance  *big.Int
	DepositTimestamp *big.Int
	Interest         *big.Int
	Height           uint64
}

func (e *Withdraw) Topic() Topic                   { return TopicWithdraw }
func (e *Withdraw) EmittingHeight() uint64         { return e.Height }
func (e *Withdraw) SubjectAccount() common.Address { return e.Account }

type Borrow struct {
	Account          common.Address
	CollateralLocked *big.Int
	TokensMinted     *big.Int
	Height           uint64
}

func (e *Borrow) Topic() Topic                   { return TopicBorrow }
func (e *Borrow) EmittingHeight() uint64         { return e.Height }
func (e *Borrow) SubjectAccount() common.Address { return e.Account }

// Approval is observed but mutates no facet. The subject is the owner,
// so the demux account gate applies to it like any other event.
type Approval struct {
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
	Height  uint64
}

func (e *Approval) Topic() Topic                   { return TopicApproval }
func (e *Approval) EmittingHeight() uint64         { return e.Height }
func (e *Approval) SubjectAccount() common.Address { return e.Owner }

type PayOff struct {
	Account common.Address
	Fee     *big.Int
	Height  uint64
}

func (e *PayOff) Topic() Topic                   { return TopicPayOff }
func (e *PayOff) EmittingHeight() uint64         { return e.Height }
func (e *PayOff) SubjectAccount() common.Address { return e.Account }
