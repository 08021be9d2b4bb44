package submit

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"DbankSync/internal/position"
)

// Operation names a state-changing contract call.
type Operation string

const (
	OpDeposit  Operation = "deposit"
	OpWithdraw Operation = "withdraw"
	OpBorrow   Operation = "borrow"
	OpApprove  Operation = "approve"
	OpPayOff   Operation = "payOff"
)

// RequestState is the submission lifecycle as the Submitter sees it.
// Submitted is terminal here: whether the call ever takes effect is
// reported only by the confirming event through the demultiplexer, and
// is never tied back to the request.
type RequestState int32

const (
	StateCreated RequestState = iota
	StateGasEstimated
	StateSubmitted
	StateRejected
)

func (s RequestState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateGasEstimated:
		return "GasEstimated"
	case StateSubmitted:
		return "Submitted"
	case StateRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Request records one signed state-changing submission.
type Request struct {
	ID           uuid.UUID
	Facet        position.Facet
	Op           Operation
	Amount       *big.Int // nil for amount-less operations
	EstimatedGas uint64
	GasPrice     *big.Int
	TxHash       common.Hash
	State        RequestState
}
