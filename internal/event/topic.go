package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Topic discriminator for ledger event payloads
type Topic int32

const (
	TopicUnknown Topic = iota
	TopicDeposit
	TopicWithdraw
	TopicBorrow
	TopicApproval
	TopicPayOff
)

// Event signatures emitted by the bank and token contracts.
// Topic hash = keccak256(event signature).
var (
	// Deposit(address indexed user, uint256 newDepositBalance)
	DepositSig = crypto.Keccak256Hash([]byte("Deposit(address,uint256)"))

	// Withdraw(address indexed user, uint256 releasedBalance, uint256 depositTimestamp, uint256 interest)
	WithdrawSig = crypto.Keccak256Hash([]byte("Withdraw(address,uint256,uint256,uint256)"))

	// Borrow(address indexed user, uint256 collateralLocked, uint256 tokensMinted)
	BorrowSig = crypto.Keccak256Hash([]byte("Borrow(address,uint256,uint256)"))

	// Approval(address indexed owner, address indexed spender, uint256 amount)
	ApprovalSig = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))

	// PayOff(address indexed user, uint256 fee)
	PayOffSig = crypto.Keccak256Hash([]byte("PayOff(address,uint256)"))
)

// AllSignatures returns every topic hash the engine subscribes to,
// in the shape ethereum.FilterQuery expects for a single topic position.
func AllSignatures() [][]common.Hash {
	return [][]common.Hash{{
		DepositSig,
		WithdrawSig,
		BorrowSig,
		ApprovalSig,
		PayOffSig,
	}}
}

func (t Topic) String() string {
	switch t {
	case TopicDeposit:
		return "Deposit"
	case TopicWithdraw:
		return "Withdraw"
	case TopicBorrow:
		return "Borrow"
	case TopicApproval:
		return "Approval"
	case TopicPayOff:
		return "PayOff"
	default:
		return "Unknown"
	}
}
