package event

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrUnknownTopic = errors.New("unknown event topic")

const wordSize = 32

// Decode converts a raw node log into a typed ledger event.
// The subject account is always the first indexed argument; the
// remaining uint256 arguments live in the data section as 32-byte words.
func Decode(lg types.Log) (LedgerEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("%w: log without topics", ErrUnknownTopic)
	}

	switch lg.Topics[0] {
	case DepositSig:
		words, err := dataWords(lg, 1, 1)
		if err != nil {
			return nil, err
		}
		return &Deposit{
			Account:           topicAddress(lg.Topics[1]),
			NewDepositBalance: words[0],
			Height:            lg.BlockNumber,
		}, nil

	case WithdrawSig:
		words, err := dataWords(lg, 1, 3)
		if err != nil {
			return nil, err
		}
		return &Withdraw{
			Account:          topicAddress(lg.Topics[1]),
			ReleasedBalance:  words[0],
			DepositTimestamp: words[1],
			Interest:         words[2],
			Height:           lg.BlockNumber,
		}, nil

	case BorrowSig:
		words, err := dataWords(lg, 1, 2)
		if err != nil {
			return nil, err
		}
		return &Borrow{
			Account:          topicAddress(lg.Topics[1]),
			CollateralLocked: words[0],
			TokensMinted:     words[1],
			Height:           lg.BlockNumber,
		}, nil

	case ApprovalSig:
		words, err := dataWords(lg, 2, 1)
		if err != nil {
			return nil, err
		}
		return &Approval{
			Owner:   topicAddress(lg.Topics[1]),
			Spender: topicAddress(lg.Topics[2]),
			Amount:  words[0],
			Height:  lg.BlockNumber,
		}, nil

	case PayOffSig:
		words, err := dataWords(lg, 1, 1)
		if err != nil {
			return nil, err
		}
		return &PayOff{
			Account: topicAddress(lg.Topics[1]),
			Fee:     words[0],
			Height:  lg.BlockNumber,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, lg.Topics[0].Hex())
	}
}

// dataWords validates topic arity and splits the log data into uint256 words.
func dataWords(lg types.Log, indexed, wanted int) ([]*big.Int, error) {
	if len(lg.Topics) < indexed+1 {
		return nil, fmt.Errorf("malformed %s log: %d topics, want %d",
			lg.Topics[0].Hex(), len(lg.Topics), indexed+1)
	}
	if len(lg.Data) < wanted*wordSize {
		return nil, fmt.Errorf("malformed %s log: %d data bytes, want %d",
			lg.Topics[0].Hex(), len(lg.Data), wanted*wordSize)
	}

	words := make([]*big.Int, wanted)
	for i := 0; i < wanted; i++ {
		words[i] = new(big.Int).SetBytes(lg.Data[i*wordSize : (i+1)*wordSize])
	}
	return words, nil
}

func topicAddress(t common.Hash) common.Address {
	return common.BytesToAddress(t.Bytes())
}
