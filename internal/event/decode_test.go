package event_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"DbankSync/internal/event"
	"DbankSync/internal/testutil"
)

func TestDecode_Deposit(t *testing.T) {
	lg := testutil.DepositLog(testutil.TestAccount, big.NewInt(40), 105)

	ev, err := event.Decode(lg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	dep, ok := ev.(*event.Deposit)
	if !ok {
		t.Fatalf("got %T, want *event.Deposit", ev)
	}
	if dep.Account != testutil.TestAccount {
		t.Errorf("account: got %s, want %s", dep.Account.Hex(), testutil.TestAccount.Hex())
	}
	if dep.NewDepositBalance.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("balance: got %s, want 40", dep.NewDepositBalance)
	}
	if dep.EmittingHeight() != 105 {
		t.Errorf("height: got %d, want 105", dep.EmittingHeight())
	}
	if dep.Topic() != event.TopicDeposit {
		t.Errorf("topic: got %s, want Deposit", dep.Topic())
	}
}

func TestDecode_Withdraw(t *testing.T) {
	lg := testutil.WithdrawLog(testutil.TestAccount,
		big.NewInt(42), big.NewInt(1_700_000_000), big.NewInt(2), 110)

	ev, err := event.Decode(lg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	wd, ok := ev.(*event.Withdraw)
	if !ok {
		t.Fatalf("got %T, want *event.Withdraw", ev)
	}
	if wd.ReleasedBalance.Cmp(big.NewInt(42)) != 0 {
		t.Errorf("released: got %s, want 42", wd.ReleasedBalance)
	}
	if wd.DepositTimestamp.Cmp(big.NewInt(1_700_000_000)) != 0 {
		t.Errorf("timestamp: got %s", wd.DepositTimestamp)
	}
	if wd.Interest.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("interest: got %s, want 2", wd.Interest)
	}
}

func TestDecode_Borrow(t *testing.T) {
	lg := testutil.BorrowLog(testutil.TestAccount, big.NewInt(50), big.NewInt(25), 107)

	ev, err := event.Decode(lg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	bw, ok := ev.(*event.Borrow)
	if !ok {
		t.Fatalf("got %T, want *event.Borrow", ev)
	}
	if bw.CollateralLocked.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("collateral: got %s, want 50", bw.CollateralLocked)
	}
	if bw.TokensMinted.Cmp(big.NewInt(25)) != 0 {
		t.Errorf("minted: got %s, want 25", bw.TokensMinted)
	}
}

func TestDecode_PayOff(t *testing.T) {
	lg := testutil.PayOffLog(testutil.TestAccount, big.NewInt(5), 112)

	ev, err := event.Decode(lg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	po, ok := ev.(*event.PayOff)
	if !ok {
		t.Fatalf("got %T, want *event.PayOff", ev)
	}
	if po.Fee.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("fee: got %s, want 5", po.Fee)
	}
}

func TestDecode_Approval(t *testing.T) {
	lg := testutil.ApprovalLog(testutil.TestAccount, testutil.BankAddr, big.NewInt(25), 111)

	ev, err := event.Decode(lg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	ap, ok := ev.(*event.Approval)
	if !ok {
		t.Fatalf("got %T, want *event.Approval", ev)
	}
	if ap.Owner != testutil.TestAccount {
		t.Errorf("owner: got %s", ap.Owner.Hex())
	}
	if ap.Spender != testutil.BankAddr {
		t.Errorf("spender: got %s", ap.Spender.Hex())
	}
	// The subject is the owner: approvals emitted for other accounts'
	// payoffs must be filterable by it.
	if ap.SubjectAccount() != testutil.TestAccount {
		t.Errorf("subject: got %s", ap.SubjectAccount().Hex())
	}
}

func TestDecode_UnknownTopic(t *testing.T) {
	lg := types.Log{
		Topics:      []common.Hash{common.HexToHash("0xdeadbeef")},
		BlockNumber: 100,
	}
	_, err := event.Decode(lg)
	if !errors.Is(err, event.ErrUnknownTopic) {
		t.Errorf("got %v, want ErrUnknownTopic", err)
	}
}

func TestDecode_NoTopics(t *testing.T) {
	_, err := event.Decode(types.Log{})
	if !errors.Is(err, event.ErrUnknownTopic) {
		t.Errorf("got %v, want ErrUnknownTopic", err)
	}
}

func TestDecode_TruncatedData(t *testing.T) {
	lg := testutil.WithdrawLog(testutil.TestAccount,
		big.NewInt(42), big.NewInt(1), big.NewInt(2), 110)
	lg.Data = lg.Data[:40] // chop the second and third words

	if _, err := event.Decode(lg); err == nil {
		t.Error("truncated data should fail to decode")
	}
}

func TestAllSignatures_CoversEveryTopic(t *testing.T) {
	sigs := event.AllSignatures()
	if len(sigs) != 1 {
		t.Fatalf("filter topic dimensions: got %d, want 1", len(sigs))
	}
	if len(sigs[0]) != 5 {
		t.Errorf("subscribed signatures: got %d, want 5", len(sigs[0]))
	}
}
