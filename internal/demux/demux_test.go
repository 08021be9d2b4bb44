package demux_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"DbankSync/internal/demux"
	"DbankSync/internal/position"
	"DbankSync/internal/testutil"
)

// harness runs a Demux over plain channels and tears it down with the test.
type harness struct {
	book *position.Book
	dmx  *demux.Demux
	logs chan types.Log
	sub  *testutil.FakeSubscription
	errs chan error
	done chan struct{}
	stop context.CancelFunc
}

func startDemux(t *testing.T, baselineHeight uint64) *harness {
	t.Helper()

	book := position.NewBook(testutil.TestAccount, zerolog.Nop())
	book.Init(position.FacetWallet, big.NewInt(100), false, baselineHeight)

	h := &harness{
		book: book,
		dmx:  demux.New(testutil.TestAccount, baselineHeight, book, zerolog.Nop(), nil),
		logs: make(chan types.Log, 16),
		sub:  testutil.NewFakeSubscription(),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.stop = cancel
	go func() {
		h.errs <- h.dmx.Run(ctx, h.logs, h.sub)
		close(h.done)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("demux did not stop")
		}
	})
	return h
}

// waitHeight blocks until the watermark reaches want.
func (h *harness) waitHeight(t *testing.T, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.dmx.LastProcessedHeight() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("watermark stuck at %d, want %d", h.dmx.LastProcessedHeight(), want)
}

// ============================================================================
// Test: dispatch and the height gate
// ============================================================================

func TestDemux_AppliesDeposit(t *testing.T) {
	h := startDemux(t, 100)

	h.logs <- testutil.DepositLog(testutil.TestAccount, big.NewInt(40), 105)
	h.waitHeight(t, 105)

	fv := h.book.Snapshot().Facet(position.FacetDeposit)
	if fv.Confirmed.Cmp(big.NewInt(40)) != 0 || !fv.Flag {
		t.Errorf("deposit facet: got %s/%v, want 40/true", fv.Confirmed, fv.Flag)
	}
	if got := h.book.Snapshot().WalletBalance(); got.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("wallet: got %s, want 60", got)
	}
}

func TestDemux_StaleHeightDiscarded(t *testing.T) {
	h := startDemux(t, 100)

	// At and below the baseline: both swallowed without touching state.
	h.logs <- testutil.DepositLog(testutil.TestAccount, big.NewInt(99), 95)
	h.logs <- testutil.DepositLog(testutil.TestAccount, big.NewInt(99), 100)
	// A later valid one proves the earlier two were consumed.
	h.logs <- testutil.DepositLog(testutil.TestAccount, big.NewInt(40), 105)
	h.waitHeight(t, 105)

	fv := h.book.Snapshot().Facet(position.FacetDeposit)
	if fv.Confirmed.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("deposit: got %s, want 40 from the height-105 event only", fv.Confirmed)
	}
}

func TestDemux_DuplicateDelivery(t *testing.T) {
	h := startDemux(t, 100)

	lg := testutil.DepositLog(testutil.TestAccount, big.NewInt(40), 105)
	h.logs <- lg
	h.logs <- lg // redelivered
	h.logs <- testutil.BorrowLog(testutil.TestAccount, big.NewInt(10), big.NewInt(5), 106)
	h.waitHeight(t, 106)

	// Wallet 100 - 40 (once) - 10 = 50. A double-applied deposit would
	// leave 10.
	if got := h.book.Snapshot().WalletBalance(); got.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("wallet: got %s, want 50", got)
	}
}

func TestDemux_ForeignAccountIgnored(t *testing.T) {
	h := startDemux(t, 100)

	h.logs <- testutil.DepositLog(testutil.OtherParty, big.NewInt(77), 104)
	h.logs <- testutil.DepositLog(testutil.TestAccount, big.NewInt(40), 105)
	h.waitHeight(t, 105)

	fv := h.book.Snapshot().Facet(position.FacetDeposit)
	if fv.Confirmed.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("deposit: got %s, foreign event must not apply", fv.Confirmed)
	}
}

func TestDemux_RemovedLogIgnored(t *testing.T) {
	h := startDemux(t, 100)

	removed := testutil.DepositLog(testutil.TestAccount, big.NewInt(99), 104)
	removed.Removed = true
	h.logs <- removed
	h.logs <- testutil.BorrowLog(testutil.TestAccount, big.NewInt(10), big.NewInt(5), 105)
	h.waitHeight(t, 105)

	fv := h.book.Snapshot().Facet(position.FacetDeposit)
	if fv.Confirmed.Sign() != 0 {
		t.Errorf("deposit: got %s, reorged-out event must not apply", fv.Confirmed)
	}
}

func TestDemux_UndecodableLogIgnored(t *testing.T) {
	h := startDemux(t, 100)

	bad := testutil.DepositLog(testutil.TestAccount, big.NewInt(40), 104)
	bad.Data = bad.Data[:8]
	h.logs <- bad
	h.logs <- testutil.DepositLog(testutil.TestAccount, big.NewInt(40), 105)
	h.waitHeight(t, 105)
}

func TestDemux_ApprovalAdvancesWatermark(t *testing.T) {
	h := startDemux(t, 100)

	h.logs <- testutil.ApprovalLog(testutil.TestAccount, testutil.BankAddr, big.NewInt(25), 103)
	h.waitHeight(t, 103)

	// No facet changes, only the watermark.
	v := h.book.Snapshot()
	if got := v.WalletBalance(); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("wallet: got %s, want untouched 100", got)
	}
}

func TestDemux_FullLifecycle(t *testing.T) {
	h := startDemux(t, 100)

	h.logs <- testutil.DepositLog(testutil.TestAccount, big.NewInt(40), 105)
	h.logs <- testutil.BorrowLog(testutil.TestAccount, big.NewInt(50), big.NewInt(25), 107)
	h.logs <- testutil.WithdrawLog(testutil.TestAccount, big.NewInt(42), big.NewInt(1), big.NewInt(2), 110)
	h.logs <- testutil.PayOffLog(testutil.TestAccount, big.NewInt(5), 112)
	h.waitHeight(t, 112)

	v := h.book.Snapshot()
	// 100 - 40 - 50 + 42 + (50 - 5) = 97
	if got := v.WalletBalance(); got.Cmp(big.NewInt(97)) != 0 {
		t.Errorf("wallet after full lifecycle: got %s, want 97", got)
	}
	if fv := v.Facet(position.FacetDeposit); fv.Flag || fv.Confirmed.Sign() != 0 {
		t.Error("deposit should be closed")
	}
	if fv := v.Facet(position.FacetBorrow); fv.Flag || fv.Confirmed.Sign() != 0 {
		t.Error("borrow should be closed")
	}
	if fv := v.Facet(position.FacetPayOff); !fv.Flag || fv.Confirmed.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("payoff facet: got %s/%v, want 5/true", fv.Confirmed, fv.Flag)
	}
}

// ============================================================================
// Test: stream failure
// ============================================================================

func TestDemux_StreamFailure(t *testing.T) {
	h := startDemux(t, 100)

	h.logs <- testutil.DepositLog(testutil.TestAccount, big.NewInt(40), 105)
	h.waitHeight(t, 105)

	h.sub.Fail(errors.New("websocket closed"))

	select {
	case err := <-h.errs:
		if !errors.Is(err, demux.ErrStreamInterrupted) {
			t.Errorf("got %v, want ErrStreamInterrupted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("demux did not report the stream failure")
	}

	if !h.sub.Unsubscribed() {
		t.Error("subscription should be released on exit")
	}

	// State frozen at the last confirmed values.
	fv := h.book.Snapshot().Facet(position.FacetDeposit)
	if fv.Confirmed.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("deposit: got %s, want frozen 40", fv.Confirmed)
	}
}
