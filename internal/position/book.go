package position

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"DbankSync/internal/event"
)

// ErrFacetBusy is returned when an optimistic transition is attempted
// while a previous submission for the same facet is still in flight.
var ErrFacetBusy = errors.New("facet busy: submission already in flight")

// facetState is the mutable per-facet record. Confirmed values are only
// ever superseded by data at a strictly greater ledger height.
type facetState struct {
	confirmed   *big.Int
	provisional *big.Int // nil when no submission is outstanding
	flag        bool
	height      uint64 // lastConfirmedHeight
	version     int64
}

// Book is the single owner of all four position facets. Mutations are
// serialized behind the mutex (producers: the event demultiplexer and the
// transaction submitter); reads go through an atomically republished
// immutable View so the presentation layer never sees a torn state.
type Book struct {
	mu      sync.Mutex
	account common.Address
	facets  [facetCount]facetState
	view    atomic.Pointer[View]
	log     zerolog.Logger
}

func NewBook(account common.Address, log zerolog.Logger) *Book {
	b := &Book{
		account: account,
		log:     log.With().Str("component", "position").Logger(),
	}
	for i := range b.facets {
		b.facets[i].confirmed = new(big.Int)
	}
	b.publishLocked()
	return b
}

// Account returns the tracked ledger address. Immutable for the Book's
// lifetime; switching accounts means building a fresh Book.
func (b *Book) Account() common.Address {
	return b.account
}

// Init sets a facet's authoritative starting point from the bootstrap
// snapshot, before any event or submission is accepted.
func (b *Book) Init(f Facet, confirmed *big.Int, flag bool, height uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := &b.facets[f]
	st.confirmed = clone(confirmed)
	st.provisional = nil
	st.flag = flag
	st.height = height
	st.version++
	b.publishLocked()
}

// ApplyOptimistic records a provisional projection for an in-flight
// submission. Rejected when a projection is already outstanding; the
// second submission must fail, not queue.
func (b *Book) ApplyOptimistic(f Facet, projected *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := &b.facets[f]
	if st.provisional != nil {
		return fmt.Errorf("%w: %s", ErrFacetBusy, f)
	}
	st.provisional = clone(projected)
	st.version++
	b.publishLocked()

	b.log.Debug().Stringer("facet", f).Str("projected", projected.String()).
		Msg("optimistic transition applied")
	return nil
}

// RevertOptimistic clears the provisional projection without touching the
// confirmed value. Used when a submission is rejected or dropped before
// any confirming event arrives.
func (b *Book) RevertOptimistic(f Facet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := &b.facets[f]
	if st.provisional == nil {
		return
	}
	st.provisional = nil
	st.version++
	b.publishLocked()

	b.log.Debug().Stringer("facet", f).Msg("optimistic transition reverted")
}

// ApplyConfirmed installs an authoritative value for a facet. The height
// guard makes replays and reordered events no-ops: only data from a block
// strictly above the facet's lastConfirmedHeight is accepted. A pending
// provisional value is cleared regardless of whether it matched; the
// optimistic guess is superseded by truth.
func (b *Book) ApplyConfirmed(f Facet, value *big.Int, flag bool, height uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.applyConfirmedLocked(f, value, flag, height) {
		return false
	}
	b.publishLocked()
	return true
}

func (b *Book) applyConfirmedLocked(f Facet, value *big.Int, flag bool, height uint64) bool {
	st := &b.facets[f]
	if height <= st.height {
		return false
	}
	st.confirmed = clone(value)
	st.provisional = nil
	st.flag = flag
	st.height = height
	st.version++
	return true
}

// Busy reports whether a submission is outstanding for the facet.
func (b *Book) Busy(f Facet) bool {
	return b.view.Load().Facets[f].Busy
}

// Confirmed returns a copy of the facet's last confirmed value.
func (b *Book) Confirmed(f Facet) *big.Int {
	return clone(b.view.Load().Facets[f].Confirmed)
}

// Snapshot returns the current immutable observable view. Lock-free;
// a momentary stale read is fine, a torn one is impossible.
func (b *Book) Snapshot() *View {
	return b.view.Load()
}

// --- Event application ---
//
// Each confirmed contract event also implies a derived wallet delta,
// computed from the event payload rather than re-queried: the balance
// query is asynchronous and would race the event stream. The facet write
// and the wallet write happen under one lock hold and publish one view.

// ApplyDeposit folds a confirmed Deposit event: the deposit facet takes
// the new balance and the wallet gives up the same amount.
func (b *Book) ApplyDeposit(ev *event.Deposit) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.applyConfirmedLocked(FacetDeposit, ev.NewDepositBalance, true, ev.Height) {
		return false
	}
	b.adjustWalletLocked(new(big.Int).Neg(ev.NewDepositBalance), ev.Height)
	b.publishLocked()
	return true
}

// ApplyWithdraw folds a confirmed Withdraw event: deposit closes, the
// released balance returns to the wallet.
func (b *Book) ApplyWithdraw(ev *event.Withdraw) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.applyConfirmedLocked(FacetDeposit, new(big.Int), false, ev.Height) {
		return false
	}
	b.adjustWalletLocked(ev.ReleasedBalance, ev.Height)
	b.publishLocked()
	return true
}

// ApplyBorrow folds a confirmed Borrow event: the borrow facet records the
// locked collateral and the wallet gives it up.
func (b *Book) ApplyBorrow(ev *event.Borrow) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.applyConfirmedLocked(FacetBorrow, ev.CollateralLocked, true, ev.Height) {
		return false
	}
	b.adjustWalletLocked(new(big.Int).Neg(ev.CollateralLocked), ev.Height)
	b.publishLocked()
	return true
}

// ApplyPayOff folds a confirmed PayOff event. The payload carries only the
// fee, so the released collateral is derived from the borrow facet's
// confirmed value before it is zeroed.
func (b *Book) ApplyPayOff(ev *event.PayOff) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.Height <= b.facets[FacetPayOff].height || ev.Height <= b.facets[FacetBorrow].height {
		return false
	}

	released := new(big.Int).Sub(b.facets[FacetBorrow].confirmed, ev.Fee)
	if released.Sign() < 0 {
		b.log.Warn().Str("fee", ev.Fee.String()).
			Str("collateral", b.facets[FacetBorrow].confirmed.String()).
			Msg("payoff fee exceeds confirmed collateral, clamping release to zero")
		released.SetInt64(0)
	}

	b.applyConfirmedLocked(FacetBorrow, new(big.Int), false, ev.Height)
	b.applyConfirmedLocked(FacetPayOff, ev.Fee, true, ev.Height)
	b.adjustWalletLocked(released, ev.Height)
	b.publishLocked()
	return true
}

// adjustWalletLocked applies a derived delta to the wallet facet.
// Never below zero: a snapshot taken mid-flight can be smaller than the
// event-derived delta, and a negative wallet is meaningless.
func (b *Book) adjustWalletLocked(delta *big.Int, height uint64) {
	st := &b.facets[FacetWallet]
	next := new(big.Int).Add(st.confirmed, delta)
	if next.Sign() < 0 {
		b.log.Warn().Str("wallet", st.confirmed.String()).Str("delta", delta.String()).
			Msg("derived wallet delta underflows, clamping to zero")
		next.SetInt64(0)
	}
	st.confirmed = next
	st.provisional = nil
	if height > st.height {
		st.height = height
	}
	st.version++
}

// publishLocked rebuilds and swaps in the immutable view. Caller holds mu.
func (b *Book) publishLocked() {
	v := &View{Account: b.account}
	for i := range b.facets {
		st := &b.facets[i]
		fv := FacetView{
			Confirmed:           clone(st.confirmed),
			Flag:                st.flag,
			Busy:                st.provisional != nil,
			LastConfirmedHeight: st.height,
		}
		if st.provisional != nil {
			fv.Provisional = clone(st.provisional)
			fv.DisplayValue = clone(st.provisional)
		} else {
			fv.DisplayValue = clone(st.confirmed)
		}
		v.Facets[i] = fv
	}
	b.view.Store(v)
}

func clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
