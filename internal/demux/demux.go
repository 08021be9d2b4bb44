package demux

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"DbankSync/internal/event"
	"DbankSync/internal/observability"
	"DbankSync/internal/position"
)

// ErrStreamInterrupted is returned when the event subscription fails.
// The engine does not resubscribe: observable state freezes at the last
// confirmed values and readiness is withdrawn.
var ErrStreamInterrupted = errors.New("event stream interrupted")

// Demux consumes the live log feed and folds each relevant event into the
// position Book exactly once. The height gate (discard anything at or
// below lastProcessedHeight) is the sole defense against duplicate and
// reordered delivery, and applies uniformly to every topic.
type Demux struct {
	account             common.Address
	book                *position.Book
	lastProcessedHeight atomic.Uint64
	log                 zerolog.Logger
	metrics             *observability.Metrics
}

func New(account common.Address, baselineHeight uint64, book *position.Book, log zerolog.Logger, metrics *observability.Metrics) *Demux {
	d := &Demux{
		account: account,
		book:    book,
		log:     log.With().Str("component", "demux").Logger(),
		metrics: metrics,
	}
	d.lastProcessedHeight.Store(baselineHeight)
	return d
}

// LastProcessedHeight returns the highest height folded so far.
func (d *Demux) LastProcessedHeight() uint64 {
	return d.lastProcessedHeight.Load()
}

// Run consumes the subscription until the context is cancelled or the
// stream fails. Returns nil on cancellation, ErrStreamInterrupted on
// stream failure.
func (d *Demux) Run(ctx context.Context, logs <-chan types.Log, sub ethereum.Subscription) error {
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("event consumption stopped")
			return nil

		case err := <-sub.Err():
			if d.metrics != nil {
				d.metrics.StreamInterruptions.Inc()
			}
			d.log.Error().Err(err).
				Uint64("last_processed_height", d.lastProcessedHeight.Load()).
				Msg("subscription failed, state frozen at last confirmed values")
			return fmt.Errorf("%w: %v", ErrStreamInterrupted, err)

		case lg := <-logs:
			d.process(lg)
		}
	}
}

// process applies the two discard gates and dispatches by topic. The two
// discard paths are by design, not failures.
func (d *Demux) process(lg types.Log) {
	if lg.Removed {
		// Reorged-out log. Never fold state from a block the ledger
		// itself withdrew.
		d.metrics.RecordDiscard("removed")
		return
	}

	last := d.lastProcessedHeight.Load()
	if lg.BlockNumber <= last {
		d.metrics.RecordDiscard("stale")
		d.log.Debug().Uint64("height", lg.BlockNumber).Uint64("last", last).
			Msg("discarding event at or below last processed height")
		return
	}

	ev, err := event.Decode(lg)
	if err != nil {
		d.metrics.RecordDiscard("undecodable")
		d.log.Warn().Err(err).Uint64("height", lg.BlockNumber).Msg("discarding undecodable log")
		return
	}

	if ev.SubjectAccount() != d.account {
		d.metrics.RecordDiscard("foreign")
		return
	}

	d.dispatch(ev)

	if ev.EmittingHeight() > last {
		d.lastProcessedHeight.Store(ev.EmittingHeight())
	}
	if d.metrics != nil {
		d.metrics.LastProcessedHeight.Set(float64(d.lastProcessedHeight.Load()))
	}
}

func (d *Demux) dispatch(ev event.LedgerEvent) {
	var applied bool

	switch e := ev.(type) {
	case *event.Deposit:
		applied = d.book.ApplyDeposit(e)
	case *event.Withdraw:
		applied = d.book.ApplyWithdraw(e)
	case *event.Borrow:
		applied = d.book.ApplyBorrow(e)
	case *event.PayOff:
		applied = d.book.ApplyPayOff(e)
	case *event.Approval:
		// Observed but not state-mutating for any facet.
		d.log.Debug().
			Str("spender", e.Spender.Hex()).
			Str("amount", e.Amount.String()).
			Uint64("height", e.Height).
			Msg("approval observed")
		applied = true
	default:
		d.metrics.RecordDiscard("unhandled")
		return
	}

	if !applied {
		// Passed the height gate but lost against a facet's own
		// lastConfirmedHeight; superseded, not an error.
		d.metrics.RecordDiscard("superseded")
		return
	}

	if d.metrics != nil {
		d.metrics.EventsApplied.WithLabelValues(ev.Topic().String()).Inc()
	}
	d.log.Info().
		Stringer("topic", ev.Topic()).
		Uint64("height", ev.EmittingHeight()).
		Msg("confirmed event applied")
}
