package submit

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"DbankSync/internal/gateway"
	"DbankSync/internal/observability"
	"DbankSync/internal/position"
)

var (
	// ErrEstimationFailed means the node's gas estimation predicts the
	// call would be rejected by contract logic. Nothing was mutated.
	ErrEstimationFailed = errors.New("gas estimation failed")

	// ErrSubmissionRejected means the node (or the signer) declined the
	// signed call. The optimistic projection has been reverted.
	ErrSubmissionRejected = errors.New("submission rejected")
)

// Submitter wraps state-changing requests: pessimistic per-facet
// exclusivity, gas estimation as the validation layer, an optimistic
// local projection, and immediate return after the node accepts the
// call. "Accepted" is not "effective": the confirming event arrives
// later through the demultiplexer, or never.
type Submitter struct {
	gw      *gateway.Gateway
	book    *position.Book
	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(gw *gateway.Gateway, book *position.Book, log zerolog.Logger, metrics *observability.Metrics) *Submitter {
	return &Submitter{
		gw:      gw,
		book:    book,
		log:     log.With().Str("component", "submit").Logger(),
		metrics: metrics,
	}
}

// Deposit locks amount wei into the bank contract. The optimistic
// projection adds the amount to the confirmed deposit balance.
func (s *Submitter) Deposit(ctx context.Context, amount *big.Int) (*Request, error) {
	projected := new(big.Int).Add(s.book.Confirmed(position.FacetDeposit), amount)
	return s.submitBankCall(ctx, position.FacetDeposit, OpDeposit, amount, amount,
		s.gw.DepositCallData(), projected)
}

// Withdraw releases the open deposit plus interest. The optimistic
// projection zeroes the deposit balance.
func (s *Submitter) Withdraw(ctx context.Context) (*Request, error) {
	return s.submitBankCall(ctx, position.FacetDeposit, OpWithdraw, nil, nil,
		s.gw.WithdrawCallData(), new(big.Int))
}

// Borrow locks collateral wei and mints tokens against it. The
// optimistic projection records the collateral on the borrow facet.
func (s *Submitter) Borrow(ctx context.Context, collateral *big.Int) (*Request, error) {
	return s.submitBankCall(ctx, position.FacetBorrow, OpBorrow, collateral, collateral,
		s.gw.BorrowCallData(), new(big.Int).Set(collateral))
}

// submitBankCall runs the common pipeline against the bank contract.
// value is the attached wei (nil for non-payable calls), amount is the
// user-facing figure recorded on the request.
func (s *Submitter) submitBankCall(ctx context.Context, facet position.Facet, op Operation, amount, value *big.Int, data []byte, projected *big.Int) (*Request, error) {
	if s.book.Busy(facet) {
		s.metrics.RecordSubmission(facet.String(), "busy")
		return nil, fmt.Errorf("%w: %s", position.ErrFacetBusy, facet)
	}

	if amount == nil {
		amount = new(big.Int)
	}
	req := &Request{
		ID:     uuid.New(),
		Facet:  facet,
		Op:     op,
		Amount: amount,
		State:  StateCreated,
	}

	gas, err := s.gw.EstimateCall(ctx, s.gw.BankAddress(), value, data)
	if err != nil {
		s.metrics.RecordSubmission(facet.String(), "estimation_failed")
		return nil, fmt.Errorf("%w: %s: %v", ErrEstimationFailed, op, err)
	}
	gasPrice, err := s.gw.SuggestGasPrice(ctx)
	if err != nil {
		s.metrics.RecordSubmission(facet.String(), "estimation_failed")
		return nil, fmt.Errorf("%w: %s: %v", ErrEstimationFailed, op, err)
	}
	req.EstimatedGas = gas
	req.GasPrice = gasPrice
	req.State = StateGasEstimated

	if err := s.book.ApplyOptimistic(facet, projected); err != nil {
		s.metrics.RecordSubmission(facet.String(), "busy")
		return nil, err
	}

	hash, err := s.gw.SubmitCall(ctx, s.gw.BankAddress(), value, data, gas, gasPrice)
	if err != nil {
		s.book.RevertOptimistic(facet)
		s.metrics.RecordSubmission(facet.String(), "rejected")
		req.State = StateRejected
		return nil, fmt.Errorf("%w: %s: %v", ErrSubmissionRejected, op, err)
	}
	req.TxHash = hash
	req.State = StateSubmitted

	s.metrics.RecordSubmission(facet.String(), "submitted")
	s.log.Info().
		Str("request_id", req.ID.String()).
		Str("op", string(op)).
		Str("tx_hash", hash.Hex()).
		Uint64("gas", gas).
		Msg("submission accepted for processing")

	return req, nil
}

// PayOff settles the open loan. The owed token amount is half of the
// currently confirmed collateral, computed once here and used for both
// the token approval and the payoff call, even if a Borrow event lands
// mid-flight and makes it stale. Narrow race window, accepted and kept
// observable through the log line below.
func (s *Submitter) PayOff(ctx context.Context) (*Request, error) {
	facet := position.FacetPayOff
	if s.book.Busy(facet) {
		s.metrics.RecordSubmission(facet.String(), "busy")
		return nil, fmt.Errorf("%w: %s", position.ErrFacetBusy, facet)
	}

	owed := new(big.Int).Div(s.book.Confirmed(position.FacetBorrow), big.NewInt(2))

	req := &Request{
		ID:     uuid.New(),
		Facet:  facet,
		Op:     OpPayOff,
		Amount: owed,
		State:  StateCreated,
	}

	approveData := s.gw.ApproveCallData(s.gw.BankAddress(), owed)
	approveGas, err := s.gw.EstimateCall(ctx, s.gw.TokenAddress(), nil, approveData)
	if err != nil {
		s.metrics.RecordSubmission(facet.String(), "estimation_failed")
		return nil, fmt.Errorf("%w: approve: %v", ErrEstimationFailed, err)
	}

	// One gas price for both steps, fetched once like the amount.
	gasPrice, err := s.gw.SuggestGasPrice(ctx)
	if err != nil {
		s.metrics.RecordSubmission(facet.String(), "estimation_failed")
		return nil, fmt.Errorf("%w: gas price: %v", ErrEstimationFailed, err)
	}
	req.GasPrice = gasPrice
	req.State = StateGasEstimated

	if err := s.book.ApplyOptimistic(facet, owed); err != nil {
		s.metrics.RecordSubmission(facet.String(), "busy")
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID.String()).
		Str("owed", owed.String()).
		Msg("payoff amount pinned from confirmed collateral")

	if _, err := s.gw.SubmitCall(ctx, s.gw.TokenAddress(), nil, approveData, approveGas, gasPrice); err != nil {
		s.book.RevertOptimistic(facet)
		s.metrics.RecordSubmission(facet.String(), "rejected")
		req.State = StateRejected
		return nil, fmt.Errorf("%w: approve: %v", ErrSubmissionRejected, err)
	}

	payOffData := s.gw.PayOffCallData()
	payOffGas, err := s.gw.EstimateCall(ctx, s.gw.BankAddress(), nil, payOffData)
	if err != nil {
		s.book.RevertOptimistic(facet)
		s.metrics.RecordSubmission(facet.String(), "estimation_failed")
		return nil, fmt.Errorf("%w: payOff: %v", ErrEstimationFailed, err)
	}
	req.EstimatedGas = payOffGas

	hash, err := s.gw.SubmitCall(ctx, s.gw.BankAddress(), nil, payOffData, payOffGas, gasPrice)
	if err != nil {
		s.book.RevertOptimistic(facet)
		s.metrics.RecordSubmission(facet.String(), "rejected")
		req.State = StateRejected
		return nil, fmt.Errorf("%w: payOff: %v", ErrSubmissionRejected, err)
	}
	req.TxHash = hash
	req.State = StateSubmitted

	s.metrics.RecordSubmission(facet.String(), "submitted")
	s.log.Info().
		Str("request_id", req.ID.String()).
		Str("tx_hash", hash.Hex()).
		Msg("payoff accepted for processing")

	return req, nil
}
