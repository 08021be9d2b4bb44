package server

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"DbankSync/internal/engine"
	"DbankSync/internal/observability"
	"DbankSync/internal/position"
	"DbankSync/internal/submit"
)

// minSubmitAmount is the smallest accepted deposit or borrow amount,
// 0.01 ether in wei. The guard lives here so callers get a clean 400
// instead of burning a node round-trip on a doomed estimation.
var minSubmitAmount = new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)

// Server exposes the observable facet state and the submission
// operations over HTTP.
type Server struct {
	eng     *engine.Engine
	health  *observability.HealthChecker
	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(eng *engine.Engine, health *observability.HealthChecker, log zerolog.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		eng:     eng,
		health:  health,
		log:     log.With().Str("component", "server").Logger(),
		metrics: metrics,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.instrument("state", s.handleState))
		r.Get("/facets/{facet}", s.instrument("facet", s.handleFacet))
		r.Post("/deposit", s.instrument("deposit", s.handleDeposit))
		r.Post("/withdraw", s.instrument("withdraw", s.handleWithdraw))
		r.Post("/borrow", s.instrument("borrow", s.handleBorrow))
		r.Post("/payoff", s.instrument("payoff", s.handlePayOff))
	})

	return r
}

// instrument wraps a handler with request counting and latency
// observation per endpoint.
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next(ww, r)
		if s.metrics != nil {
			s.metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(ww.Status())).Inc()
			s.metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

// --- Wire types ---

// facetPayload renders one facet. Values are wei amounts serialized as
// decimal strings; JSON numbers cannot carry 256-bit integers.
type facetPayload struct {
	Confirmed           string  `json:"confirmed"`
	Provisional         *string `json:"provisional,omitempty"`
	DisplayValue        string  `json:"displayValue"`
	Flag                bool    `json:"flag"`
	Busy                bool    `json:"busy"`
	LastConfirmedHeight uint64  `json:"lastConfirmedHeight"`
}

type statePayload struct {
	Account             string       `json:"account"`
	NetworkMatches      bool         `json:"networkMatches"`
	Degraded            bool         `json:"degraded"`
	LastProcessedHeight uint64       `json:"lastProcessedHeight"`
	Wallet              facetPayload `json:"wallet"`
	Deposit             facetPayload `json:"deposit"`
	Borrow              facetPayload `json:"borrow"`
	PayOff              facetPayload `json:"payOff"`
}

type submitPayload struct {
	RequestID    string `json:"requestId"`
	Facet        string `json:"facet"`
	Operation    string `json:"operation"`
	Amount       string `json:"amount"`
	TxHash       string `json:"txHash"`
	EstimatedGas uint64 `json:"estimatedGas"`
	GasPrice     string `json:"gasPrice"`
	State        string `json:"state"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func renderFacet(fv position.FacetView) facetPayload {
	p := facetPayload{
		Confirmed:           fv.Confirmed.String(),
		DisplayValue:        fv.DisplayValue.String(),
		Flag:                fv.Flag,
		Busy:                fv.Busy,
		LastConfirmedHeight: fv.LastConfirmedHeight,
	}
	if fv.Provisional != nil {
		s := fv.Provisional.String()
		p.Provisional = &s
	}
	return p
}

func renderRequest(req *submit.Request) submitPayload {
	return submitPayload{
		RequestID:    req.ID.String(),
		Facet:        req.Facet.String(),
		Operation:    string(req.Op),
		Amount:       req.Amount.String(),
		TxHash:       req.TxHash.Hex(),
		EstimatedGas: req.EstimatedGas,
		GasPrice:     req.GasPrice.String(),
		State:        req.State.String(),
	}
}

// --- Handlers ---

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	view, err := s.eng.State()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statePayload{
		Account:             view.Account.Hex(),
		NetworkMatches:      s.eng.NetworkMatches(),
		Degraded:            s.eng.Degraded(),
		LastProcessedHeight: s.eng.LastProcessedHeight(),
		Wallet:              renderFacet(view.Facet(position.FacetWallet)),
		Deposit:             renderFacet(view.Facet(position.FacetDeposit)),
		Borrow:              renderFacet(view.Facet(position.FacetBorrow)),
		PayOff:              renderFacet(view.Facet(position.FacetPayOff)),
	})
}

func (s *Server) handleFacet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "facet")
	facet, ok := position.ParseFacet(name)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorPayload{Error: "unknown facet " + name})
		return
	}
	view, err := s.eng.State()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, renderFacet(view.Facet(facet)))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.readAmount(w, r)
	if !ok {
		return
	}
	req, err := s.eng.Deposit(r.Context(), amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, renderRequest(req))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	req, err := s.eng.Withdraw(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, renderRequest(req))
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.readAmount(w, r)
	if !ok {
		return
	}
	req, err := s.eng.Borrow(r.Context(), amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, renderRequest(req))
}

func (s *Server) handlePayOff(w http.ResponseWriter, r *http.Request) {
	req, err := s.eng.PayOff(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, renderRequest(req))
}

// readAmount parses and validates the wei amount from the request body.
// A false return means the response has already been written.
func (s *Server) readAmount(w http.ResponseWriter, r *http.Request) (*big.Int, bool) {
	var body amountRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid JSON body"})
		return nil, false
	}
	amount, ok := new(big.Int).SetString(body.Amount, 10)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorPayload{Error: "amount must be a decimal wei string"})
		return nil, false
	}
	if amount.Cmp(minSubmitAmount) < 0 {
		s.writeJSON(w, http.StatusBadRequest, errorPayload{
			Error: "amount below minimum of " + minSubmitAmount.String() + " wei",
		})
		return nil, false
	}
	return amount, true
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNotStarted):
		status = http.StatusServiceUnavailable
	case errors.Is(err, position.ErrFacetBusy):
		status = http.StatusConflict
	case errors.Is(err, submit.ErrEstimationFailed),
		errors.Is(err, submit.ErrSubmissionRejected):
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, errorPayload{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}
