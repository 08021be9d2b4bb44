package server_test

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"DbankSync/internal/engine"
	"DbankSync/internal/gateway"
	"DbankSync/internal/observability"
	"DbankSync/internal/server"
	"DbankSync/internal/testutil"
)

func newServer(t *testing.T, start bool) (*testutil.FakeNode, http.Handler) {
	t.Helper()

	node := testutil.NewFakeNode()
	signer, err := gateway.NewKeySigner(testutil.TestKey)
	if err != nil {
		t.Fatalf("key signer: %v", err)
	}
	node.SetView(big.NewInt(1000), big.NewInt(0), big.NewInt(0), false, false)
	node.Balances[signer.Address()] = big.NewInt(1000)

	gw := gateway.New(node, signer, testutil.BankAddr, testutil.TokenAddr,
		big.NewInt(1337), zerolog.Nop(), nil)
	health := observability.NewHealthChecker()
	eng := engine.New(gw, zerolog.Nop(), nil, health)
	if start {
		if err := eng.Start(context.Background()); err != nil {
			t.Fatalf("engine start: %v", err)
		}
		t.Cleanup(eng.Close)
	}

	srv := server.New(eng, health, zerolog.Nop(), nil)
	return node, srv.Router()
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("{}")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return rec, out
}

// ============================================================================
// Test: state endpoints
// ============================================================================

func TestServer_State(t *testing.T) {
	_, h := newServer(t, true)

	rec, body := doJSON(t, h, http.MethodGet, "/v1/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}

	wallet, ok := body["wallet"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing wallet facet in %v", body)
	}
	if wallet["displayValue"] != "1000" {
		t.Errorf("wallet display: got %v, want \"1000\"", wallet["displayValue"])
	}
	if body["networkMatches"] != true {
		t.Error("networkMatches should be true")
	}
	if body["degraded"] != false {
		t.Error("degraded should be false")
	}
}

func TestServer_StateBeforeStart(t *testing.T) {
	_, h := newServer(t, false)

	rec, _ := doJSON(t, h, http.MethodGet, "/v1/state", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", rec.Code)
	}
}

func TestServer_Facet(t *testing.T) {
	_, h := newServer(t, true)

	rec, body := doJSON(t, h, http.MethodGet, "/v1/facets/wallet", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if body["confirmed"] != "1000" {
		t.Errorf("confirmed: got %v, want \"1000\"", body["confirmed"])
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/v1/facets/bogus", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown facet: got %d, want 404", rec.Code)
	}
}

// ============================================================================
// Test: submissions
// ============================================================================

func TestServer_Deposit(t *testing.T) {
	node, h := newServer(t, true)

	rec, body := doJSON(t, h, http.MethodPost, "/v1/deposit",
		`{"amount":"10000000000000000"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202: %v", rec.Code, body)
	}
	if body["state"] != "Submitted" {
		t.Errorf("state: got %v, want Submitted", body["state"])
	}
	if body["txHash"] == "" {
		t.Error("txHash should be set")
	}
	if len(node.SentTxs) != 1 {
		t.Errorf("sent txs: got %d, want 1", len(node.SentTxs))
	}
}

func TestServer_Deposit_BelowMinimum(t *testing.T) {
	node, h := newServer(t, true)

	rec, _ := doJSON(t, h, http.MethodPost, "/v1/deposit", `{"amount":"100"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
	if len(node.SentTxs) != 0 {
		t.Error("rejected amount must not reach the node")
	}
}

func TestServer_Deposit_MalformedAmount(t *testing.T) {
	_, h := newServer(t, true)

	rec, _ := doJSON(t, h, http.MethodPost, "/v1/deposit", `{"amount":"1.5e18"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-decimal amount: got %d, want 400", rec.Code)
	}

	rec, _ = doJSON(t, h, http.MethodPost, "/v1/deposit", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: got %d, want 400", rec.Code)
	}
}

func TestServer_Deposit_Conflict(t *testing.T) {
	_, h := newServer(t, true)

	rec, _ := doJSON(t, h, http.MethodPost, "/v1/deposit", `{"amount":"10000000000000000"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first deposit: got %d", rec.Code)
	}

	rec, _ = doJSON(t, h, http.MethodPost, "/v1/deposit", `{"amount":"10000000000000000"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("second deposit while busy: got %d, want 409", rec.Code)
	}
}

func TestServer_PayOff(t *testing.T) {
	_, h := newServer(t, true)

	rec, body := doJSON(t, h, http.MethodPost, "/v1/payoff", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202: %v", rec.Code, body)
	}
	// No open loan: owed is zero but the flow still runs both steps.
	if body["amount"] != "0" {
		t.Errorf("amount: got %v, want \"0\"", body["amount"])
	}
}

// ============================================================================
// Test: health endpoints
// ============================================================================

func TestServer_Health(t *testing.T) {
	_, h := newServer(t, true)

	rec, _ := doJSON(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("healthz: got %d, want 200", rec.Code)
	}
	rec, _ = doJSON(t, h, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("readyz: got %d, want 200", rec.Code)
	}
}

func TestServer_ReadyzReportsEngineStatus(t *testing.T) {
	_, h := newServer(t, true)

	rec, body := doJSON(t, h, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz: got %d, want 200", rec.Code)
	}
	if body["degraded"] != false {
		t.Errorf("degraded: got %v, want false", body["degraded"])
	}
	if body["last_processed_height"] != float64(100) {
		t.Errorf("last_processed_height: got %v, want 100", body["last_processed_height"])
	}
}

func TestServer_NotReadyBeforeStart(t *testing.T) {
	_, h := newServer(t, false)

	rec, _ := doJSON(t, h, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz: got %d, want 503", rec.Code)
	}
}
