package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"escrowd/core/events"
	"escrowd/native/escrow"
	"escrowd/state"
	"escrowd/storage"
)

const testToken = "test-secret"

var (
	testOwner = "0101010101010101010101010101010101010101"
	testPayee = "1010101010101010101010101010101010101010"
	testRecip = "1111111111111111111111111111111111111111"
)

func hexToAddress(t *testing.T, raw string) [20]byte {
	t.Helper()
	addr, err := parseAddress(raw)
	if err != nil {
		t.Fatalf("parse address %q: %v", raw, err)
	}
	return addr
}

func newTestServer(t *testing.T) (*Server, *state.Manager, *escrow.Engine) {
	t.Helper()
	t.Setenv(authTokenEnv, testToken)

	manager := state.NewManager(storage.NewMemDB())
	if err := manager.Migrate(state.Migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := manager.Bootstrap(hexToAddress(t, testOwner), 2_592_000); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := manager.Mint(hexToAddress(t, testPayee), escrow.TokenAsset("NHB"), big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetAssets(manager)
	eventLog := events.NewLog(16)
	engine.SetEmitter(eventLog)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })

	return NewServer(engine, manager, eventLog), manager, engine
}

type rpcResponseEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func doRPC(t *testing.T, handler http.Handler, token, method string, params interface{}) (int, rpcResponseEnvelope) {
	t.Helper()
	req := RPCRequest{JSONRPC: jsonRPCVersion, Method: method, ID: 1}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		req.Params = []json.RawMessage{raw}
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httpReq)

	var envelope rpcResponseEnvelope
	if err := json.Unmarshal(recorder.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return recorder.Code, envelope
}

func TestDepositClaimFlow(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()

	status, resp := doRPC(t, handler, testToken, "escrow_deposit", escrowDepositParams{
		Payee:     testPayee,
		Recipient: testRecip,
		Asset:     assetParam{Kind: "token", Symbol: "NHB"},
		Amount:    "40",
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("deposit failed: status=%d error=%+v", status, resp.Error)
	}
	var deposit escrowDepositResult
	if err := json.Unmarshal(resp.Result, &deposit); err != nil {
		t.Fatalf("decode deposit result: %v", err)
	}
	if len(deposit.ID) != 64 {
		t.Fatalf("deposit id = %q, want 32-byte hex", deposit.ID)
	}

	// Queries are open, no token needed.
	status, resp = doRPC(t, handler, "", "escrow_get", escrowIDParams{ID: deposit.ID})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("get failed: status=%d error=%+v", status, resp.Error)
	}
	var record escrowRecordJSON
	if err := json.Unmarshal(resp.Result, &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.Amount != "40" || record.Asset.Symbol != "NHB" {
		t.Fatalf("unexpected record: %+v", record)
	}

	status, resp = doRPC(t, handler, testToken, "escrow_claim", escrowIDParams{ID: deposit.ID})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("claim failed: status=%d error=%+v", status, resp.Error)
	}

	status, resp = doRPC(t, handler, "", "escrow_get", escrowIDParams{ID: deposit.ID})
	if status != http.StatusNotFound || resp.Error == nil || resp.Error.Code != codeEscrowNotFound {
		t.Fatalf("resolved record must be gone: status=%d error=%+v", status, resp.Error)
	}

	status, resp = doRPC(t, handler, "", "escrow_listEvents", nil)
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("listEvents failed: status=%d error=%+v", status, resp.Error)
	}
	var logged []struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(resp.Result, &logged); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(logged) != 2 {
		t.Fatalf("expected deposit and claim events, got %d", len(logged))
	}
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()

	status, resp := doRPC(t, handler, "", "escrow_deposit", escrowDepositParams{
		Payee:     testPayee,
		Recipient: testRecip,
		Asset:     assetParam{Kind: "token", Symbol: "NHB"},
		Amount:    "1",
	})
	if status != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("missing token: status=%d error=%+v", status, resp.Error)
	}

	status, resp = doRPC(t, handler, "wrong-token", "escrow_claim", escrowIDParams{ID: "00"})
	if status != http.StatusUnauthorized || resp.Error == nil {
		t.Fatalf("wrong token: status=%d error=%+v", status, resp.Error)
	}
}

func TestErrorMapping(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()

	unknownID := "00000000000000000000000000000000000000000000000000000000000000aa"
	status, resp := doRPC(t, handler, testToken, "escrow_claim", escrowIDParams{ID: unknownID})
	if status != http.StatusNotFound || resp.Error == nil || resp.Error.Code != codeEscrowNotFound {
		t.Fatalf("unknown id: status=%d error=%+v", status, resp.Error)
	}

	status, resp = doRPC(t, handler, testToken, "escrow_updateInterval", escrowUpdateIntervalParams{
		Caller:  testPayee,
		Seconds: 60,
	})
	if status != http.StatusForbidden || resp.Error == nil || resp.Error.Code != codeEscrowForbidden {
		t.Fatalf("non-owner interval update: status=%d error=%+v", status, resp.Error)
	}

	status, resp = doRPC(t, handler, testToken, "escrow_deposit", escrowDepositParams{
		Payee:     testRecip, // holds no balance
		Recipient: testPayee,
		Asset:     assetParam{Kind: "token", Symbol: "NHB"},
		Amount:    "1",
	})
	if status != http.StatusConflict || resp.Error == nil || resp.Error.Code != codeEscrowConflict {
		t.Fatalf("insufficient balance: status=%d error=%+v", status, resp.Error)
	}

	status, resp = doRPC(t, handler, testToken, "escrow_deposit", escrowDepositParams{
		Payee:     testPayee,
		Recipient: testRecip,
		Asset:     assetParam{Kind: "token", Symbol: "NHB"},
		Amount:    "-5",
	})
	if status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeEscrowInvalidParams {
		t.Fatalf("negative amount: status=%d error=%+v", status, resp.Error)
	}
}

func TestRedeemConflictBeforeWindowElapses(t *testing.T) {
	server, _, engine := newTestServer(t)
	handler := server.Handler()

	status, resp := doRPC(t, handler, testToken, "escrow_deposit", escrowDepositParams{
		Payee:     testPayee,
		Recipient: testRecip,
		Asset:     assetParam{Kind: "token", Symbol: "NHB"},
		Amount:    "10",
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("deposit: status=%d error=%+v", status, resp.Error)
	}
	var deposit escrowDepositResult
	if err := json.Unmarshal(resp.Result, &deposit); err != nil {
		t.Fatalf("decode deposit result: %v", err)
	}

	status, resp = doRPC(t, handler, testToken, "escrow_redeem", escrowIDParams{ID: deposit.ID})
	if status != http.StatusConflict || resp.Error == nil || resp.Error.Code != codeEscrowConflict {
		t.Fatalf("early redeem: status=%d error=%+v", status, resp.Error)
	}

	engine.SetNowFunc(func() int64 { return 1_700_000_000 + 2_592_001 })
	status, resp = doRPC(t, handler, testToken, "escrow_redeem", escrowIDParams{ID: deposit.ID})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("redeem after window: status=%d error=%+v", status, resp.Error)
	}
}

func TestOpenQueries(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()

	status, resp := doRPC(t, handler, "", "escrow_interval", nil)
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("interval: status=%d error=%+v", status, resp.Error)
	}
	var interval escrowIntervalResult
	if err := json.Unmarshal(resp.Result, &interval); err != nil {
		t.Fatalf("decode interval: %v", err)
	}
	if interval.Seconds != 2_592_000 {
		t.Fatalf("interval = %d, want 2592000", interval.Seconds)
	}

	status, resp = doRPC(t, handler, "", "escrow_version", nil)
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("version: status=%d error=%+v", status, resp.Error)
	}
	var version escrowVersionResult
	if err := json.Unmarshal(resp.Result, &version); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if version.Version != escrow.EngineVersion {
		t.Fatalf("version = %d, want %d", version.Version, escrow.EngineVersion)
	}
}

func TestUnknownMethod(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()

	status, resp := doRPC(t, handler, "", "escrow_unknown", nil)
	if status != http.StatusNotFound || resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("unknown method: status=%d error=%+v", status, resp.Error)
	}
}

func TestRejectsNonPost(t *testing.T) {
	server, _, _ := newTestServer(t)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", recorder.Code)
	}
}
