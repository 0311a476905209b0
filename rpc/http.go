package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"escrowd/core/events"
	"escrowd/native/escrow"
	"escrowd/observability"
	"escrowd/state"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "ESCROWD_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// Server exposes the escrow engine over JSON-RPC 2.0. Mutating methods
// require the bearer token configured through ESCROWD_RPC_TOKEN; queries are
// open.
type Server struct {
	engine    *escrow.Engine
	state     *state.Manager
	eventLog  *events.Log
	authToken string
}

// NewServer wires the RPC surface around the engine, its state manager and
// the retained event log.
func NewServer(engine *escrow.Engine, manager *state.Manager, eventLog *events.Log) *Server {
	token := strings.TrimSpace(os.Getenv(authTokenEnv))
	return &Server{
		engine:    engine,
		state:     manager,
		eventLog:  eventLog,
		authToken: token,
	}
}

// Handler returns the HTTP handler serving the RPC endpoint alongside the
// Prometheus metrics and health endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start serves the RPC endpoint on the given address until the listener
// fails.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Result:  result,
	})
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "rpc auth token not configured"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid bearer token"}
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "invalid_request", "POST required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "invalid_request", "request too large")
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "unsupported jsonrpc version")
		return
	}

	start := time.Now()
	recorder := &outcomeRecorder{ResponseWriter: w}
	switch req.Method {
	case "escrow_deposit":
		s.handleEscrowDeposit(recorder, r, &req)
	case "escrow_claim":
		s.handleEscrowClaim(recorder, r, &req)
	case "escrow_redeem":
		s.handleEscrowRedeem(recorder, r, &req)
	case "escrow_updateInterval":
		s.handleEscrowUpdateInterval(recorder, r, &req)
	case "escrow_transferOwnership":
		s.handleEscrowTransferOwnership(recorder, r, &req)
	case "escrow_authorizeUpgrade":
		s.handleEscrowAuthorizeUpgrade(recorder, r, &req)
	case "escrow_receiveNative":
		s.handleEscrowReceiveNative(recorder, r, &req)
	case "escrow_get":
		s.handleEscrowGet(recorder, r, &req)
	case "escrow_interval":
		s.handleEscrowInterval(recorder, r, &req)
	case "escrow_version":
		s.handleEscrowVersion(recorder, r, &req)
	case "escrow_listEvents":
		s.handleEscrowListEvents(recorder, r, &req)
	default:
		writeError(recorder, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", fmt.Sprintf("unknown method %s", req.Method))
	}
	observability.Escrow().ObserveOperation(req.Method, recorder.outcome(), time.Since(start).Seconds())
}

// outcomeRecorder captures the response status so handler outcomes can be
// counted without threading a result through every handler.
type outcomeRecorder struct {
	http.ResponseWriter
	status int
}

func (r *outcomeRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *outcomeRecorder) outcome() string {
	if r.status == 0 || r.status == http.StatusOK {
		return "ok"
	}
	return "error"
}
