package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"escrowd/native/escrow"
	"escrowd/state"
)

const (
	codeEscrowInvalidParams = -32041
	codeEscrowNotFound      = -32042
	codeEscrowForbidden     = -32043
	codeEscrowConflict      = -32044
	codeEscrowInternal      = -32045
)

type assetParam struct {
	Kind   string `json:"kind"`
	Symbol string `json:"symbol,omitempty"`
}

type escrowDepositParams struct {
	Payee     string     `json:"payee"`
	Recipient string     `json:"recipient"`
	Asset     assetParam `json:"asset"`
	Amount    string     `json:"amount"`
}

type escrowIDParams struct {
	ID string `json:"id"`
}

type escrowUpdateIntervalParams struct {
	Caller  string `json:"caller"`
	Seconds uint64 `json:"seconds"`
}

type escrowTransferOwnershipParams struct {
	Caller   string `json:"caller"`
	NewOwner string `json:"newOwner"`
}

type escrowAuthorizeUpgradeParams struct {
	Caller  string `json:"caller"`
	Version uint64 `json:"version"`
}

type escrowReceiveNativeParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type escrowDepositResult struct {
	ID string `json:"id"`
}

type escrowOKResult struct {
	OK bool `json:"ok"`
}

type escrowIntervalResult struct {
	Seconds uint64 `json:"seconds"`
}

type escrowVersionResult struct {
	Version uint64 `json:"version"`
}

type escrowRecordJSON struct {
	ID        string     `json:"id"`
	Payee     string     `json:"payee"`
	Recipient string     `json:"recipient"`
	Asset     assetParam `json:"asset"`
	Amount    string     `json:"amount"`
	CreatedAt int64      `json:"createdAt"`
}

func recordToJSON(record *escrow.TransactionRecord) escrowRecordJSON {
	asset := assetParam{Kind: record.Asset.Kind.String()}
	if record.Asset.Kind == escrow.AssetToken {
		asset.Symbol = record.Asset.Token
	}
	amount := "0"
	if record.Amount != nil {
		amount = record.Amount.String()
	}
	return escrowRecordJSON{
		ID:        hex.EncodeToString(record.ID[:]),
		Payee:     hex.EncodeToString(record.Payee[:]),
		Recipient: hex.EncodeToString(record.Recipient[:]),
		Asset:     asset,
		Amount:    amount,
		CreatedAt: record.CreatedAt,
	}
}

func parseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address: %w", err)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("address must be %d bytes", len(addr))
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseTransactionID(raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("invalid transaction id: %w", err)
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("transaction id must be %d bytes", len(id))
	}
	copy(id[:], decoded)
	return id, nil
}

func parseAsset(param assetParam) (escrow.Asset, error) {
	switch strings.ToLower(strings.TrimSpace(param.Kind)) {
	case "native":
		return escrow.NormalizeAsset(escrow.NativeAsset())
	case "token":
		return escrow.NormalizeAsset(escrow.TokenAsset(param.Symbol))
	default:
		return escrow.Asset{}, fmt.Errorf("asset kind must be native or token")
	}
}

func parsePositiveBigInt(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must be provided")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount must be a base-10 integer")
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, escrow.ErrInvalidTxID):
		writeError(w, http.StatusNotFound, id, codeEscrowNotFound, "not_found", err.Error())
	case errors.Is(err, escrow.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, id, codeEscrowForbidden, "forbidden", err.Error())
	case errors.Is(err, escrow.ErrClaimExpired),
		errors.Is(err, escrow.ErrClaimNotExpired),
		errors.Is(err, state.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, id, codeEscrowConflict, "conflict", err.Error())
	case errors.Is(err, escrow.ErrAmountZero),
		errors.Is(err, escrow.ErrRecipientZero),
		errors.Is(err, escrow.ErrOwnerZero),
		errors.Is(err, escrow.ErrInvalidAsset):
		writeError(w, http.StatusBadRequest, id, codeEscrowInvalidParams, "invalid_params", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeEscrowInternal, "internal_error", err.Error())
	}
}

func (s *Server) handleEscrowDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowDepositParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	payee, err := parseAddress(params.Payee)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	recipient, err := parseAddress(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	asset, err := parseAsset(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := s.engine.Deposit(payee, recipient, asset, amount)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowDepositResult{ID: hex.EncodeToString(id[:])})
}

func (s *Server) handleEscrowClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseTransactionID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.engine.Claim(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, recordToJSON(record))
}

func (s *Server) handleEscrowRedeem(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseTransactionID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.engine.Redeem(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, recordToJSON(record))
}

func (s *Server) handleEscrowUpdateInterval(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowUpdateIntervalParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.UpdateInterval(caller, params.Seconds); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowOKResult{OK: true})
}

func (s *Server) handleEscrowTransferOwnership(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowTransferOwnershipParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	newOwner, err := parseAddress(params.NewOwner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.TransferOwnership(caller, newOwner); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowOKResult{OK: true})
}

func (s *Server) handleEscrowAuthorizeUpgrade(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowAuthorizeUpgradeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.AuthorizeUpgrade(caller, params.Version); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowOKResult{OK: true})
}

func (s *Server) handleEscrowReceiveNative(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowReceiveNativeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	from, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.ReceiveNative(from, amount); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowOKResult{OK: true})
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseTransactionID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	record, ok := s.engine.Get(id)
	if !ok {
		writeEscrowError(w, req.ID, escrow.ErrInvalidTxID)
		return
	}
	writeResult(w, req.ID, recordToJSON(record))
}

func (s *Server) handleEscrowInterval(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "no parameters expected")
		return
	}
	seconds, err := s.engine.Interval()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowIntervalResult{Seconds: seconds})
}

func (s *Server) handleEscrowVersion(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "no parameters expected")
		return
	}
	writeResult(w, req.ID, escrowVersionResult{Version: s.engine.Version()})
}

func (s *Server) handleEscrowListEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "no parameters expected")
		return
	}
	if s.eventLog == nil {
		writeResult(w, req.ID, []struct{}{})
		return
	}
	writeResult(w, req.ID, s.eventLog.List())
}
