package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nftmarketd/core/events"
	"nftmarketd/native/settlement"
	"nftmarketd/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32004
	codeInvalidState   = -32005
)

// Server exposes the settlement engine over JSON-RPC 2.0.
type Server struct {
	engine    *settlement.Engine
	recorder  *events.Recorder
	logger    *slog.Logger
	authToken string
	metrics   *metrics.MarketMetrics
}

// NewServer wires the RPC surface to a settlement engine. The recorder, when
// non-nil, backs the recent-events query; an empty auth token disables
// authentication on mutating methods.
func NewServer(engine *settlement.Engine, recorder *events.Recorder, logger *slog.Logger, authToken string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		recorder:  recorder,
		logger:    logger,
		authToken: strings.TrimSpace(authToken),
		metrics:   metrics.Market(),
	}
}

// Router returns the HTTP routes: the JSON-RPC endpoint plus health and
// metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
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
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// errorCode maps engine failures onto JSON-RPC error codes so clients can
// dispatch without string matching.
func errorCode(err error) int {
	switch {
	case errors.Is(err, settlement.ErrUnauthorized):
		return codeUnauthorized
	case errors.Is(err, settlement.ErrNotFound):
		return codeNotFound
	case errors.Is(err, settlement.ErrInvalidState),
		errors.Is(err, settlement.ErrExpired),
		errors.Is(err, settlement.ErrAuctionNotEnded):
		return codeInvalidState
	case errors.Is(err, settlement.ErrInvalidAmount),
		errors.Is(err, settlement.ErrInvalidTime),
		errors.Is(err, settlement.ErrBidTooLow),
		errors.Is(err, settlement.ErrCommitmentMismatch),
		errors.Is(err, settlement.ErrOverflow),
		errors.Is(err, settlement.ErrAlreadyExists):
		return codeInvalidParams
	default:
		return codeServerError
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, id interface{}, method string, err error) {
	s.metrics.ObserveRequest(method, true)
	s.logger.Warn("rpc call failed", "method", method, "error", err)
	writeError(w, http.StatusOK, id, errorCode(err), err.Error(), nil)
}

type rpcAuthError struct {
	Code    int
	Message string
	Data    interface{}
}

func (s *Server) requireAuth(r *http.Request) *rpcAuthError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &rpcAuthError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &rpcAuthError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	if mutatingMethods[req.Method] {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	switch req.Method {
	case "market_createSale":
		s.handleCreateSale(w, req)
	case "market_executeSale":
		s.handleExecuteSale(w, req)
	case "market_createAuction":
		s.handleCreateAuction(w, req)
	case "market_placeBid":
		s.handlePlaceBid(w, req)
	case "market_revealBid":
		s.handleRevealBid(w, req)
	case "market_finalizeAuction":
		s.handleFinalizeAuction(w, req)
	case "market_settleAuction":
		s.handleSettleAuction(w, req)
	case "market_cancelTransaction":
		s.handleCancelTransaction(w, req)
	case "market_distributeTransaction":
		s.handleDistributeTransaction(w, req)
	case "market_initiateDispute":
		s.handleInitiateDispute(w, req)
	case "market_voteOnDispute":
		s.handleVoteOnDispute(w, req)
	case "market_withdrawFees":
		s.handleWithdrawFees(w, req)
	case "market_updateFeeConfig":
		s.handleUpdateFeeConfig(w, req)
	case "market_emergencyWithdraw":
		s.handleEmergencyWithdraw(w, req)
	case "market_getSale":
		s.handleGetSale(w, req)
	case "market_getAuction":
		s.handleGetAuction(w, req)
	case "market_getDispute":
		s.handleGetDispute(w, req)
	case "market_recentEvents":
		s.handleRecentEvents(w, req)
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

// mutatingMethods require the bearer token when one is configured.
var mutatingMethods = map[string]bool{
	"market_createSale":            true,
	"market_executeSale":           true,
	"market_createAuction":         true,
	"market_placeBid":              true,
	"market_revealBid":             true,
	"market_finalizeAuction":       true,
	"market_settleAuction":         true,
	"market_cancelTransaction":     true,
	"market_distributeTransaction": true,
	"market_initiateDispute":       true,
	"market_voteOnDispute":         true,
	"market_withdrawFees":          true,
	"market_updateFeeConfig":       true,
	"market_emergencyWithdraw":     true,
}
