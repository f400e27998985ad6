// Package rpctest runs an in-process Solana JSON-RPC endpoint for tests.
//
// It answers the four methods the self-transfer pipeline uses and records
// every transaction it receives so tests can inspect the wire bytes.
package rpctest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Server is a fake Solana RPC node.
type Server struct {
	URL string
	srv *httptest.Server

	mu        sync.Mutex
	balance   uint64
	blockhash solana.Hash
	sendErr   *rpcError
	status    rpc.ConfirmationStatusType
	slot      uint64
	sent      []*solana.Transaction
	calls     map[string]int
	throttled map[string]int
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

// NewServer starts a node that confirms every transaction it accepts.
func NewServer() *Server {
	s := &Server{
		blockhash: solana.Hash{0xb1, 0x0c, 0x4a, 0x54},
		status:    rpc.ConfirmationStatusConfirmed,
		slot:      4242,
		calls:     make(map[string]int),
		throttled: make(map[string]int),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	s.URL = s.srv.URL
	return s
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

// SetBalance sets the lamports reported for every account.
func (s *Server) SetBalance(lamports uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = lamports
}

// SetSendError makes every sendTransaction fail with a JSON-RPC error.
func (s *Server) SetSendError(code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = &rpcError{Code: code, Message: message}
}

// SetRateLimit answers the next n calls of method with HTTP 429 and the
// JSON-RPC error body public endpoints send when throttling.
func (s *Server) SetRateLimit(method string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttled[method] = n
}

// SetConfirmationStatus sets the status reported for sent signatures. An
// empty status means the node never reports the signature.
func (s *Server) SetConfirmationStatus(status rpc.ConfirmationStatusType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Blockhash returns the blockhash the server hands out.
func (s *Server) Blockhash() solana.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockhash
}

// Sent returns the decoded transactions received so far.
func (s *Server) Sent() []*solana.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*solana.Transaction(nil), s.sent...)
}

// Calls returns how many times method was called.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls[req.Method]++
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if s.throttled[req.Method] > 0 {
		s.throttled[req.Method]--
		s.mu.Unlock()
		resp.Error = &rpcError{Code: http.StatusTooManyRequests, Message: "Too many requests for a specific RPC call"}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(resp)
		return
	}
	switch req.Method {
	case "getBalance":
		resp.Result = map[string]any{
			"context": rpcContext{Slot: s.slot},
			"value":   s.balance,
		}
	case "getLatestBlockhash":
		resp.Result = map[string]any{
			"context": rpcContext{Slot: s.slot},
			"value": map[string]any{
				"blockhash":            s.blockhash.String(),
				"lastValidBlockHeight": s.slot + 150,
			},
		}
	case "sendTransaction":
		resp.Result, resp.Error = s.sendTransaction(req.Params)
	case "getSignatureStatuses":
		resp.Result, resp.Error = s.signatureStatuses(req.Params)
	default:
		resp.Error = &rpcError{Code: -32601, Message: "Method not found"}
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// signatureStatuses reports one status per requested signature. Only
// signatures of accepted transactions are known. Callers hold s.mu.
func (s *Server) signatureStatuses(params []json.RawMessage) (any, *rpcError) {
	if len(params) == 0 {
		return nil, &rpcError{Code: -32602, Message: "missing signatures"}
	}
	var sigs []string
	if err := json.Unmarshal(params[0], &sigs); err != nil {
		return nil, &rpcError{Code: -32602, Message: err.Error()}
	}
	values := make([]any, len(sigs))
	for i, sig := range sigs {
		if s.status == "" || !s.accepted(sig) {
			continue
		}
		values[i] = map[string]any{
			"slot":               s.slot,
			"confirmations":      nil,
			"err":                nil,
			"confirmationStatus": s.status,
		}
	}
	return map[string]any{
		"context": rpcContext{Slot: s.slot},
		"value":   values,
	}, nil
}

func (s *Server) accepted(sig string) bool {
	if s.sendErr != nil {
		return false
	}
	for _, tx := range s.sent {
		if len(tx.Signatures) > 0 && tx.Signatures[0].String() == sig {
			return true
		}
	}
	return false
}

// sendTransaction decodes the base64 wire transaction. Callers hold s.mu.
func (s *Server) sendTransaction(params []json.RawMessage) (any, *rpcError) {
	if len(params) == 0 {
		return nil, &rpcError{Code: -32602, Message: "missing transaction"}
	}
	var encoded string
	if err := json.Unmarshal(params[0], &encoded); err != nil {
		return nil, &rpcError{Code: -32602, Message: err.Error()}
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &rpcError{Code: -32602, Message: fmt.Sprintf("invalid base64: %v", err)}
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, &rpcError{Code: -32602, Message: fmt.Sprintf("failed to deserialize transaction: %v", err)}
	}
	s.sent = append(s.sent, tx)

	if s.sendErr != nil {
		return nil, s.sendErr
	}
	if len(tx.Signatures) == 0 {
		return nil, &rpcError{Code: -32602, Message: "transaction is not signed"}
	}
	return tx.Signatures[0].String(), nil
}
