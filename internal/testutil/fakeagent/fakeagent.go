// Package fakeagent implements a minimal agent WebSocket JSON-RPC server
// for tests: just enough of config.get/config.apply/health/status (spec
// §6) to exercise internal/gateway.Client, internal/lifecycle, and
// internal/drift without a real agent process. Not wired into any binary.
package fakeagent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

type rpcRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type configApplyParams struct {
	Raw      string `json:"raw"`
	BaseHash string `json:"baseHash"`
}

// Server is a fake agent reachable over WebSocket at Server.Endpoint().
type Server struct {
	mu               sync.Mutex
	hash             string
	config           map[string]any
	healthy          bool
	state            string
	rejectApply      bool
	rejectValidation []string

	httpServer *httptest.Server
	upgrader   websocket.Upgrader
}

// New starts a fake agent reporting hash/config initially, healthy, and
// in the "running" state.
func New(hash string, config map[string]any) *Server {
	s := &Server{
		hash:    hash,
		config:  config,
		healthy: true,
		state:   "running",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handle)
	s.httpServer = httptest.NewServer(mux)
	return s
}

// Endpoint returns the host and port the fake agent listens on.
func (s *Server) Endpoint() (host string, port int) {
	u, err := url.Parse(s.httpServer.URL)
	if err != nil {
		return "127.0.0.1", 0
	}
	p, err := strconv.Atoi(u.Port())
	if err != nil {
		return u.Hostname(), 0
	}
	return u.Hostname(), p
}

// SetHash updates the hash/config the fake agent reports from config.get.
func (s *Server) SetHash(hash string, config map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hash = hash
	s.config = config
}

// SetHealthy controls health()'s ok field.
func (s *Server) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

// SetState controls status()'s state field.
func (s *Server) SetState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// RejectNextApply makes the next config.apply call return validation
// errors instead of succeeding.
func (s *Server) RejectNextApply(errs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectApply = true
	s.rejectValidation = errs
}

// Close stops the fake agent.
func (s *Server) Close() { s.httpServer.Close() }

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		resp := s.dispatch(req)
		payload, _ := json.Marshal(resp)
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req rpcRequest) rpcResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Method {
	case "config.get":
		result, _ := json.Marshal(map[string]any{"hash": s.hash, "config": s.config})
		return rpcResponse{ID: req.ID, Result: result}

	case "config.apply":
		var params configApplyParams
		_ = json.Unmarshal(req.Params, &params)
		if params.BaseHash != s.hash {
			result, _ := json.Marshal(map[string]any{"ok": false, "success": false, "validationErrors": []string{"baseHash mismatch"}})
			return rpcResponse{ID: req.ID, Result: result}
		}
		if s.rejectApply {
			s.rejectApply = false
			result, _ := json.Marshal(map[string]any{"ok": false, "success": false, "validationErrors": s.rejectValidation})
			return rpcResponse{ID: req.ID, Result: result}
		}
		var newCfg map[string]any
		_ = json.Unmarshal([]byte(params.Raw), &newCfg)
		s.config = newCfg
		s.hash = hashOf(newCfg)
		result, _ := json.Marshal(map[string]any{"ok": true, "success": true})
		return rpcResponse{ID: req.ID, Result: result}

	case "health":
		result, _ := json.Marshal(map[string]any{"ok": s.healthy, "uptime": 123.0})
		return rpcResponse{ID: req.ID, Result: result}

	case "status":
		result, _ := json.Marshal(map[string]any{"state": s.state, "configHash": s.hash})
		return rpcResponse{ID: req.ID, Result: result}

	default:
		return rpcResponse{ID: req.ID, Error: &rpcError{Code: 404, Message: "unknown method " + req.Method}}
	}
}

func hashOf(cfg map[string]any) string {
	raw, _ := json.Marshal(cfg)
	return "applied:" + string(raw[:min(8, len(raw))])
}
