// Package rpctest runs a fake JSON-RPC node over HTTP and websocket for tests.
package rpctest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/distribworks/xk6-substrate/pkg/rpc"
)

// Handler answers one call. Returning a *rpc.RemoteError sends it verbatim
// as the JSON-RPC error object.
type Handler func(params []json.RawMessage) (interface{}, error)

type request struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id"`
	Result  interface{}      `json:"result"`
	Error   *rpc.RemoteError `json:"error,omitempty"`
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Server serves POST requests and websocket upgrades on the same URL.
type Server struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string]int
	conns    map[*wsConn]struct{}
}

func NewServer() *Server {
	s := &Server{
		handlers: make(map[string]Handler),
		calls:    make(map[string]int),
		conns:    make(map[*wsConn]struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// HandleResult registers a handler that always returns result.
func (s *Server) HandleResult(method string, result interface{}) {
	s.Handle(method, func([]json.RawMessage) (interface{}, error) { return result, nil })
}

func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// Calls reports how many times method was invoked.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Connections reports how many websocket clients are connected.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Notify pushes a subscription notification to every websocket client.
func (s *Server) Notify(method, subscription string, result interface{}) {
	s.SendRaw(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  map[string]interface{}{"subscription": subscription, "result": result},
	})
}

// SendRaw writes v to every websocket client.
func (s *Server) SendRaw(v interface{}) {
	for _, c := range s.snapshot() {
		_ = c.write(v)
	}
}

// DropConnections closes every websocket without a close handshake.
func (s *Server) DropConnections() {
	for _, c := range s.snapshot() {
		_ = c.conn.Close()
	}
}

func (s *Server) snapshot() []*wsConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.serveWS(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.answer(&req))
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{conn: conn}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		// answer concurrently so slow handlers reorder responses
		go func() { _ = c.write(s.answer(&req)) }()
	}
}

func (s *Server) answer(req *request) response {
	s.mu.Lock()
	h, ok := s.handlers[req.Method]
	s.calls[req.Method]++
	s.mu.Unlock()

	resp := response{JSONRPC: "2.0", ID: req.ID}
	if !ok {
		resp.Error = &rpc.RemoteError{Code: -32601, Message: "Method not found"}
		return resp
	}
	result, err := h(req.Params)
	if err != nil {
		var re *rpc.RemoteError
		if !errors.As(err, &re) {
			re = &rpc.RemoteError{Code: -32000, Message: err.Error()}
		}
		resp.Error = re
		return resp
	}
	resp.Result = result
	return resp
}

// Close drops websocket clients and shuts the server down.
func (s *Server) Close() {
	s.DropConnections()
	s.Server.Close()
}
