package rpc

import (
	"bytes"
	"encoding/json"
	"strconv"
)

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func newRequest(id uint64, method string, params []interface{}) request {
	if params == nil {
		params = []interface{}{}
	}
	return request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// message is either a response (ID set) or a subscription notification
// (Method set, no ID).
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RemoteError    `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  *notification   `json:"params,omitempty"`
}

type notification struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

func (m *message) isNotification() bool {
	return len(m.ID) == 0 && m.Method != "" && m.Params != nil
}

// id returns the numeric request id. Nodes echo the id we sent, but some
// proxies turn it into a string.
func (m *message) id() (uint64, bool) {
	raw := bytes.TrimSpace(m.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		raw = []byte(s)
	}
	n, err := strconv.ParseUint(string(raw), 10, 64)
	return n, err == nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// subscriptionKey normalizes a subscription id, which nodes send either as a
// string or a number.
func subscriptionKey(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
