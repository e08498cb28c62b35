// Package jsonrpc defines the wire types shared by every component that
// speaks JSON-RPC 2.0 over the proxy's standard input/output or a child's.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC version this proxy understands.
const Version = "2.0"

// Well-known JSON-RPC error codes used by the aggregator and error normalizer.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
	CodeSpawnError     = -32001
)

// Message is the union type produced by decoding one JSON-RPC value off the
// wire. Exactly one of Request/Notification/Response is populated,
// discriminated by the presence of "method" and "id".
type Message struct {
	Request      *Request
	Notification *Notification
	Response     *Response
}

// envelope mirrors the raw shape of every JSON-RPC message so a single
// Unmarshal pass can classify it.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Decode classifies a raw JSON-RPC value into a Message.
func Decode(raw []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode jsonrpc message: %w", err)
	}

	switch {
	case env.Method != "" && len(env.ID) > 0 && !bytes.Equal(env.ID, []byte("null")):
		return &Message{Request: &Request{
			JSONRPC: Version,
			ID:      env.ID,
			Method:  env.Method,
			Params:  env.Params,
		}}, nil
	case env.Method != "":
		return &Message{Notification: &Notification{
			JSONRPC: Version,
			Method:  env.Method,
			Params:  env.Params,
		}}, nil
	default:
		return &Message{Response: &Response{
			JSONRPC: Version,
			ID:      env.ID,
			Result:  env.Result,
			Error:   env.Error,
		}}, nil
	}
}

// Request is a JSON-RPC request carrying an id (number or string, kept raw
// so it round-trips without renormalization).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a JSON-RPC request with no id; no response is expected.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response carries exactly one of Result or Error, keyed to a Request's id.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a Request, marshaling params and id.
func NewRequest(id json.RawMessage, method string, params any) (*Request, error) {
	p, err := marshalOrNil(params)
	if err != nil {
		return nil, err
	}

	return &Request{JSONRPC: Version, ID: id, Method: method, Params: p}, nil
}

// NewNotification builds a Notification, marshaling params.
func NewNotification(method string, params any) (*Notification, error) {
	p, err := marshalOrNil(params)
	if err != nil {
		return nil, err
	}

	return &Notification{JSONRPC: Version, Method: method, Params: p}, nil
}

// NewResultResponse builds a successful Response.
func NewResultResponse(id json.RawMessage, result any) (*Response, error) {
	r, err := marshalOrNil(result)
	if err != nil {
		return nil, err
	}

	return &Response{JSONRPC: Version, ID: id, Result: r}, nil
}

// NewErrorResponse builds an error Response.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: err}
}

// NewError builds an Error, marshaling data best-effort.
func NewError(code int, message string, data any) *Error {
	raw, err := marshalOrNil(data)
	if err != nil {
		raw = nil
	}

	return &Error{Code: code, Message: message, Data: raw}
}

func marshalOrNil(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonrpc payload: %w", err)
	}

	return b, nil
}

// StringID wraps a Go string into a raw JSON id.
func StringID(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
