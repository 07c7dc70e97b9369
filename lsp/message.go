package lsp

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a JSON-RPC correlation id. The client mints integer ids, but
// server-initiated requests may use strings, so both forms are carried.
type ID struct {
	Num      int64
	Str      string
	IsString bool
}

// NumberID returns an integer ID.
func NumberID(n int64) ID {
	return ID{Num: n}
}

// String returns the id in wire-adjacent text form.
func (id ID) String() string {
	if id.IsString {
		return id.Str
	}
	return strconv.FormatInt(id.Num, 10)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsString {
		return json.Marshal(id.Str)
	}
	return json.Marshal(id.Num)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		id.IsString = true
		return json.Unmarshal(data, &id.Str)
	}
	id.IsString = false
	return json.Unmarshal(data, &id.Num)
}

// MessageKind classifies a decoded inbound message.
type MessageKind int

const (
	// KindResponse is a reply to a client-initiated request (id, no method).
	KindResponse MessageKind = iota
	// KindRequest is a server-initiated request (method and id).
	KindRequest
	// KindNotification is a server-initiated notification (method, no id).
	KindNotification
)

// String returns a human-readable kind name.
func (k MessageKind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Message is the decoded form of one inbound JSON-RPC envelope.
type Message struct {
	Kind   MessageKind
	ID     *ID
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *RPCError
}

// request is the wire shape of an outgoing request or notification.
// A zero ID with hasID false omits the id field, making it a notification.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *ID    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is the wire shape of an outgoing reply to a server request.
type response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      *ID       `json:"id"`
	Result  any       `json:"result"`
	Error   *RPCError `json:"error,omitempty"`
}

// encodeRequest serializes a client request with the given correlation id.
func encodeRequest(id int64, method string, params any) ([]byte, error) {
	rid := NumberID(id)
	data, err := json.Marshal(&request{JSONRPC: "2.0", ID: &rid, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request %s: %w", method, err)
	}
	return data, nil
}

// encodeNotification serializes a client notification.
func encodeNotification(method string, params any) ([]byte, error) {
	data, err := json.Marshal(&request{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal notification %s: %w", method, err)
	}
	return data, nil
}

// encodeResponse serializes a reply to a server-initiated request.
func encodeResponse(id *ID, result any, rpcErr *RPCError) ([]byte, error) {
	data, err := json.Marshal(&response{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr})
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return data, nil
}

// decodeMessage parses an inbound payload and classifies it:
// id without method is a response, method with id is a server request,
// method without id is a notification. Anything else is a protocol
// violation.
func decodeMessage(data []byte) (*Message, error) {
	var probe struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *ID             `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %v", ErrProtocolViolation, err)
	}

	switch {
	case probe.Method == "" && probe.ID != nil:
		return &Message{Kind: KindResponse, ID: probe.ID, Result: probe.Result, Error: probe.Error}, nil
	case probe.Method != "" && probe.ID != nil:
		return &Message{Kind: KindRequest, ID: probe.ID, Method: probe.Method, Params: probe.Params}, nil
	case probe.Method != "":
		return &Message{Kind: KindNotification, Method: probe.Method, Params: probe.Params}, nil
	default:
		return nil, fmt.Errorf("%w: message is neither request, response, nor notification", ErrProtocolViolation)
	}
}
