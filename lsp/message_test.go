package lsp

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeMessage_Classification(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind MessageKind
	}{
		{
			name: "response with result",
			data: `{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`,
			kind: KindResponse,
		},
		{
			name: "response with error",
			data: `{"jsonrpc":"2.0","id":7,"error":{"code":-32601,"message":"nope"}}`,
			kind: KindResponse,
		},
		{
			name: "server request",
			data: `{"jsonrpc":"2.0","id":"srv-1","method":"workspace/configuration","params":{"items":[]}}`,
			kind: KindRequest,
		},
		{
			name: "notification",
			data: `{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{}}`,
			kind: KindNotification,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := decodeMessage([]byte(tt.data))
			if err != nil {
				t.Fatalf("decodeMessage() error = %v", err)
			}
			if msg.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", msg.Kind, tt.kind)
			}
		})
	}
}

func TestDecodeMessage_Violations(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed JSON", `{"jsonrpc":"2.0",`},
		{"neither request nor response", `{"jsonrpc":"2.0"}`},
		{"params only", `{"jsonrpc":"2.0","params":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeMessage([]byte(tt.data))
			if !errors.Is(err, ErrProtocolViolation) {
				t.Errorf("error = %v, want ErrProtocolViolation", err)
			}
		})
	}
}

func TestDecodeMessage_StringAndNumberIDs(t *testing.T) {
	msg, err := decodeMessage([]byte(`{"jsonrpc":"2.0","id":42,"result":null}`))
	if err != nil {
		t.Fatalf("decodeMessage() error = %v", err)
	}
	if msg.ID.IsString || msg.ID.Num != 42 {
		t.Errorf("id = %+v, want number 42", msg.ID)
	}

	msg, err = decodeMessage([]byte(`{"jsonrpc":"2.0","id":"tok","method":"m"}`))
	if err != nil {
		t.Fatalf("decodeMessage() error = %v", err)
	}
	if !msg.ID.IsString || msg.ID.Str != "tok" {
		t.Errorf("id = %+v, want string tok", msg.ID)
	}
}

func TestIDRoundTrip(t *testing.T) {
	num := NumberID(9)
	data, err := json.Marshal(num)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != "9" {
		t.Errorf("marshaled number id = %s", data)
	}

	var decoded ID
	if err := json.Unmarshal([]byte(`"abc"`), &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.IsString || decoded.Str != "abc" {
		t.Errorf("decoded = %+v", decoded)
	}
	data, _ = json.Marshal(decoded)
	if string(data) != `"abc"` {
		t.Errorf("remarshaled string id = %s", data)
	}
}

func TestEncodeRequest(t *testing.T) {
	data, err := encodeRequest(3, MethodHover, map[string]int{"x": 1})
	if err != nil {
		t.Fatalf("encodeRequest() error = %v", err)
	}
	s := string(data)
	for _, want := range []string{`"jsonrpc":"2.0"`, `"id":3`, `"method":"textDocument/hover"`, `"params":{"x":1}`} {
		if !strings.Contains(s, want) {
			t.Errorf("request %s missing %s", s, want)
		}
	}
}

func TestEncodeNotification_OmitsID(t *testing.T) {
	data, err := encodeNotification(MethodInitialized, struct{}{})
	if err != nil {
		t.Fatalf("encodeNotification() error = %v", err)
	}
	if strings.Contains(string(data), `"id"`) {
		t.Errorf("notification carries an id: %s", data)
	}
}

func TestEncodeResponse_NullResult(t *testing.T) {
	id := NumberID(5)
	data, err := encodeResponse(&id, nil, nil)
	if err != nil {
		t.Fatalf("encodeResponse() error = %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"result":null`) {
		t.Errorf("empty success should carry result null: %s", s)
	}
	if strings.Contains(s, `"error"`) {
		t.Errorf("success response carries error field: %s", s)
	}
}
