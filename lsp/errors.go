package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the client.
var (
	// ErrTransportClosed indicates the stdio pipe ended or broke mid-frame.
	ErrTransportClosed = errors.New("transport closed")

	// ErrProtocolViolation indicates a malformed or unmatchable message.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrSessionNotReady indicates the session has not finished the
	// initialize handshake.
	ErrSessionNotReady = errors.New("session not ready")

	// ErrSessionClosed indicates the session was shut down cleanly.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionFailed indicates the session was torn down by a transport
	// failure or server crash.
	ErrSessionFailed = errors.New("session failed")

	// ErrAlreadyStarted indicates the session is already running.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrSpawnFailed indicates the server process could not be started.
	ErrSpawnFailed = errors.New("spawn failed")

	// ErrTimeout indicates a request exceeded its deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrNotSupported indicates the server does not advertise the
	// capability required by the request.
	ErrNotSupported = errors.New("feature not supported by server")

	// ErrDocumentNotOpen indicates the document has not been opened.
	ErrDocumentNotOpen = errors.New("document not open")

	// ErrDocumentAlreadyOpen indicates the document is already open.
	ErrDocumentAlreadyOpen = errors.New("document already open")

	// ErrNoServer indicates no server is configured for the language.
	ErrNoServer = errors.New("no server configured for language")

	// ErrRestartsExhausted indicates a crashed server exceeded its
	// restart budget and will not be retried.
	ErrRestartsExhausted = errors.New("server restart attempts exhausted")
)

// RPCError represents a JSON-RPC error object from the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	// JSON-RPC standard errors
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeServerCancelled      = -32802
	CodeRequestFailed        = -32803
)

// ServerError wraps an error with the language the failing server handles.
type ServerError struct {
	LanguageID string
	Err        error
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server %s: %v", e.LanguageID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Err
}
