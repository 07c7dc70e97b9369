package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ProgressHandler observes $/progress values for one token. Values arrive
// raw (begin/report/end shapes) in wire order.
type ProgressHandler func(value json.RawMessage)

// progressRouter routes $/progress notifications by token and accepts
// window/workDoneProgress/create requests for server-initiated progress.
type progressRouter struct {
	mu        sync.Mutex
	listeners map[string][]ProgressHandler
	known     map[string]bool
}

func newProgressRouter() *progressRouter {
	return &progressRouter{
		listeners: make(map[string][]ProgressHandler),
		known:     make(map[string]bool),
	}
}

// NewProgressToken mints a client-side work-done token for attaching to
// outgoing requests.
func NewProgressToken() string {
	return uuid.NewString()
}

// tokenKey normalizes the integer-or-string token to a map key.
func tokenKey(token any) string {
	switch t := token.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%d", int64(t))
	default:
		return fmt.Sprintf("%v", t)
	}
}

// listen registers a handler for one token.
func (pr *progressRouter) listen(token string, h ProgressHandler) {
	pr.mu.Lock()
	pr.listeners[token] = append(pr.listeners[token], h)
	pr.known[token] = true
	pr.mu.Unlock()
}

// create handles window/workDoneProgress/create; the token becomes known
// so later $/progress values route cleanly. The response is an empty
// success.
func (pr *progressRouter) create(_ context.Context, params json.RawMessage) (any, error) {
	var p WorkDoneProgressCreateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}
	pr.mu.Lock()
	pr.known[tokenKey(p.Token)] = true
	pr.mu.Unlock()
	return nil, nil
}

// dispatch routes one $/progress notification. Runs on the serial lane,
// preserving per-token order.
func (pr *progressRouter) dispatch(_ string, params json.RawMessage) {
	var p ProgressParams
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}

	pr.mu.Lock()
	handlers := pr.listeners[tokenKey(p.Token)]
	pr.mu.Unlock()

	for _, h := range handlers {
		h(p.Value)
	}
}
