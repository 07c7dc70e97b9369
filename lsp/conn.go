package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// RequestHandler answers a server-initiated request. The returned value is
// marshaled as the response result; a returned error becomes a JSON-RPC
// error object.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationHandler consumes a server-initiated notification.
type NotificationHandler func(method string, params json.RawMessage)

// orderedMethods lists notification methods whose handlers must observe
// arrival order. They are dispatched on a single serial lane; everything
// else may run concurrently.
var orderedMethods = map[string]bool{
	MethodPublishDiagnostics: true,
	MethodProgress:           true,
}

// Conn multiplexes concurrent JSON-RPC calls over one framed stdio stream.
// A single reader goroutine decodes frames in order and routes them:
// responses to the pending-call table, server requests to registered
// handlers, notifications to registered listeners. Callers of Call suspend
// on their own pending slot and never block the reader.
type Conn struct {
	fr     *frameReader
	fw     *frameWriter
	logger *slog.Logger

	nextID atomic.Int64

	mu          sync.Mutex
	pending     map[int64]chan *Message
	reqHandlers map[string]RequestHandler
	listeners   map[string][]NotificationHandler

	serialCh chan func()

	done    chan struct{}
	closed  atomic.Bool
	errOnce sync.Once
	err     error
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithLogger sets the logger used for dropped frames and protocol violations.
func WithLogger(logger *slog.Logger) ConnOption {
	return func(c *Conn) {
		c.logger = logger
	}
}

// NewConn creates a connection over the given reader/writer pair
// (typically the server's stdout/stdin pipes).
func NewConn(r io.Reader, w io.Writer, opts ...ConnOption) *Conn {
	c := &Conn{
		fr:          newFrameReader(r),
		fw:          newFrameWriter(w),
		logger:      slog.Default(),
		pending:     make(map[int64]chan *Message),
		reqHandlers: make(map[string]RequestHandler),
		listeners:   make(map[string][]NotificationHandler),
		serialCh:    make(chan func(), 256),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the reader goroutine and the serial dispatch lane.
func (c *Conn) Start(ctx context.Context) {
	go c.readLoop(ctx)
	go c.serialLoop()
}

// Close tears the connection down with the given terminal error.
// All pending calls unblock and fail with it; ErrSessionClosed is used
// when reason is nil.
func (c *Conn) Close(reason error) {
	if reason == nil {
		reason = ErrSessionClosed
	}
	c.closeWithErr(reason)
}

func (c *Conn) closeWithErr(reason error) {
	c.errOnce.Do(func() {
		c.err = reason
		c.closed.Store(true)

		// Drop the pending table rather than closing per-call channels;
		// waiters unblock on done and read the terminal error.
		c.mu.Lock()
		c.pending = make(map[int64]chan *Message)
		c.mu.Unlock()

		close(c.done)
	})
}

// Err returns the terminal error after Close, nil before.
func (c *Conn) Err() error {
	if !c.closed.Load() {
		return nil
	}
	return c.err
}

// Done is closed when the connection reaches its terminal state.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// IsClosed reports whether the connection has terminated.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Call sends a request and suspends the caller until the matching response
// arrives, ctx expires, or the connection closes, whichever first. A
// deadline expiry yields ErrTimeout and a best-effort $/cancelRequest for
// the same id. A JSON-RPC error object is returned as *RPCError.
func (c *Conn) Call(ctx context.Context, method string, params any, result any) error {
	if c.closed.Load() {
		return c.err
	}

	id := c.nextID.Add(1)
	ch := make(chan *Message, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := encodeRequest(id, method, params)
	if err != nil {
		c.removePending(id)
		return err
	}
	if err := c.fw.WriteFrame(data); err != nil {
		c.removePending(id)
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.removePending(id)
		c.cancelCall(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrTimeout, method)
		}
		return ctx.Err()
	case <-c.done:
		return c.err
	case msg := <-ch:
		if msg.Error != nil {
			return msg.Error
		}
		if result != nil && len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, result); err != nil {
				return fmt.Errorf("unmarshal %s result: %w", method, err)
			}
		}
		return nil
	}
}

// Notify sends a notification. It never suspends on a response.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	if c.closed.Load() {
		return c.err
	}
	data, err := encodeNotification(method, params)
	if err != nil {
		return err
	}
	if err := c.fw.WriteFrame(data); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	return nil
}

// HandleRequest registers a handler for a server-initiated request method.
// Unhandled methods receive a default empty success response.
func (c *Conn) HandleRequest(method string, handler RequestHandler) {
	c.mu.Lock()
	c.reqHandlers[method] = handler
	c.mu.Unlock()
}

// OnNotification registers a listener for a notification method.
// "*" matches every method. Multiple listeners per method are allowed.
func (c *Conn) OnNotification(method string, handler NotificationHandler) {
	c.mu.Lock()
	c.listeners[method] = append(c.listeners[method], handler)
	c.mu.Unlock()
}

func (c *Conn) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// cancelCall issues a best-effort $/cancelRequest for a timed-out or
// abandoned call. The server may still answer; the late response is
// dropped as unmatched.
func (c *Conn) cancelCall(id int64) {
	if c.closed.Load() {
		return
	}
	data, err := encodeNotification(MethodCancelRequest, CancelParams{ID: NumberID(id)})
	if err != nil {
		return
	}
	if err := c.fw.WriteFrame(data); err != nil {
		c.logger.Debug("cancel request not delivered", "id", id, "error", err)
	}
}

// readLoop reads and dispatches frames until the stream ends. It is the
// only goroutine that decodes inbound messages, preserving frame order.
func (c *Conn) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.closeWithErr(ErrSessionClosed)
			return
		case <-c.done:
			return
		default:
		}

		payload, err := c.fr.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrProtocolViolation) {
				// Single bad frame, keep the transport alive.
				c.logger.Warn("dropping malformed frame", "error", err)
				continue
			}
			if !c.closed.Load() {
				c.closeWithErr(fmt.Errorf("%w: %v", ErrTransportClosed, err))
			}
			return
		}

		msg, err := decodeMessage(payload)
		if err != nil {
			c.logger.Warn("dropping undecodable message", "error", err)
			continue
		}

		c.dispatch(ctx, msg)
	}
}

// serialLoop runs handlers for order-sensitive notifications one at a time,
// in arrival order.
func (c *Conn) serialLoop() {
	for {
		select {
		case <-c.done:
			return
		case fn := <-c.serialCh:
			fn()
		}
	}
}

// dispatch routes one decoded message.
func (c *Conn) dispatch(ctx context.Context, msg *Message) {
	switch msg.Kind {
	case KindResponse:
		c.dispatchResponse(msg)
	case KindRequest:
		c.dispatchRequest(ctx, msg)
	case KindNotification:
		c.dispatchNotification(msg)
	}
}

func (c *Conn) dispatchResponse(msg *Message) {
	if msg.ID.IsString {
		// The client only mints integer ids.
		c.logger.Debug("dropping response with unknown string id", "id", msg.ID.Str, "error", ErrProtocolViolation)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[msg.ID.Num]
	if ok {
		delete(c.pending, msg.ID.Num)
	}
	c.mu.Unlock()

	if !ok {
		// Expected after a local timeout already removed the entry.
		c.logger.Debug("dropping unmatched response", "id", msg.ID.Num, "error", ErrProtocolViolation)
		return
	}

	select {
	case ch <- msg:
	default:
	}
}

func (c *Conn) dispatchRequest(ctx context.Context, msg *Message) {
	c.mu.Lock()
	handler := c.reqHandlers[msg.Method]
	c.mu.Unlock()

	// Answer off the reader goroutine so a slow handler cannot stall
	// frame decoding.
	go func() {
		if handler == nil {
			c.respond(msg.ID, defaultRequestResult(msg.Method, msg.Params), nil)
			return
		}
		result, err := handler(ctx, msg.Params)
		if err != nil {
			var rpcErr *RPCError
			if !errors.As(err, &rpcErr) {
				rpcErr = &RPCError{Code: CodeInternalError, Message: err.Error()}
			}
			c.respond(msg.ID, nil, rpcErr)
			return
		}
		c.respond(msg.ID, result, nil)
	}()
}

func (c *Conn) dispatchNotification(msg *Message) {
	c.mu.Lock()
	handlers := make([]NotificationHandler, 0, len(c.listeners[msg.Method])+len(c.listeners["*"]))
	handlers = append(handlers, c.listeners[msg.Method]...)
	handlers = append(handlers, c.listeners["*"]...)
	c.mu.Unlock()

	if len(handlers) == 0 {
		return // unrouted notifications are discarded
	}

	if orderedMethods[msg.Method] {
		fn := func() {
			for _, h := range handlers {
				h(msg.Method, msg.Params)
			}
		}
		select {
		case c.serialCh <- fn:
		case <-c.done:
		}
		return
	}

	for _, h := range handlers {
		go h(msg.Method, msg.Params)
	}
}

// respond sends a reply to a server-initiated request. Errors keep the
// server's expectation satisfied even when no handler is registered.
func (c *Conn) respond(id *ID, result any, rpcErr *RPCError) {
	data, err := encodeResponse(id, result, rpcErr)
	if err != nil {
		c.logger.Warn("could not encode response to server request", "error", err)
		return
	}
	if err := c.fw.WriteFrame(data); err != nil {
		c.logger.Debug("could not deliver response to server request", "error", err)
	}
}

// defaultRequestResult builds the empty success answer for an unhandled
// server request. workspace/configuration expects one entry per requested
// item; everything else accepts null.
func defaultRequestResult(method string, params json.RawMessage) any {
	if method == MethodWorkspaceConfiguration {
		var p ConfigurationParams
		if err := json.Unmarshal(params, &p); err == nil {
			return make([]any, len(p.Items))
		}
	}
	return nil
}
