package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// testLogger discards log output so failing-path tests stay quiet.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubServer is the far end of an in-memory connection. It reads the
// client's frames and writes scripted server frames.
type stubServer struct {
	fr *frameReader
	fw *frameWriter

	toClient   *io.PipeWriter
	fromClient *io.PipeReader
}

// newConnPair wires a Conn and a stubServer over in-memory pipes.
func newConnPair(t *testing.T) (*Conn, *stubServer) {
	t.Helper()

	serverOutR, serverOutW := io.Pipe() // server to client
	clientOutR, clientOutW := io.Pipe() // client to server

	conn := NewConn(serverOutR, clientOutW, WithLogger(testLogger()))
	stub := &stubServer{
		fr:         newFrameReader(clientOutR),
		fw:         newFrameWriter(serverOutW),
		toClient:   serverOutW,
		fromClient: clientOutR,
	}
	t.Cleanup(func() {
		conn.Close(nil)
		serverOutW.Close()
		clientOutW.Close()
	})
	return conn, stub
}

// read returns the next decoded client frame.
func (s *stubServer) read() (*Message, error) {
	payload, err := s.fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	return decodeMessage(payload)
}

// sendRaw writes one frame with the given JSON text.
func (s *stubServer) sendRaw(data string) error {
	return s.fw.WriteFrame([]byte(data))
}

// send marshals and writes one frame.
func (s *stubServer) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.fw.WriteFrame(data)
}

// respond answers a client request by id.
func (s *stubServer) respond(id *ID, result any) error {
	return s.send(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

// disconnect ends the server-to-client stream, as a dying server would.
func (s *stubServer) disconnect() {
	s.toClient.Close()
}

// drain keeps consuming client frames so writes never block.
func (s *stubServer) drain() {
	go func() {
		for {
			if _, err := s.fr.ReadFrame(); err != nil {
				return
			}
		}
	}()
}

func TestConn_CallResponse(t *testing.T) {
	conn, stub := newConnPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn.Start(ctx)

	go func() {
		msg, err := stub.read()
		if err != nil {
			return
		}
		stub.respond(msg.ID, map[string]string{"status": "ok"})
	}()

	var result map[string]string
	if err := conn.Call(ctx, "test/method", nil, &result); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("result = %v", result)
	}
}

func TestConn_ConcurrentCallsOutOfOrderResponses(t *testing.T) {
	conn, stub := newConnPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn.Start(ctx)

	const calls = 8

	// Collect all requests first, then answer in reverse order. Each
	// response echoes the request method so callers can verify routing.
	go func() {
		msgs := make([]*Message, 0, calls)
		for i := 0; i < calls; i++ {
			msg, err := stub.read()
			if err != nil {
				return
			}
			msgs = append(msgs, msg)
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			stub.respond(msgs[i].ID, map[string]string{"echo": msgs[i].Method})
		}
	}()

	var wg sync.WaitGroup
	errs := make([]error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			method := fmt.Sprintf("test/m%d", n)
			var result struct {
				Echo string `json:"echo"`
			}
			if err := conn.Call(ctx, method, nil, &result); err != nil {
				errs[n] = err
				return
			}
			if result.Echo != method {
				errs[n] = fmt.Errorf("response routed to wrong caller: got %q", result.Echo)
			}
		}(i)
	}
	wg.Wait()

	for n, err := range errs {
		if err != nil {
			t.Errorf("call %d: %v", n, err)
		}
	}
}

func TestConn_CallRPCError(t *testing.T) {
	conn, stub := newConnPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn.Start(ctx)

	go func() {
		msg, err := stub.read()
		if err != nil {
			return
		}
		stub.send(map[string]any{
			"jsonrpc": "2.0",
			"id":      msg.ID,
			"error":   map[string]any{"code": CodeMethodNotFound, "message": "method not found"},
		})
	}()

	err := conn.Call(ctx, "unknown/method", nil, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %v, want *RPCError", err)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Errorf("code = %d, want %d", rpcErr.Code, CodeMethodNotFound)
	}
}

func TestConn_CallTimeoutSendsCancel(t *testing.T) {
	conn, stub := newConnPair(t)
	conn.Start(context.Background())

	requests := make(chan *Message, 4)
	go func() {
		for {
			msg, err := stub.read()
			if err != nil {
				return
			}
			requests <- msg
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := conn.Call(ctx, "slow/method", nil, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}

	// The request, then a best-effort $/cancelRequest for the same id.
	req := <-requests
	select {
	case cancelMsg := <-requests:
		if cancelMsg.Method != MethodCancelRequest {
			t.Fatalf("second frame method = %q, want %q", cancelMsg.Method, MethodCancelRequest)
		}
		var p CancelParams
		if err := json.Unmarshal(cancelMsg.Params, &p); err != nil {
			t.Fatalf("cancel params: %v", err)
		}
		if p.ID.Num != req.ID.Num {
			t.Errorf("cancel id = %d, want %d", p.ID.Num, req.ID.Num)
		}
	case <-time.After(time.Second):
		t.Fatal("no cancel notification after timeout")
	}

	// A late response for the abandoned id is dropped; the conn stays
	// usable.
	stub.respond(req.ID, "late")

	callDone := make(chan error, 1)
	var result string
	go func() {
		callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer callCancel()
		callDone <- conn.Call(callCtx, "next/method", nil, &result)
	}()

	select {
	case next := <-requests:
		stub.respond(next.ID, "fresh")
	case <-time.After(time.Second):
		t.Fatal("follow-up request never arrived")
	}

	if err := <-callDone; err != nil {
		t.Fatalf("call after timeout: %v", err)
	}
	if result != "fresh" {
		t.Errorf("result = %q", result)
	}
}

func TestConn_ServerRequestDefaultResponse(t *testing.T) {
	conn, stub := newConnPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn.Start(ctx)

	stub.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      "srv-1",
		"method":  "client/registerCapability",
		"params":  map[string]any{},
	})

	reply, err := stub.read()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Kind != KindResponse {
		t.Fatalf("reply kind = %v", reply.Kind)
	}
	if !reply.ID.IsString || reply.ID.Str != "srv-1" {
		t.Errorf("reply id = %v", reply.ID)
	}
	if reply.Error != nil {
		t.Errorf("default reply should succeed, got error %v", reply.Error)
	}
}

func TestConn_WorkspaceConfigurationDefaultShape(t *testing.T) {
	conn, stub := newConnPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn.Start(ctx)

	stub.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      11,
		"method":  MethodWorkspaceConfiguration,
		"params": map[string]any{
			"items": []map[string]any{{"section": "gopls"}, {"section": "lint"}},
		},
	})

	reply, err := stub.read()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}

	var result []any
	if err := json.Unmarshal(reply.Result, &result); err != nil {
		t.Fatalf("result: %v", err)
	}
	if len(result) != 2 || result[0] != nil || result[1] != nil {
		t.Errorf("result = %v, want [null null]", result)
	}
}

func TestConn_ServerRequestHandler(t *testing.T) {
	conn, stub := newConnPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn.HandleRequest("window/workDoneProgress/create", func(_ context.Context, params json.RawMessage) (any, error) {
		return map[string]string{"ack": "yes"}, nil
	})
	conn.HandleRequest("fail/method", func(_ context.Context, _ json.RawMessage) (any, error) {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "bad"}
	})
	conn.Start(ctx)

	stub.send(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "window/workDoneProgress/create", "params": map[string]any{}})
	reply, err := stub.read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var result map[string]string
	json.Unmarshal(reply.Result, &result)
	if result["ack"] != "yes" {
		t.Errorf("handler result = %v", result)
	}

	stub.send(map[string]any{"jsonrpc": "2.0", "id": 2, "method": "fail/method"})
	reply, err = stub.read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Error == nil || reply.Error.Code != CodeInvalidParams {
		t.Errorf("handler error = %v, want invalid params", reply.Error)
	}
}

func TestConn_OrderedNotificationsPreserveArrivalOrder(t *testing.T) {
	conn, stub := newConnPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const count = 50
	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	conn.OnNotification(MethodPublishDiagnostics, func(_ string, params json.RawMessage) {
		var p struct {
			Seq int `json:"seq"`
		}
		json.Unmarshal(params, &p)
		mu.Lock()
		got = append(got, p.Seq)
		if len(got) == count {
			close(done)
		}
		mu.Unlock()
	})
	conn.Start(ctx)

	for i := 0; i < count; i++ {
		stub.send(map[string]any{
			"jsonrpc": "2.0",
			"method":  MethodPublishDiagnostics,
			"params":  map[string]int{"seq": i},
		})
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("notifications not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range got {
		if seq != i {
			t.Fatalf("order broken at %d: got seq %d", i, seq)
		}
	}
}

func TestConn_WildcardListener(t *testing.T) {
	conn, stub := newConnPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	methods := make(chan string, 2)
	conn.OnNotification("*", func(method string, _ json.RawMessage) {
		methods <- method
	})
	conn.Start(ctx)

	stub.send(map[string]any{"jsonrpc": "2.0", "method": "custom/one"})

	select {
	case m := <-methods:
		if m != "custom/one" {
			t.Errorf("method = %q", m)
		}
	case <-time.After(time.Second):
		t.Fatal("wildcard listener not invoked")
	}
}

func TestConn_MalformedPayloadDoesNotKillTransport(t *testing.T) {
	conn, stub := newConnPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn.Start(ctx)

	// Undecodable JSON in a well-formed frame is dropped.
	stub.sendRaw(`{"jsonrpc":"2.0", this is not json`)

	go func() {
		msg, err := stub.read()
		if err != nil {
			return
		}
		stub.respond(msg.ID, "alive")
	}()

	var result string
	if err := conn.Call(ctx, "ping", nil, &result); err != nil {
		t.Fatalf("transport died on malformed payload: %v", err)
	}
	if result != "alive" {
		t.Errorf("result = %q", result)
	}
}

func TestConn_DisconnectFlushesPendingCalls(t *testing.T) {
	conn, stub := newConnPair(t)
	conn.Start(context.Background())
	stub.drain()

	const calls = 2
	errCh := make(chan error, calls)
	for i := 0; i < calls; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errCh <- conn.Call(ctx, "never/answered", nil, nil)
		}()
	}

	// Give the calls time to hit the wire, then kill the stream.
	time.Sleep(50 * time.Millisecond)
	stub.disconnect()

	for i := 0; i < calls; i++ {
		select {
		case err := <-errCh:
			if !errors.Is(err, ErrTransportClosed) {
				t.Errorf("call error = %v, want ErrTransportClosed", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("pending call not flushed")
		}
	}

	if !conn.IsClosed() {
		t.Error("conn should be closed after stream EOF")
	}
	if err := conn.Call(context.Background(), "post/mortem", nil, nil); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("call after close = %v, want ErrTransportClosed", err)
	}
}

// lockedBuffer is a log sink safe for the read loop to write while the
// test reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConn_UnmatchedResponseLogsProtocolViolation(t *testing.T) {
	serverOutR, serverOutW := io.Pipe()
	clientOutR, clientOutW := io.Pipe()

	var logs lockedBuffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	conn := NewConn(serverOutR, clientOutW, WithLogger(logger))
	stub := &stubServer{
		fr:         newFrameReader(clientOutR),
		fw:         newFrameWriter(serverOutW),
		toClient:   serverOutW,
		fromClient: clientOutR,
	}
	t.Cleanup(func() {
		conn.Close(nil)
		serverOutW.Close()
		clientOutW.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn.Start(ctx)

	if err := stub.send(map[string]any{"jsonrpc": "2.0", "id": 999, "result": nil}); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(logs.String(), ErrProtocolViolation.Error()) {
		if time.Now().After(deadline) {
			t.Fatalf("unmatched response not logged as a protocol violation; logs:\n%s", logs.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The stray response must not take the transport down.
	go func() {
		msg, err := stub.read()
		if err != nil {
			return
		}
		stub.respond(msg.ID, nil)
	}()
	if err := conn.Call(ctx, "still/alive", nil, nil); err != nil {
		t.Errorf("call after stray response = %v", err)
	}
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	conn, _ := newConnPair(t)
	conn.Start(context.Background())

	custom := errors.New("first reason wins")
	conn.Close(custom)
	conn.Close(errors.New("second reason"))

	if !errors.Is(conn.Err(), custom) {
		t.Errorf("Err() = %v, want first reason", conn.Err())
	}
}
