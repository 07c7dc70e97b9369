package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

// SessionState is the lifecycle state of a Session.
type SessionState int32

const (
	StateUnstarted SessionState = iota
	StateInitializing
	StateReady
	StateShuttingDown
	StateClosed
	StateFailed
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting down"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionConfig configures one language server session.
type SessionConfig struct {
	// Launch describes how to start the server process.
	Launch LaunchConfig

	// LanguageID is the language this server handles.
	LanguageID string

	// WorkspaceFolders are advertised during initialize; the first one
	// doubles as the root URI.
	WorkspaceFolders []WorkspaceFolder

	// ClientInfo names this client to the server.
	ClientInfo *ClientInfo

	// ClientCapabilities is the declared capability blob, merged verbatim
	// into the initialize request. Defaults to a minimal declaration.
	ClientCapabilities json.RawMessage

	// InitializationOptions is the opaque per-server payload; the session
	// transports it without interpretation.
	InitializationOptions json.RawMessage

	// Settings backs workspace/configuration pulls: each requested section
	// is answered with the value at that dotted path, null when absent.
	Settings json.RawMessage

	// RequestTimeout bounds each request (default 30s).
	RequestTimeout time.Duration

	// ShutdownGrace bounds the shutdown request and the wait for process
	// exit before force-kill (default 5s).
	ShutdownGrace time.Duration

	// Logger receives protocol and server-stderr noise.
	// Defaults to slog.Default().
	Logger *slog.Logger
}

// defaultClientCapabilities is used when the caller declares nothing.
var defaultClientCapabilities = json.RawMessage(`{
	"textDocument": {
		"synchronization": {"didSave": true},
		"publishDiagnostics": {"relatedInformation": true},
		"hover": {"contentFormat": ["markdown", "plaintext"]},
		"definition": {"linkSupport": true}
	},
	"workspace": {"configuration": true, "workspaceFolders": true},
	"window": {"workDoneProgress": true}
}`)

// Session is one connection to one launched language server. It owns the
// subprocess, the framed connection, the capability snapshot, and the open
// document set. Sessions are independently constructible; there is no
// process-wide shared state.
type Session struct {
	config SessionConfig
	logger *slog.Logger

	state atomic.Int32

	mu         sync.Mutex
	proc       *process
	conn       *Conn
	caps       ServerCapabilities
	serverInfo *ServerInfo

	docs     *documentSet
	diags    *diagnosticsStore
	progress *progressRouter

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

// NewSession creates a session (not yet started).
func NewSession(config SessionConfig) *Session {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.ShutdownGrace == 0 {
		config.ShutdownGrace = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if len(config.ClientCapabilities) == 0 {
		config.ClientCapabilities = defaultClientCapabilities
	}

	s := &Session{
		config:   config,
		logger:   config.Logger,
		docs:     newDocumentSet(),
		diags:    newDiagnosticsStore(),
		progress: newProgressRouter(),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateUnstarted))
	return s
}

// Start spawns the server process and runs the initialize handshake.
// On return with nil error the session is Ready.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateUnstarted), int32(StateInitializing)) {
		return ErrAlreadyStarted
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	proc, err := startProcess(s.ctx, s.config.Launch, s.logger)
	if err != nil {
		s.fail(err)
		return err
	}

	conn := NewConn(proc.stdout, proc.stdin, WithLogger(s.logger))
	return s.start(proc, conn)
}

// start wires a connection (and optionally a process) into the session and
// drives the handshake. Split from Start so tests can run the machine over
// in-memory pipes.
func (s *Session) start(proc *process, conn *Conn) error {
	s.mu.Lock()
	s.proc = proc
	s.conn = conn
	s.mu.Unlock()

	s.registerHandlers(conn)
	conn.Start(s.ctx)
	go s.monitor(proc, conn)

	if err := s.handshake(conn); err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrSessionFailed, err))
		return fmt.Errorf("initialize: %w", err)
	}

	s.state.Store(int32(StateReady))
	return nil
}

// handshake sends initialize, snapshots the capabilities, and confirms
// with the initialized notification.
func (s *Session) handshake(conn *Conn) error {
	var rootURI DocumentURI
	var rootPath string
	if len(s.config.WorkspaceFolders) > 0 {
		rootURI = s.config.WorkspaceFolders[0].URI
		rootPath = URIToFilePath(rootURI)
	}

	params := InitializeParams{
		ProcessID:             os.Getpid(),
		ClientInfo:            s.config.ClientInfo,
		RootPath:              rootPath,
		RootURI:               rootURI,
		Capabilities:          s.config.ClientCapabilities,
		InitializationOptions: s.config.InitializationOptions,
		WorkspaceFolders:      s.config.WorkspaceFolders,
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.config.RequestTimeout)
	defer cancel()

	var result InitializeResult
	if err := conn.Call(ctx, MethodInitialize, params, &result); err != nil {
		return err
	}

	s.mu.Lock()
	s.caps = newServerCapabilities(result.Capabilities)
	s.serverInfo = result.ServerInfo
	s.mu.Unlock()

	return conn.Notify(ctx, MethodInitialized, InitializedParams{})
}

// registerHandlers installs the built-in server-push routing.
func (s *Session) registerHandlers(conn *Conn) {
	conn.OnNotification(MethodPublishDiagnostics, func(_ string, params json.RawMessage) {
		s.diags.publish(params)
	})
	conn.OnNotification(MethodProgress, s.progress.dispatch)
	conn.HandleRequest(MethodWorkDoneProgressCreate, s.progress.create)
	if len(s.config.Settings) > 0 {
		conn.HandleRequest(MethodWorkspaceConfiguration, s.configurationHandler)
	}

	conn.OnNotification(MethodLogMessage, func(_ string, params json.RawMessage) {
		var p LogMessageParams
		if err := json.Unmarshal(params, &p); err == nil {
			s.logger.Debug("server log", "message", p.Message)
		}
	})
	conn.OnNotification(MethodShowMessage, func(_ string, params json.RawMessage) {
		var p ShowMessageParams
		if err := json.Unmarshal(params, &p); err == nil {
			s.logger.Info("server message", "message", p.Message)
		}
	})
}

// configurationHandler answers workspace/configuration from the configured
// settings tree. Sections are gjson paths; unknown sections answer null.
func (s *Session) configurationHandler(_ context.Context, params json.RawMessage) (any, error) {
	var p ConfigurationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}

	results := make([]any, len(p.Items))
	for i, item := range p.Items {
		if item.Section == "" {
			continue
		}
		v := gjson.GetBytes(s.config.Settings, item.Section)
		if !v.Exists() {
			continue
		}
		results[i] = json.RawMessage(v.Raw)
	}
	return results, nil
}

// monitor observes process exit and transport termination and drives the
// session to its terminal state. Process exit is reported exactly once.
func (s *Session) monitor(proc *process, conn *Conn) {
	var exitCh <-chan error
	if proc != nil {
		exitCh = proc.ExitChannel()
	}

	select {
	case exitErr := <-exitCh:
		if s.inShutdown() {
			conn.Close(ErrSessionClosed)
			s.state.Store(int32(StateClosed))
			return
		}
		if exitErr == nil {
			exitErr = fmt.Errorf("server exited unexpectedly")
		}
		s.logger.Warn("server process exited", "language", s.config.LanguageID, "error", exitErr)
		s.fail(fmt.Errorf("%w: %v", ErrSessionFailed, exitErr))
	case <-conn.Done():
		if s.inShutdown() {
			return
		}
		err := conn.Err()
		s.logger.Warn("transport terminated", "language", s.config.LanguageID, "error", err)
		s.fail(fmt.Errorf("%w: %v", ErrSessionFailed, err))
		if proc != nil {
			proc.Kill()
		}
	}
}

// inShutdown reports whether the session is in or past ShuttingDown.
func (s *Session) inShutdown() bool {
	switch s.State() {
	case StateShuttingDown, StateClosed, StateFailed:
		return true
	default:
		return false
	}
}

// fail moves the session to Failed and flushes all pending calls with the
// terminal error. Closed sessions stay closed.
func (s *Session) fail(reason error) {
	for {
		state := s.state.Load()
		if state == int32(StateClosed) || state == int32(StateFailed) {
			return
		}
		if s.state.CompareAndSwap(state, int32(StateFailed)) {
			break
		}
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close(reason)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed once the session reaches Closed or Failed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Shutdown drives the polite teardown: shutdown request (bounded by the
// grace period), exit notification, then process termination. Outstanding
// calls fail with ErrSessionClosed. Safe to call more than once.
func (s *Session) Shutdown(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateReady), int32(StateShuttingDown)) {
		// Allow shutdown out of Initializing as well; anything else is done.
		if !s.state.CompareAndSwap(int32(StateInitializing), int32(StateShuttingDown)) {
			// A session that never started has nothing to tear down, but
			// Done must still resolve for anyone watching it.
			if s.state.CompareAndSwap(int32(StateUnstarted), int32(StateClosed)) {
				s.doneOnce.Do(func() { close(s.done) })
			}
			return nil
		}
	}

	s.mu.Lock()
	conn := s.conn
	proc := s.proc
	s.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		callCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownGrace)
		// The server may never answer shutdown; proceed to exit regardless.
		_ = conn.Call(callCtx, MethodShutdown, nil, nil)
		_ = conn.Notify(callCtx, MethodExit, nil)
		cancel()
	}

	if proc != nil {
		proc.Terminate(s.config.ShutdownGrace)
	}

	if conn != nil {
		conn.Close(ErrSessionClosed)
	}
	s.state.Store(int32(StateClosed))

	if s.cancel != nil {
		s.cancel()
	}
	s.doneOnce.Do(func() { close(s.done) })
	return nil
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Capabilities returns the immutable capability snapshot. Zero before
// Ready.
func (s *Session) Capabilities() ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// ServerInfo returns the server identity from the handshake, if any.
func (s *Session) ServerInfo() *ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// LanguageID returns the language this session serves.
func (s *Session) LanguageID() string {
	return s.config.LanguageID
}

// connection returns the live conn, or nil before start.
func (s *Session) connection() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// call runs one feature request with the per-call timeout. Calls before
// Ready never reach the wire. A transport death mid-call resolves to the
// session's terminal error once the monitor has settled the state.
func (s *Session) call(ctx context.Context, method string, params, result any) error {
	if s.State() != StateReady {
		return s.terminalErr()
	}
	conn := s.connection()

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	err := conn.Call(ctx, method, params, result)
	if err != nil && errors.Is(err, ErrTransportClosed) {
		<-s.done
		return s.terminalErr()
	}
	return err
}

// notify sends one synchronization notification. Rejected before Ready.
func (s *Session) notify(ctx context.Context, method string, params any) error {
	if s.State() != StateReady {
		return s.terminalErr()
	}
	return s.connection().Notify(ctx, method, params)
}

// terminalErr maps a non-Ready state to its rejection error.
func (s *Session) terminalErr() error {
	switch s.State() {
	case StateClosed, StateShuttingDown:
		return ErrSessionClosed
	case StateFailed:
		return ErrSessionFailed
	default:
		return ErrSessionNotReady
	}
}

// requireCapability gates a feature call on the advertised server
// capabilities; absence generates zero outbound bytes.
func (s *Session) requireCapability(path string) error {
	if s.State() != StateReady {
		return s.terminalErr()
	}
	if !s.Capabilities().Supports(path) {
		return fmt.Errorf("%w: %s", ErrNotSupported, path)
	}
	return nil
}

// --- Document synchronization ---

// OpenDocument opens a document at version 0 and sends didOpen.
func (s *Session) OpenDocument(ctx context.Context, path, languageID, content string) error {
	if s.State() != StateReady {
		return s.terminalErr()
	}

	uri := FilePathToURI(path)
	od, err := s.docs.open(uri, languageID, content)
	if err != nil {
		return err
	}

	od.mu.Lock()
	defer od.mu.Unlock()

	params := DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    od.doc.Version,
			Text:       content,
		},
	}
	return s.notify(ctx, MethodDidOpen, params)
}

// ChangeDocument bumps the version and sends didChange. The per-document
// lock holds across the send, so versions hit the wire in increasing
// order even under concurrent callers.
func (s *Session) ChangeDocument(ctx context.Context, path string, changes []TextDocumentContentChangeEvent) error {
	if s.State() != StateReady {
		return s.terminalErr()
	}

	uri := FilePathToURI(path)
	od, err := s.docs.get(uri)
	if err != nil {
		return err
	}

	od.mu.Lock()
	defer od.mu.Unlock()

	od.doc.Version++
	for _, change := range changes {
		od.doc.Content = applyChange(od.doc.Content, change)
	}

	params := DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: uri},
			Version:                od.doc.Version,
		},
		ContentChanges: changes,
	}
	return s.notify(ctx, MethodDidChange, params)
}

// CloseDocument sends didClose and destroys the handle. Later sync calls
// for the URI fail with ErrDocumentNotOpen.
func (s *Session) CloseDocument(ctx context.Context, path string) error {
	if s.State() != StateReady {
		return s.terminalErr()
	}

	uri := FilePathToURI(path)
	if _, err := s.docs.close(uri); err != nil {
		return err
	}

	params := DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	}
	return s.notify(ctx, MethodDidClose, params)
}

// SaveDocument sends didSave for an open document.
func (s *Session) SaveDocument(ctx context.Context, path string) error {
	if s.State() != StateReady {
		return s.terminalErr()
	}

	uri := FilePathToURI(path)
	od, err := s.docs.get(uri)
	if err != nil {
		return err
	}

	od.mu.Lock()
	text := od.doc.Content
	od.mu.Unlock()

	params := DidSaveTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Text:         text,
	}
	return s.notify(ctx, MethodDidSave, params)
}

// IsDocumentOpen reports whether the document is currently open.
func (s *Session) IsDocumentOpen(path string) bool {
	_, err := s.docs.get(FilePathToURI(path))
	return err == nil
}

// OpenDocuments returns snapshots of all open documents.
func (s *Session) OpenDocuments() []Document {
	return s.docs.snapshot()
}

// --- Diagnostics ---

// Diagnostics returns the last published diagnostics for a file.
func (s *Session) Diagnostics(path string) []Diagnostic {
	return s.diags.forURI(FilePathToURI(path))
}

// AllDiagnostics returns the last published diagnostics for every URI.
func (s *Session) AllDiagnostics() map[DocumentURI][]Diagnostic {
	return s.diags.all()
}

// OnDiagnostics registers the diagnostics change handler. For one URI,
// invocations preserve the arrival order of the server's pushes.
func (s *Session) OnDiagnostics(h DiagnosticsHandler) {
	s.diags.setHandler(h)
}

// OnProgress registers a handler for $/progress values of one token.
func (s *Session) OnProgress(token string, h ProgressHandler) {
	s.progress.listen(token, h)
}
