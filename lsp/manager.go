package lsp

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"
)

// RestartPolicy controls crash recovery for managed sessions.
type RestartPolicy struct {
	// MaxRestarts is the restart budget before a server is declared
	// permanently failed. Default: 5.
	MaxRestarts int

	// InitialBackoff is the delay before the first restart. Default: 1s.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay. Default: 60s.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay per consecutive failure.
	// Default: 2.0.
	BackoffMultiplier float64

	// ResetWindow is how long a server must stay up for its restart
	// count to reset. Default: 5m.
	ResetWindow time.Duration
}

// DefaultRestartPolicy returns the default crash recovery policy.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		MaxRestarts:       5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2.0,
		ResetWindow:       5 * time.Minute,
	}
}

// CalculateBackoff returns the delay before restart attempt n.
// Attempt 0 or 1 gets the initial delay; later attempts grow
// exponentially up to max.
func CalculateBackoff(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt <= 1 {
		return initial
	}
	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}

// trackedDocument captures what is needed to re-open a document on a
// recovered server.
type trackedDocument struct {
	path       string
	languageID string
	content    string
}

// managedSession pairs a live session with its recovery bookkeeping.
type managedSession struct {
	mu           sync.Mutex
	languageID   string
	session      *Session
	restartCount int
	lastStart    time.Time
	failed       bool

	tracked map[DocumentURI]trackedDocument
}

// Manager coordinates one session per language, starting servers lazily
// from registered configs, routing operations by file type, and restarting
// crashed servers with exponential backoff.
type Manager struct {
	mu      sync.RWMutex
	configs map[string]SessionConfig
	entries map[string]*managedSession

	policy        RestartPolicy
	supervise     bool
	diagnosticsCb DiagnosticsHandler
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithRestartPolicy enables crash recovery with the given policy.
func WithRestartPolicy(policy RestartPolicy) ManagerOption {
	return func(m *Manager) {
		m.supervise = true
		m.policy = policy
	}
}

// WithDiagnosticsHandler forwards every session's diagnostic pushes to one
// handler.
func WithDiagnosticsHandler(h DiagnosticsHandler) ManagerOption {
	return func(m *Manager) {
		m.diagnosticsCb = h
	}
}

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an empty manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		configs: make(map[string]SessionConfig),
		entries: make(map[string]*managedSession),
		policy:  DefaultRestartPolicy(),
		logger:  slog.Default(),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register associates a session config with a language.
func (m *Manager) Register(languageID string, config SessionConfig) {
	config.LanguageID = languageID
	m.mu.Lock()
	m.configs[languageID] = config
	m.mu.Unlock()
}

// Languages lists the registered languages.
func (m *Manager) Languages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	langs := make([]string, 0, len(m.configs))
	for lang := range m.configs {
		langs = append(langs, lang)
	}
	return langs
}

// SessionFor returns the ready session for a language, starting it on
// first use.
func (m *Manager) SessionFor(ctx context.Context, languageID string) (*Session, error) {
	m.mu.RLock()
	entry, exists := m.entries[languageID]
	m.mu.RUnlock()

	if exists {
		return m.sessionFromEntry(entry)
	}

	m.mu.Lock()
	if entry, exists = m.entries[languageID]; exists {
		m.mu.Unlock()
		return m.sessionFromEntry(entry)
	}

	config, hasConfig := m.configs[languageID]
	if !hasConfig {
		m.mu.Unlock()
		return nil, &ServerError{LanguageID: languageID, Err: ErrNoServer}
	}

	entry = &managedSession{
		languageID: languageID,
		tracked:    make(map[DocumentURI]trackedDocument),
	}
	m.entries[languageID] = entry
	m.mu.Unlock()

	session, err := m.startSession(ctx, entry, config)
	if err != nil {
		m.mu.Lock()
		delete(m.entries, languageID)
		m.mu.Unlock()
		return nil, &ServerError{LanguageID: languageID, Err: err}
	}
	return session, nil
}

func (m *Manager) sessionFromEntry(entry *managedSession) (*Session, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.failed {
		return nil, &ServerError{LanguageID: entry.languageID, Err: ErrRestartsExhausted}
	}
	if entry.session == nil || entry.session.State() != StateReady {
		return nil, &ServerError{LanguageID: entry.languageID, Err: ErrSessionNotReady}
	}
	return entry.session, nil
}

// startSession builds, starts, and begins watching one session.
func (m *Manager) startSession(ctx context.Context, entry *managedSession, config SessionConfig) (*Session, error) {
	session := NewSession(config)
	if m.diagnosticsCb != nil {
		session.OnDiagnostics(m.diagnosticsCb)
	}

	if err := session.Start(ctx); err != nil {
		return nil, err
	}

	entry.mu.Lock()
	entry.session = session
	entry.lastStart = time.Now()
	entry.mu.Unlock()

	if m.supervise {
		go m.watch(entry, session, config)
	}
	return session, nil
}

// watch restarts a crashed session with backoff until the budget runs out
// or the manager shuts down. Documents tracked for the entry are re-opened
// on the recovered server.
func (m *Manager) watch(entry *managedSession, session *Session, config SessionConfig) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-session.Done():
		}

		if session.State() == StateClosed {
			return // deliberate shutdown
		}

		entry.mu.Lock()
		if time.Since(entry.lastStart) > m.policy.ResetWindow {
			entry.restartCount = 0
		}
		entry.restartCount++
		attempt := entry.restartCount
		entry.mu.Unlock()

		if attempt > m.policy.MaxRestarts {
			m.logger.Error("server restart budget exhausted", "language", entry.languageID, "attempts", attempt-1)
			entry.mu.Lock()
			entry.failed = true
			entry.session = nil
			entry.mu.Unlock()
			return
		}

		delay := CalculateBackoff(attempt, m.policy.InitialBackoff, m.policy.MaxBackoff, m.policy.BackoffMultiplier)
		m.logger.Warn("server crashed, restarting", "language", entry.languageID, "attempt", attempt, "backoff", delay)

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		fresh := NewSession(config)
		if m.diagnosticsCb != nil {
			fresh.OnDiagnostics(m.diagnosticsCb)
		}
		if err := fresh.Start(m.ctx); err != nil {
			m.logger.Warn("server restart failed", "language", entry.languageID, "error", err)
			session = fresh // its Done is already closed; loop retries
			continue
		}

		entry.mu.Lock()
		entry.session = fresh
		entry.lastStart = time.Now()
		docs := make([]trackedDocument, 0, len(entry.tracked))
		for _, td := range entry.tracked {
			docs = append(docs, td)
		}
		entry.mu.Unlock()

		resyncCtx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
		for _, td := range docs {
			if err := fresh.OpenDocument(resyncCtx, td.path, td.languageID, td.content); err != nil {
				m.logger.Warn("document re-sync failed", "path", td.path, "error", err)
			}
		}
		cancel()

		m.logger.Info("server recovered", "language", entry.languageID, "attempt", attempt)
		session = fresh
	}
}

// entryForFile resolves the managed entry for a path, starting the server
// when needed.
func (m *Manager) entryForFile(ctx context.Context, path string) (*managedSession, *Session, error) {
	languageID := DetectLanguageID(path)
	if languageID == "" {
		return nil, nil, ErrNoServer
	}
	session, err := m.SessionFor(ctx, languageID)
	if err != nil {
		return nil, nil, err
	}
	m.mu.RLock()
	entry := m.entries[languageID]
	m.mu.RUnlock()
	return entry, session, nil
}

// OpenDocument opens a document on the server for its language and tracks
// it for re-sync after recovery.
func (m *Manager) OpenDocument(ctx context.Context, path, content string) error {
	entry, session, err := m.entryForFile(ctx, path)
	if err != nil {
		return err
	}
	languageID := DetectLanguageID(path)

	entry.mu.Lock()
	entry.tracked[FilePathToURI(path)] = trackedDocument{path: path, languageID: languageID, content: content}
	entry.mu.Unlock()

	return session.OpenDocument(ctx, path, languageID, content)
}

// ChangeDocument forwards a change and refreshes the tracked content.
func (m *Manager) ChangeDocument(ctx context.Context, path string, changes []TextDocumentContentChangeEvent) error {
	entry, session, err := m.entryForFile(ctx, path)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	if td, ok := entry.tracked[FilePathToURI(path)]; ok {
		for _, change := range changes {
			td.content = applyChange(td.content, change)
		}
		entry.tracked[FilePathToURI(path)] = td
	}
	entry.mu.Unlock()

	return session.ChangeDocument(ctx, path, changes)
}

// CloseDocument forwards a close and stops tracking the document.
func (m *Manager) CloseDocument(ctx context.Context, path string) error {
	entry, session, err := m.entryForFile(ctx, path)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	delete(entry.tracked, FilePathToURI(path))
	entry.mu.Unlock()

	return session.CloseDocument(ctx, path)
}

// Definition routes a definition request by file type.
func (m *Manager) Definition(ctx context.Context, path string, pos Position) ([]Location, error) {
	_, session, err := m.entryForFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return session.Definition(ctx, path, pos)
}

// References routes a references request by file type.
func (m *Manager) References(ctx context.Context, path string, pos Position, includeDecl bool) ([]Location, error) {
	_, session, err := m.entryForFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return session.References(ctx, path, pos, includeDecl)
}

// Hover routes a hover request by file type.
func (m *Manager) Hover(ctx context.Context, path string, pos Position) (*Hover, error) {
	_, session, err := m.entryForFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return session.Hover(ctx, path, pos)
}

// DocumentSymbols routes a document symbol request by file type.
func (m *Manager) DocumentSymbols(ctx context.Context, path string) ([]DocumentSymbol, error) {
	_, session, err := m.entryForFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return session.DocumentSymbols(ctx, path)
}

// Completion routes a completion request by file type.
func (m *Manager) Completion(ctx context.Context, path string, pos Position) (*CompletionList, error) {
	_, session, err := m.entryForFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return session.Completion(ctx, path, pos)
}

// Diagnostics returns the cached diagnostics for a file, if its server is
// running.
func (m *Manager) Diagnostics(path string) []Diagnostic {
	languageID := DetectLanguageID(path)
	if languageID == "" {
		return nil
	}
	m.mu.RLock()
	entry := m.entries[languageID]
	m.mu.RUnlock()
	if entry == nil {
		return nil
	}

	entry.mu.Lock()
	session := entry.session
	entry.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Diagnostics(path)
}

// SessionState reports the state of the session for a language.
func (m *Manager) SessionState(languageID string) SessionState {
	m.mu.RLock()
	entry := m.entries[languageID]
	m.mu.RUnlock()
	if entry == nil {
		return StateUnstarted
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.session == nil {
		if entry.failed {
			return StateFailed
		}
		return StateUnstarted
	}
	return entry.session.State()
}

// Shutdown stops watching and gracefully shuts down every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	m.mu.Lock()
	entries := make([]*managedSession, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.entries = make(map[string]*managedSession)
	m.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		entry.mu.Lock()
		session := entry.session
		entry.mu.Unlock()
		if session == nil {
			continue
		}
		if err := session.Shutdown(ctx); err != nil {
			errs = append(errs, &ServerError{LanguageID: entry.languageID, Err: err})
		}
	}
	return errors.Join(errs...)
}
