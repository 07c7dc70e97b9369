package lsp

import (
	"encoding/json"
	"sync"
)

// DiagnosticsHandler observes diagnostic pushes for one URI. For a given
// URI, invocations follow the arrival order of the underlying
// publishDiagnostics notifications.
type DiagnosticsHandler func(uri DocumentURI, diagnostics []Diagnostic)

// diagnosticsStore keeps the last published diagnostics per URI. An empty
// publish clears the entry, per LSP.
type diagnosticsStore struct {
	mu      sync.RWMutex
	byURI   map[DocumentURI][]Diagnostic
	handler DiagnosticsHandler
}

func newDiagnosticsStore() *diagnosticsStore {
	return &diagnosticsStore{byURI: make(map[DocumentURI][]Diagnostic)}
}

// setHandler registers the change callback.
func (d *diagnosticsStore) setHandler(h DiagnosticsHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// publish ingests one textDocument/publishDiagnostics payload. It runs on
// the connection's serial lane, so per-URI ordering is the wire order.
func (d *diagnosticsStore) publish(params json.RawMessage) {
	var p PublishDiagnosticsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}

	d.mu.Lock()
	if len(p.Diagnostics) == 0 {
		delete(d.byURI, p.URI)
	} else {
		d.byURI[p.URI] = p.Diagnostics
	}
	handler := d.handler
	d.mu.Unlock()

	if handler != nil {
		handler(p.URI, p.Diagnostics)
	}
}

// forURI returns the current diagnostics for a URI.
func (d *diagnosticsStore) forURI(uri DocumentURI) []Diagnostic {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byURI[uri]
}

// all returns a copy of the full diagnostic map.
func (d *diagnosticsStore) all() map[DocumentURI][]Diagnostic {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[DocumentURI][]Diagnostic, len(d.byURI))
	for uri, diags := range d.byURI {
		out[uri] = diags
	}
	return out
}
