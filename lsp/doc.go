// Package lsp implements a client for the Language Server Protocol over
// stdio. It launches a language server as a subprocess, speaks the
// Content-Length framed JSON-RPC 2.0 base protocol, and exposes the
// handshake, document synchronization, capability-gated feature requests,
// diagnostics, and progress reporting as a typed Go API.
//
// A Session owns one server: the process, the framed connection, the
// negotiated capability snapshot, and the open document set. A Manager
// coordinates multiple sessions, one per language, with lazy startup and
// crash recovery.
package lsp
