package lsp

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// TestHelperProcess is not a real test: when re-executed with
// GO_WANT_HELPER_PROCESS=1 it acts as a minimal language server over stdio.
// LSP_STUB_MODE=crash makes it die on the first definition request;
// LSP_STUB_MODE=flaky makes it die right after the handshake.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	mode := os.Getenv("LSP_STUB_MODE")
	crash := mode == "crash"

	fr := newFrameReader(os.Stdin)
	fw := newFrameWriter(os.Stdout)

	respond := func(id *ID, result any) {
		data, err := encodeResponse(id, result, nil)
		if err != nil {
			os.Exit(1)
		}
		fw.WriteFrame(data)
	}

	for {
		payload, err := fr.ReadFrame()
		if err != nil {
			os.Exit(0)
		}
		msg, err := decodeMessage(payload)
		if err != nil {
			continue
		}

		switch msg.Method {
		case MethodInitialize:
			respond(msg.ID, map[string]any{
				"capabilities": map[string]any{
					"textDocumentSync":   1,
					"definitionProvider": true,
					"hoverProvider":      true,
				},
				"serverInfo": map[string]string{"name": "helper-ls"},
			})
		case MethodInitialized:
			if mode == "flaky" {
				os.Exit(4)
			}
		case MethodDefinition:
			if crash {
				os.Exit(3)
			}
			respond(msg.ID, []map[string]any{{
				"uri": "file:///helper/def.go",
				"range": map[string]any{
					"start": map[string]int{"line": 12, "character": 4},
					"end":   map[string]int{"line": 12, "character": 9},
				},
			}})
		case MethodShutdown:
			respond(msg.ID, nil)
		case MethodExit:
			os.Exit(0)
		}
	}
}

func helperLaunch(mode string) LaunchConfig {
	env := map[string]string{"GO_WANT_HELPER_PROCESS": "1"}
	if mode != "" {
		env["LSP_STUB_MODE"] = mode
	}
	return LaunchConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess"},
		Env:     env,
	}
}

func TestSession_EndToEndWithSubprocess(t *testing.T) {
	session := NewSession(SessionConfig{
		Launch:         helperLaunch(""),
		LanguageID:     "go",
		RequestTimeout: 5 * time.Second,
		ShutdownGrace:  2 * time.Second,
		Logger:         testLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := session.State(); got != StateReady {
		t.Fatalf("state = %v", got)
	}
	if info := session.ServerInfo(); info == nil || info.Name != "helper-ls" {
		t.Errorf("server info = %+v", info)
	}

	if err := session.OpenDocument(ctx, "/helper/main.go", "go", "package main"); err != nil {
		t.Fatalf("OpenDocument: %v", err)
	}

	locs, err := session.Definition(ctx, "/helper/main.go", Position{Line: 1, Character: 1})
	if err != nil {
		t.Fatalf("Definition: %v", err)
	}
	if len(locs) != 1 || locs[0].URI != "file:///helper/def.go" || locs[0].Range.Start.Line != 12 {
		t.Errorf("locations = %+v", locs)
	}

	if err := session.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := session.State(); got != StateClosed {
		t.Errorf("state after shutdown = %v", got)
	}
}

func TestSession_ServerCrashMidRequest(t *testing.T) {
	session := NewSession(SessionConfig{
		Launch:         helperLaunch("crash"),
		LanguageID:     "go",
		RequestTimeout: 5 * time.Second,
		Logger:         testLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err := session.Definition(ctx, "/helper/main.go", Position{})
	if !errors.Is(err, ErrSessionFailed) {
		t.Fatalf("error = %v, want ErrSessionFailed", err)
	}

	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after crash")
	}
	if got := session.State(); got != StateFailed {
		t.Errorf("state = %v, want failed", got)
	}
}
