// Package catalog holds launch definitions for known language servers and
// loads user-provided ones from YAML.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"gopkg.in/yaml.v3"

	"github.com/dshills/lspconn/lsp"
)

// ServerDef describes how to launch one language server and what to hand
// it at initialize time.
type ServerDef struct {
	// Command is the server binary, resolved through PATH.
	Command string `yaml:"command"`

	// Args are the command-line arguments.
	Args []string `yaml:"args,omitempty"`

	// Env entries are appended to the inherited environment.
	Env map[string]string `yaml:"env,omitempty"`

	// WorkDir is the working directory for the process. Empty means the
	// workspace root.
	WorkDir string `yaml:"workdir,omitempty"`

	// LanguageIDs are the LSP language identifiers this server handles.
	LanguageIDs []string `yaml:"languages"`

	// InitializationOptions is the opaque server-specific payload, carried
	// to the wire without interpretation.
	InitializationOptions map[string]any `yaml:"initialization_options,omitempty"`

	// Settings answers the server's workspace/configuration pulls, keyed
	// by section.
	Settings map[string]any `yaml:"settings,omitempty"`
}

// Catalog maps a server name to its definition.
type Catalog map[string]ServerDef

// Defaults returns launch definitions for commonly installed servers.
func Defaults() Catalog {
	return Catalog{
		"gopls": {
			Command:     "gopls",
			Args:        []string{"serve"},
			LanguageIDs: []string{"go"},
		},
		"rust-analyzer": {
			Command:     "rust-analyzer",
			LanguageIDs: []string{"rust"},
		},
		"typescript-language-server": {
			Command:     "typescript-language-server",
			Args:        []string{"--stdio"},
			LanguageIDs: []string{"typescript", "typescriptreact", "javascript", "javascriptreact"},
		},
		"pylsp": {
			Command:     "pylsp",
			LanguageIDs: []string{"python"},
		},
		"clangd": {
			Command:     "clangd",
			LanguageIDs: []string{"c", "cpp"},
		},
	}
}

// LoadFile reads a YAML catalog and merges it over the defaults. User
// entries win on name collisions.
func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Load(data)
}

// Load parses YAML catalog data merged over the defaults.
func Load(data []byte) (Catalog, error) {
	var user Catalog
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	merged := Defaults()
	for name, def := range user {
		merged[name] = def
	}

	for name, def := range merged {
		if def.Command == "" {
			return nil, fmt.Errorf("catalog entry %q: missing command", name)
		}
		if len(def.LanguageIDs) == 0 {
			return nil, fmt.Errorf("catalog entry %q: no languages", name)
		}
	}
	return merged, nil
}

// Available filters the catalog to entries whose command resolves on PATH.
func (c Catalog) Available() Catalog {
	out := make(Catalog)
	for name, def := range c {
		if _, err := exec.LookPath(def.Command); err == nil {
			out[name] = def
		}
	}
	return out
}

// ForLanguage returns the first definition handling the given language.
func (c Catalog) ForLanguage(languageID string) (ServerDef, bool) {
	for _, def := range c {
		for _, lang := range def.LanguageIDs {
			if lang == languageID {
				return def, true
			}
		}
	}
	return ServerDef{}, false
}

// SessionConfig builds a session config launching this server in the given
// workspace. Overrides are dotted-path initialization option values layered
// over the definition's own, last write wins.
func (d ServerDef) SessionConfig(workspaceRoot string, overrides map[string]any) (lsp.SessionConfig, error) {
	var initOpts, settings json.RawMessage
	if len(d.InitializationOptions) > 0 {
		raw, err := json.Marshal(d.InitializationOptions)
		if err != nil {
			return lsp.SessionConfig{}, fmt.Errorf("initialization options: %w", err)
		}
		initOpts = raw
	}
	if len(overrides) > 0 {
		merged, err := MergeOptions(initOpts, overrides)
		if err != nil {
			return lsp.SessionConfig{}, err
		}
		initOpts = merged
	}
	if len(d.Settings) > 0 {
		raw, err := json.Marshal(d.Settings)
		if err != nil {
			return lsp.SessionConfig{}, fmt.Errorf("settings: %w", err)
		}
		settings = raw
	}

	workDir := d.WorkDir
	if workDir == "" {
		workDir = workspaceRoot
	}

	config := lsp.SessionConfig{
		Launch: lsp.LaunchConfig{
			Command: d.Command,
			Args:    d.Args,
			Env:     d.Env,
			WorkDir: workDir,
		},
		ClientInfo:            &lsp.ClientInfo{Name: "lspconn"},
		ClientCapabilities:    ClientCapabilities(),
		InitializationOptions: initOpts,
		Settings:              settings,
	}
	if len(d.LanguageIDs) > 0 {
		config.LanguageID = d.LanguageIDs[0]
	}
	if workspaceRoot != "" {
		config.WorkspaceFolders = []lsp.WorkspaceFolder{{
			URI:  lsp.FilePathToURI(workspaceRoot),
			Name: "workspace",
		}}
	}
	return config, nil
}
