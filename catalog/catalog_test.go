package catalog

import (
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"
)

func TestDefaultsCoverCommonLanguages(t *testing.T) {
	defs := Defaults()

	for _, lang := range []string{"go", "rust", "python", "typescript", "c"} {
		if _, ok := defs.ForLanguage(lang); !ok {
			t.Errorf("no default server for %q", lang)
		}
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	data := []byte(`
gopls:
  command: /opt/tools/gopls
  args: ["-rpc.trace"]
  languages: ["go"]
custom-ls:
  command: custom-ls
  languages: ["custom"]
  initialization_options:
    cache: true
`)
	cat, err := Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	gopls := cat["gopls"]
	if gopls.Command != "/opt/tools/gopls" {
		t.Errorf("user entry should override default, got command %q", gopls.Command)
	}

	custom, ok := cat.ForLanguage("custom")
	if !ok {
		t.Fatal("custom-ls entry missing")
	}
	if custom.InitializationOptions["cache"] != true {
		t.Errorf("initialization options not parsed: %v", custom.InitializationOptions)
	}

	if _, ok := cat.ForLanguage("python"); !ok {
		t.Error("defaults lost during merge")
	}
}

func TestLoadRejectsInvalidEntries(t *testing.T) {
	if _, err := Load([]byte("bad:\n  languages: [\"x\"]\n")); err == nil {
		t.Error("entry without command should fail")
	}
	if _, err := Load([]byte("bad:\n  command: bad\n")); err == nil {
		t.Error("entry without languages should fail")
	}
	if _, err := Load([]byte(":[notyaml")); err == nil {
		t.Error("malformed yaml should fail")
	}
}

func TestSessionConfigFromDef(t *testing.T) {
	def := ServerDef{
		Command:               "gopls",
		Args:                  []string{"serve"},
		LanguageIDs:           []string{"go"},
		InitializationOptions: map[string]any{"usePlaceholders": true},
		Settings:              map[string]any{"gopls": map[string]any{"staticcheck": true}},
	}

	config, err := def.SessionConfig("/tmp/project", nil)
	if err != nil {
		t.Fatalf("SessionConfig: %v", err)
	}

	if config.Launch.Command != "gopls" {
		t.Errorf("command = %q", config.Launch.Command)
	}
	if config.LanguageID != "go" {
		t.Errorf("language = %q", config.LanguageID)
	}
	if len(config.WorkspaceFolders) != 1 {
		t.Fatalf("workspace folders = %d", len(config.WorkspaceFolders))
	}
	if !gjson.GetBytes(config.InitializationOptions, "usePlaceholders").Bool() {
		t.Errorf("initialization options = %s", config.InitializationOptions)
	}
	if !gjson.GetBytes(config.Settings, "gopls.staticcheck").Bool() {
		t.Errorf("settings = %s", config.Settings)
	}
}

func TestSessionConfigAppliesOverrides(t *testing.T) {
	def := ServerDef{
		Command:               "gopls",
		LanguageIDs:           []string{"go"},
		InitializationOptions: map[string]any{"usePlaceholders": true, "completion": map[string]any{"snippets": false}},
	}

	config, err := def.SessionConfig("/tmp/project", map[string]any{
		"completion.snippets": true,
		"trace":               "verbose",
	})
	if err != nil {
		t.Fatalf("SessionConfig: %v", err)
	}

	opts := config.InitializationOptions
	if !gjson.GetBytes(opts, "completion.snippets").Bool() {
		t.Errorf("override not applied: %s", opts)
	}
	if got := gjson.GetBytes(opts, "trace").String(); got != "verbose" {
		t.Errorf("new key not merged, got %q", got)
	}
	if !gjson.GetBytes(opts, "usePlaceholders").Bool() {
		t.Errorf("definition option lost: %s", opts)
	}
}

func TestSessionConfigOverridesWithoutBaseOptions(t *testing.T) {
	def := ServerDef{Command: "clangd", LanguageIDs: []string{"c"}}

	config, err := def.SessionConfig("/tmp/project", map[string]any{"compilationDatabasePath": "build"})
	if err != nil {
		t.Fatalf("SessionConfig: %v", err)
	}
	if got := gjson.GetBytes(config.InitializationOptions, "compilationDatabasePath").String(); got != "build" {
		t.Errorf("override into empty options failed: %s", config.InitializationOptions)
	}
}

func TestClientCapabilitiesIsValidJSON(t *testing.T) {
	var decoded map[string]any
	if err := json.Unmarshal(ClientCapabilities(), &decoded); err != nil {
		t.Fatalf("capability blob does not parse: %v", err)
	}
	if !gjson.GetBytes(ClientCapabilities(), "workspace.configuration").Bool() {
		t.Error("workspace.configuration should be declared")
	}
}

func TestMergeOptions(t *testing.T) {
	base := json.RawMessage(`{"completion": {"snippets": false}, "cache": {"dir": "/tmp"}}`)

	merged, err := MergeOptions(base, map[string]any{
		"completion.snippets": true,
		"trace":               "verbose",
	})
	if err != nil {
		t.Fatalf("MergeOptions: %v", err)
	}

	if !gjson.GetBytes(merged, "completion.snippets").Bool() {
		t.Errorf("override not applied: %s", merged)
	}
	if got := gjson.GetBytes(merged, "trace").String(); got != "verbose" {
		t.Errorf("new key not set, got %q", got)
	}
	if got := gjson.GetBytes(merged, "cache.dir").String(); got != "/tmp" {
		t.Errorf("untouched key lost, got %q", got)
	}
}

func TestMergeOptionsEmptyBase(t *testing.T) {
	merged, err := MergeOptions(nil, map[string]any{"a.b": 1})
	if err != nil {
		t.Fatalf("MergeOptions: %v", err)
	}
	if gjson.GetBytes(merged, "a.b").Int() != 1 {
		t.Errorf("merge into empty base failed: %s", merged)
	}
}
