package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/lspconn/catalog"
	"github.com/dshills/lspconn/lsp"
)

type rootFlags struct {
	workspace   string
	catalogPath string
	timeout     time.Duration
	verbose     bool
	setOptions  []string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "lspq",
		Short: "One-shot language server queries",
		Long:  "lspq launches a language server from the catalog, opens a file, runs one query, and prints the result.",
		Example: `  lspq symbols main.go
  lspq definition main.go --line 10 --col 5
  lspq diagnostics --wait 3s main.go`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if flags.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: level,
			})))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.workspace, "workspace", "w", "", "workspace root (default: directory of the file)")
	cmd.PersistentFlags().StringVar(&flags.catalogPath, "catalog", "", "path to a YAML server catalog")
	cmd.PersistentFlags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "overall query timeout")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringArrayVar(&flags.setOptions, "set", nil, "initialization option override as dotted.path=value (repeatable)")

	cmd.AddCommand(
		newSymbolsCmd(&flags),
		newDefinitionCmd(&flags),
		newReferencesCmd(&flags),
		newHoverCmd(&flags),
		newDiagnosticsCmd(&flags),
		newServersCmd(&flags),
	)
	return cmd
}

// loadCatalog returns the merged catalog, honoring --catalog.
func loadCatalog(flags *rootFlags) (catalog.Catalog, error) {
	if flags.catalogPath != "" {
		return catalog.LoadFile(flags.catalogPath)
	}
	return catalog.Defaults(), nil
}

// withSession starts the right server for path, opens the document, runs fn,
// and shuts everything down.
func withSession(flags *rootFlags, path string, fn func(ctx context.Context, session *lsp.Session, absPath string) error) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}

	languageID := lsp.DetectLanguageID(absPath)
	if languageID == "" {
		return fmt.Errorf("cannot detect language for %s", absPath)
	}

	cat, err := loadCatalog(flags)
	if err != nil {
		return err
	}
	def, ok := cat.ForLanguage(languageID)
	if !ok {
		return fmt.Errorf("no server in catalog for language %q", languageID)
	}

	workspace := flags.workspace
	if workspace == "" {
		workspace = filepath.Dir(absPath)
	}

	overrides, err := parseOverrides(flags.setOptions)
	if err != nil {
		return err
	}

	config, err := def.SessionConfig(workspace, overrides)
	if err != nil {
		return err
	}
	config.Logger = slog.Default()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	session := lsp.NewSession(config)
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", def.Command, err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = session.Shutdown(shutdownCtx)
	}()

	if err := session.OpenDocument(ctx, absPath, languageID, string(content)); err != nil {
		return err
	}

	return fn(ctx, session, absPath)
}

// parseOverrides turns --set dotted.path=value pairs into an override map.
// Values parse as JSON when they can, otherwise as plain strings, so
// --set trace=verbose and --set completion.snippets=true both work.
func parseOverrides(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	overrides := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want path=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		overrides[key] = value
	}
	return overrides, nil
}

// printLocations renders locations as file:line:col, one per line.
func printLocations(cmd *cobra.Command, locs []lsp.Location) {
	for _, loc := range locs {
		cmd.Printf("%s:%d:%d\n",
			lsp.URIToFilePath(loc.URI),
			loc.Range.Start.Line+1,
			loc.Range.Start.Character+1)
	}
}
