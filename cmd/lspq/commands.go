package main

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/dshills/lspconn/lsp"
)

// positionFlags holds the 1-based cursor position common to the
// position-addressed queries.
type positionFlags struct {
	line int
	col  int
}

func (p *positionFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&p.line, "line", 1, "line number (1-based)")
	cmd.Flags().IntVar(&p.col, "col", 1, "column number (1-based)")
}

func (p *positionFlags) position() lsp.Position {
	return lsp.Position{Line: p.line - 1, Character: p.col - 1}
}

func newSymbolsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "symbols <file>",
		Short: "List document symbols",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(flags, args[0], func(ctx context.Context, session *lsp.Session, absPath string) error {
				symbols, err := session.DocumentSymbols(ctx, absPath)
				if err != nil {
					return err
				}
				printSymbols(cmd, symbols, 0)
				return nil
			})
		},
	}
}

func printSymbols(cmd *cobra.Command, symbols []lsp.DocumentSymbol, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, sym := range symbols {
		cmd.Printf("%s%s %s (line %d)\n", indent, sym.Kind, sym.Name, sym.Range.Start.Line+1)
		printSymbols(cmd, sym.Children, depth+1)
	}
}

func newDefinitionCmd(flags *rootFlags) *cobra.Command {
	var pos positionFlags
	cmd := &cobra.Command{
		Use:   "definition <file>",
		Short: "Resolve the definition at a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(flags, args[0], func(ctx context.Context, session *lsp.Session, absPath string) error {
				locs, err := session.Definition(ctx, absPath, pos.position())
				if err != nil {
					return err
				}
				printLocations(cmd, locs)
				return nil
			})
		},
	}
	pos.register(cmd)
	return cmd
}

func newReferencesCmd(flags *rootFlags) *cobra.Command {
	var pos positionFlags
	var includeDecl bool
	cmd := &cobra.Command{
		Use:   "references <file>",
		Short: "Find references to the symbol at a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(flags, args[0], func(ctx context.Context, session *lsp.Session, absPath string) error {
				locs, err := session.References(ctx, absPath, pos.position(), includeDecl)
				if err != nil {
					return err
				}
				printLocations(cmd, locs)
				return nil
			})
		},
	}
	pos.register(cmd)
	cmd.Flags().BoolVar(&includeDecl, "include-declaration", true, "include the declaration itself")
	return cmd
}

func newHoverCmd(flags *rootFlags) *cobra.Command {
	var pos positionFlags
	cmd := &cobra.Command{
		Use:   "hover <file>",
		Short: "Show hover content at a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(flags, args[0], func(ctx context.Context, session *lsp.Session, absPath string) error {
				hover, err := session.Hover(ctx, absPath, pos.position())
				if err != nil {
					return err
				}
				if hover == nil {
					return nil
				}
				cmd.Println(hoverText(hover))
				return nil
			})
		},
	}
	pos.register(cmd)
	return cmd
}

// hoverText flattens the MarkupContent / MarkedString variants into plain
// text.
func hoverText(hover *lsp.Hover) string {
	contents := gjson.ParseBytes(hover.Contents)
	if value := contents.Get("value"); value.Exists() {
		return value.String()
	}
	if contents.IsArray() {
		var parts []string
		contents.ForEach(func(_, item gjson.Result) bool {
			if value := item.Get("value"); value.Exists() {
				parts = append(parts, value.String())
			} else {
				parts = append(parts, item.String())
			}
			return true
		})
		return strings.Join(parts, "\n")
	}
	return contents.String()
}

func newDiagnosticsCmd(flags *rootFlags) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "diagnostics <file>",
		Short: "Print diagnostics pushed for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(flags, args[0], func(ctx context.Context, session *lsp.Session, absPath string) error {
				// Diagnostics are pushed, not pulled; give the server a
				// moment to analyze.
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}

				for _, diag := range session.Diagnostics(absPath) {
					cmd.Printf("%s:%d:%d: %s: %s\n",
						absPath,
						diag.Range.Start.Line+1,
						diag.Range.Start.Character+1,
						diag.Severity,
						diag.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to wait for pushed diagnostics")
	return cmd
}

func newServersCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List catalog servers and whether they are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := loadCatalog(flags)
			if err != nil {
				return err
			}
			available := cat.Available()

			names := make([]string, 0, len(cat))
			for name := range cat {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				status := "missing"
				if _, ok := available[name]; ok {
					status = "installed"
				}
				def := cat[name]
				cmd.Printf("%-30s %-10s %s\n", name, status, strings.Join(def.LanguageIDs, ","))
			}
			return nil
		},
	}
}
