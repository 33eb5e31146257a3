package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DevCabin/ClawLess/internal/ledger"
	"github.com/DevCabin/ClawLess/internal/router"
	"github.com/DevCabin/ClawLess/pkg/models"
)

func routeCmd() *cobra.Command {
	var (
		task        models.Task
		kind        string
		contextFile string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "route [prompt]",
		Short: "Route a single task and print the response as JSON",
		Long: `Route scores one task, runs it on the selected backend and prints the
response. The prompt comes from the argument, or from stdin when no argument
is given. With --dry-run only the score and the selected path are printed and
no backend is called.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if len(args) == 1 {
				task.Prompt = args[0]
			} else {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading prompt from stdin: %w", err)
				}
				task.Prompt = string(b)
			}
			task.Kind = models.TaskKind(strings.TrimSpace(kind))
			if contextFile != "" {
				b, err := os.ReadFile(contextFile)
				if err != nil {
					return fmt.Errorf("reading context file: %w", err)
				}
				task.Context = string(b)
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if dryRun {
				// Nothing is recorded, so a throwaway ledger is enough.
				a.store = ledger.NewMemoryStore()
				a.ledger = ledger.New(a.store)
			} else if err := a.openLedger(ctx); err != nil {
				return err
			}
			if err := a.buildRouter(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dryRun {
				return printJSON(out, a.router.Decide(&task))
			}

			resp, err := a.router.Route(ctx, &task)
			if err != nil {
				_ = printJSON(out, map[string]any{
					"error": err.Error(),
					"kind":  router.KindOf(err),
				})
				return err
			}
			return printJSON(out, resp)
		},
	}

	f := cmd.Flags()
	f.StringVar(&kind, "kind", string(models.KindExtraction), "task kind (classification, extraction, planning, error_recovery, workflow_compilation, code_review, security_analysis)")
	f.StringVar(&contextFile, "context-file", "", "file whose contents are sent as task context")
	f.IntVar(&task.ToolCount, "tools", 0, "number of tools available to the task")
	f.BoolVar(&task.ExpectsStructuredOutput, "structured", false, "require a JSON response")
	f.StringSliceVar(&task.RequiredFields, "field", nil, "field the JSON response must contain (repeatable)")
	f.IntVar(&task.MinLength, "min-length", 0, "minimum response length in characters")
	f.BoolVar(&task.IsRetry, "retry", false, "mark the task as a retry of an earlier attempt")
	f.BoolVar(&dryRun, "dry-run", false, "print the routing decision without calling a backend")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
