package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/dal"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/store"
)

// NewNukeCommand creates the nuke command.
func NewNukeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "nuke",
		Short: "Destroy the store and start empty",
		Long: `Drop every record from every tier, delete the backing store and
recreate it empty at the same location. The commit log restarts.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			return rootOpts.withService(cmd, func(ctx context.Context, svc *dal.Service) error {
				if err := svc.Nuke(ctx); err != nil {
					return out.Fail(ExitFailure, "nuke failed", err)
				}
				loc := svc.Location()
				return out.Emit(map[string]string{"location": loc}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Store reset: %s\n", loc)
				})
			})
		},
	}
}

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Limit int
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "log",
		Short:         "Print the commit log, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Limit < 0 {
				return NewExitError(ExitCommandError, "--limit must not be negative")
			}
			out := opts.formatter(cmd)
			return opts.withService(cmd, func(ctx context.Context, svc *dal.Service) error {
				commits, err := svc.Log(ctx, opts.Limit)
				if err != nil {
					return out.Fail(ExitFailure, "read commit log", err)
				}
				return out.Emit(commits, func(w io.Writer) { printCommits(w, commits) })
			})
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show at most n commits (0 = all)")
	return cmd
}

func printCommits(w io.Writer, commits []store.CommitInfo) {
	if len(commits) == 0 {
		fmt.Fprintln(w, "No commits.")
		return
	}
	for _, c := range commits {
		fmt.Fprintf(w, "%6d  %s  +%d -%d  %s\n",
			c.Seq, c.ID, c.Upserts, c.Deletes, c.CommittedAt.Format(time.RFC3339))
	}
}

// SchemaView is the output of the schema command.
type SchemaView struct {
	Name     string          `json:"name"`
	Version  int64           `json:"version"`
	Hash     string          `json:"hash"`
	Entities []schema.Entity `json:"entities"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <path>",
		Short: "Compile a CUE schema and print its entities",
		Long: `Compile a CUE schema file or directory and print its entities and
content hash. Stores refuse to open under a schema whose hash differs
from the one they were created with.

Example:
  strata schema ./people.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			out.VerboseLog("compiling %s", args[0])

			s, err := schema.Load(args[0])
			if err != nil {
				return out.Fail(ExitFailure, "schema compilation failed", err)
			}
			hash, err := s.Hash()
			if err != nil {
				return out.Fail(ExitFailure, "schema hash", err)
			}

			view := SchemaView{Name: s.Name, Version: s.Version, Hash: hash, Entities: s.Entities}
			return out.Emit(view, func(w io.Writer) { printSchema(w, view) })
		},
	}
}

func printSchema(w io.Writer, v SchemaView) {
	fmt.Fprintf(w, "%s v%d  %s\n", v.Name, v.Version, v.Hash)
	for _, e := range v.Entities {
		fields := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			opt := ""
			if f.Optional {
				opt = "?"
			}
			fields[i] = fmt.Sprintf("%s%s: %s", f.Name, opt, f.Type)
		}
		fmt.Fprintf(w, "  %s { %s }\n", e.Name, strings.Join(fields, ", "))
	}
}
