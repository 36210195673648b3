package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/dal"
	"github.com/roach88/strata/internal/lifecycle"
)

// ShellOptions holds flags for the shell command.
type ShellOptions struct {
	*RootOptions
	Prompt string

	// Host overrides the lifecycle host (for testing). If nil and the
	// lifecycle is enabled, a SignalHost on the process signals is used.
	Host lifecycle.Host
}

// NewShellCommand creates the shell command.
func NewShellCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShellOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive session over one open store",
		Long: `Read commands from stdin, one per line, against a single open store:

  put <entity> [id] key=value...   get <entity> <id>
  list <entity>                    count <entity>
  delete <entity> <id>             delete <entity> --all
  flush   nuke   log [n]   help   quit

While the session runs, SIGTERM and SIGINT flush pending writes and end
the session; SIGTSTP flushes before the process stops.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Prompt, "prompt", "strata> ", "prompt printed before each command")
	return cmd
}

func runShell(opts *ShellOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger := cfg.Logger(cmd.ErrOrStderr())

	ctx, cancel := context.WithCancelCause(commandContext(cmd))
	defer cancel(nil)

	var extra []dal.Option
	if cfg.Lifecycle.Enabled {
		host := opts.Host
		if host == nil {
			sh := lifecycle.NewSignalHost(
				lifecycle.WithProtectedWindow(cfg.Lifecycle.ProtectedWindow.Duration()),
				lifecycle.WithHostLogger(logger),
				// The guard has flushed; end the session instead of dying.
				lifecycle.WithAfterTerminate(func(sig os.Signal) {
					cancel(fmt.Errorf("received %s", sig))
				}),
			)
			defer sh.Close()
			host = sh
		}
		extra = append(extra, dal.WithLifecycle(host, lifecycle.WithObserver(func(r lifecycle.Result) {
			if r.Signal == lifecycle.Terminate {
				cancel(fmt.Errorf("terminated"))
			}
		})))
	}

	svc, err := opts.open(cmd, cfg, logger, extra...)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("error closing store", "error", err)
		}
	}()

	sess := &session{svc: svc, out: opts.formatter(cmd)}
	sess.out.VerboseLog("session open: %s (%s)", svc.Location(), svc.Policy())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	w := cmd.OutOrStdout()
	for {
		if opts.Format == "text" && opts.Prompt != "" {
			fmt.Fprint(w, opts.Prompt)
		}
		select {
		case <-ctx.Done():
			sess.out.VerboseLog("session ended: %v", context.Cause(ctx))
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := sess.exec(ctx, line); quit {
				return nil
			}
		}
	}
}

// session executes shell lines against one Service.
type session struct {
	svc *dal.Service
	out *OutputFormatter
}

var errUsage = errors.New("usage")

// exec runs one command line and reports whether the session should end.
// Failures are printed; they never end the session.
func (s *session) exec(ctx context.Context, line string) (quit bool) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}

	var err error
	switch args[0] {
	case "quit", "exit":
		return true
	case "help":
		err = s.out.Emit(shellCommands, func(w io.Writer) {
			fmt.Fprintln(w, strings.Join(shellCommands, "\n"))
		})
	case "put":
		var rec RecordView
		entity, id, fields, perr := parsePutArgs(args[1:])
		if perr != nil {
			err = perr
			break
		}
		if rec, err = putRecord(ctx, s.svc, entity, id, fields); err == nil {
			err = s.out.Emit(rec, func(w io.Writer) { fmt.Fprintln(w, rec) })
		}
	case "get":
		if len(args) != 3 {
			err = fmt.Errorf("%w: get <entity> <id>", errUsage)
			break
		}
		var rec RecordView
		if rec, err = getRecord(ctx, s.svc, args[1], args[2]); err == nil {
			err = s.out.Emit(rec, func(w io.Writer) { fmt.Fprintln(w, rec) })
		}
	case "list":
		if len(args) != 2 {
			err = fmt.Errorf("%w: list <entity>", errUsage)
			break
		}
		var recs []RecordView
		if recs, err = listRecords(ctx, s.svc, args[1]); err == nil {
			err = s.out.Emit(recs, func(w io.Writer) { printRecords(w, args[1], recs) })
		}
	case "count":
		if len(args) != 2 {
			err = fmt.Errorf("%w: count <entity>", errUsage)
			break
		}
		var n int
		if n, err = countRecords(ctx, s.svc, args[1]); err == nil {
			err = s.out.Emit(CountView{Entity: args[1], Count: n}, func(w io.Writer) { fmt.Fprintln(w, n) })
		}
	case "delete":
		var id string
		switch {
		case len(args) == 3 && args[2] == "--all":
		case len(args) == 3:
			id = args[2]
		default:
			err = fmt.Errorf("%w: delete <entity> <id> | delete <entity> --all", errUsage)
		}
		if err != nil {
			break
		}
		var n int
		if n, err = deleteRecords(ctx, s.svc, args[1], id); err == nil {
			err = s.out.Emit(CountView{Entity: args[1], Count: n}, func(w io.Writer) { fmt.Fprintf(w, "deleted %d\n", n) })
		}
	case "flush":
		if err = s.svc.FlushAndWait(ctx); err == nil {
			err = s.out.Emit(map[string]bool{"flushed": true}, func(w io.Writer) { fmt.Fprintln(w, "flushed") })
		}
	case "nuke":
		if err = s.svc.Nuke(ctx); err == nil {
			err = s.out.Emit(map[string]bool{"nuked": true}, func(w io.Writer) { fmt.Fprintln(w, "nuked") })
		}
	case "log":
		limit := 0
		if len(args) > 1 {
			if limit, err = strconv.Atoi(args[1]); err != nil || limit < 0 {
				err = fmt.Errorf("%w: log [n]", errUsage)
				break
			}
		}
		commits, lerr := s.svc.Log(ctx, limit)
		if err = lerr; err == nil {
			err = s.out.Emit(commits, func(w io.Writer) { printCommits(w, commits) })
		}
	default:
		err = fmt.Errorf("unknown command %q (try help)", args[0])
	}

	if err != nil {
		s.out.Error(ErrorCode(err), err.Error(), nil)
	}
	return false
}

var shellCommands = []string{
	"put <entity> [id] key=value...",
	"get <entity> <id>",
	"list <entity>",
	"count <entity>",
	"delete <entity> <id>",
	"delete <entity> --all",
	"flush",
	"nuke",
	"log [n]",
	"help",
	"quit",
}
