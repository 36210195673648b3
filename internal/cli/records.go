package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/dal"
	"github.com/roach88/strata/internal/dataset"
	"github.com/roach88/strata/internal/value"
)

var errRecordNotFound = errors.New("record not found")

// RecordView is the output form of one record.
type RecordView struct {
	Entity string       `json:"entity"`
	ID     string       `json:"id"`
	Fields value.Object `json:"fields"`
}

func viewOf(rec dataset.Record) RecordView {
	fields := rec.Fields
	if fields == nil {
		fields = value.Object{}
	}
	return RecordView{Entity: rec.Entity, ID: rec.ID, Fields: fields}
}

// String renders the record as "Entity/id {fields}".
func (r RecordView) String() string {
	b, err := value.Canonical(r.Fields)
	if err != nil {
		return fmt.Sprintf("%s/%s %v", r.Entity, r.ID, r.Fields)
	}
	return fmt.Sprintf("%s/%s %s", r.Entity, r.ID, b)
}

// CountView is the output of count and delete.
type CountView struct {
	Entity string `json:"entity"`
	Count  int    `json:"count"`
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <entity> [id] key=value...",
		Short: "Create or replace a record",
		Long: `Write one record and wait until it is durable.

With an id the record is replaced; without one it is created under a
generated id. Values are parsed as null, true/false, integers or JSON
lists and objects; anything else is a string.

Examples:
  strata put User firstname=Ada age=36
  strata put User u1 firstname=Ada tags='["math"]'`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			entity, id, fields, err := parsePutArgs(args)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid arguments", err)
			}
			return rootOpts.withService(cmd, func(ctx context.Context, svc *dal.Service) error {
				rec, err := putRecord(ctx, svc, entity, id, fields)
				if err != nil {
					return out.Fail(ExitFailure, "write failed", err)
				}
				return out.Emit(rec, func(w io.Writer) { fmt.Fprintln(w, rec) })
			})
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <entity> <id>",
		Short:         "Print one record",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			return rootOpts.withService(cmd, func(ctx context.Context, svc *dal.Service) error {
				rec, err := getRecord(ctx, svc, args[0], args[1])
				if err != nil {
					return out.Fail(ExitFailure, fmt.Sprintf("get %s/%s", args[0], args[1]), err)
				}
				return out.Emit(rec, func(w io.Writer) { fmt.Fprintln(w, rec) })
			})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list <entity>",
		Short:         "Print every record of an entity",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			return rootOpts.withService(cmd, func(ctx context.Context, svc *dal.Service) error {
				recs, err := listRecords(ctx, svc, args[0])
				if err != nil {
					return out.Fail(ExitFailure, "read failed", err)
				}
				return out.Emit(recs, func(w io.Writer) { printRecords(w, args[0], recs) })
			})
		},
	}
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "count <entity>",
		Short:         "Print the number of records of an entity",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			return rootOpts.withService(cmd, func(ctx context.Context, svc *dal.Service) error {
				n, err := countRecords(ctx, svc, args[0])
				if err != nil {
					return out.Fail(ExitFailure, "read failed", err)
				}
				view := CountView{Entity: args[0], Count: n}
				return out.Emit(view, func(w io.Writer) { fmt.Fprintln(w, n) })
			})
		},
	}
}

// DeleteOptions holds flags for the delete command.
type DeleteOptions struct {
	*RootOptions
	All bool
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <entity> <id> | delete <entity> --all",
		Short: "Delete one record or every record of an entity",
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.All {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			id := ""
			if !opts.All {
				id = args[1]
			}
			return opts.withService(cmd, func(ctx context.Context, svc *dal.Service) error {
				n, err := deleteRecords(ctx, svc, args[0], id)
				if err != nil {
					return out.Fail(ExitFailure, "delete failed", err)
				}
				view := CountView{Entity: args[0], Count: n}
				return out.Emit(view, func(w io.Writer) { fmt.Fprintf(w, "deleted %d\n", n) })
			})
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "delete every record of the entity")
	return cmd
}

// parsePutArgs splits "entity [id] key=value..." into its parts.
func parsePutArgs(args []string) (entity, id string, fields value.Object, err error) {
	if len(args) == 0 || args[0] == "" {
		return "", "", nil, errors.New("entity is required")
	}
	entity = args[0]
	rest := args[1:]
	if len(rest) > 0 && !strings.Contains(rest[0], "=") {
		id = rest[0]
		rest = rest[1:]
	}
	fields, err = parseFields(rest)
	return entity, id, fields, err
}

// parseFields parses key=value pairs.
func parseFields(pairs []string) (value.Object, error) {
	fields := make(value.Object, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("field %q given twice", key)
		}
		v, err := parseValue(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		fields[key] = v
	}
	return fields, nil
}

// parseValue interprets a command-line value.
func parseValue(raw string) (value.Value, error) {
	switch raw {
	case "null":
		return value.Null{}, nil
	case "true":
		return value.Bool(true), nil
	case "false":
		return value.Bool(false), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return value.Int(n), nil
	}
	if strings.HasPrefix(raw, "[") || strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, `"`) {
		return value.Decode([]byte(raw))
	}
	return value.String(raw), nil
}

// putRecord replaces entity/id, or creates a record when id is empty,
// and waits for the write to become durable.
func putRecord(ctx context.Context, svc *dal.Service, entity, id string, fields value.Object) (RecordView, error) {
	var rec dataset.Record
	err := svc.Write(ctx, func(tx *dataset.Tx) error {
		if id != "" {
			rec = tx.Put(entity, id, fields)
			return nil
		}
		var err error
		rec, err = tx.Create(entity, fields)
		return err
	})
	if err != nil {
		return RecordView{}, err
	}
	return viewOf(rec), nil
}

func getRecord(ctx context.Context, svc *dal.Service, entity, id string) (RecordView, error) {
	var (
		rec   dataset.Record
		found bool
	)
	err := svc.TryRead(ctx, func(r dataset.Reader) {
		rec, found = r.Get(entity, id)
	})
	if err != nil {
		return RecordView{}, err
	}
	if !found {
		return RecordView{}, errRecordNotFound
	}
	return viewOf(rec), nil
}

func listRecords(ctx context.Context, svc *dal.Service, entity string) ([]RecordView, error) {
	var recs []dataset.Record
	err := svc.TryRead(ctx, func(r dataset.Reader) {
		recs = r.All(entity)
	})
	if err != nil {
		return nil, err
	}
	views := make([]RecordView, len(recs))
	for i, rec := range recs {
		views[i] = viewOf(rec)
	}
	return views, nil
}

func countRecords(ctx context.Context, svc *dal.Service, entity string) (int, error) {
	var n int
	err := svc.TryRead(ctx, func(r dataset.Reader) {
		n = r.Count(entity)
	})
	return n, err
}

// deleteRecords deletes entity/id, or every record of entity when id is
// empty, and returns how many records went away. Deleting a missing id
// is errRecordNotFound.
func deleteRecords(ctx context.Context, svc *dal.Service, entity, id string) (int, error) {
	var n int
	err := svc.Write(ctx, func(tx *dataset.Tx) error {
		if id == "" {
			n = tx.DeleteAll(entity)
			return nil
		}
		if tx.Delete(entity, id) {
			n = 1
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if id != "" && n == 0 {
		return 0, errRecordNotFound
	}
	return n, nil
}

func printRecords(w io.Writer, entity string, recs []RecordView) {
	if len(recs) == 0 {
		fmt.Fprintf(w, "No %s records.\n", entity)
		return
	}
	for _, rec := range recs {
		fmt.Fprintln(w, rec)
	}
}
