// Package cli implements entityctl, the command-line companion for checking
// a catalogue and asking the engine questions without running the server.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/entitykit/internal/policy"
	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/types"
)

// Exit codes.
const (
	ExitSuccess   = 0
	ExitUserError = 1
	ExitSysError  = 2
)

// options holds the global flag values shared by every subcommand.
type options struct {
	catalog   string
	subjectID string
	roles     []string
	json      bool
}

// NewRootCmd builds the entityctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "entityctl",
		Short:         "Inspect an entity catalogue and evaluate it offline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.catalog, "catalog", "", "catalogue file (default: embedded catalogue)")
	root.PersistentFlags().StringVar(&opts.subjectID, "subject-id", "", "acting subject id (empty means anonymous)")
	root.PersistentFlags().StringSliceVar(&opts.roles, "role", nil, "role held by the subject (repeatable)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "output as JSON")

	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newRoutesCmd(opts))
	root.AddCommand(newResolveCmd(opts))
	root.AddCommand(newCanCmd(opts))
	root.AddCommand(newRenderCmd(opts))
	return root
}

// ExitCode maps an error returned by the command tree to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case isUserError(err):
		return ExitUserError
	default:
		return ExitSysError
	}
}

// userError marks failures caused by the input rather than the environment.
type userError struct{ err error }

func (e *userError) Error() string { return e.err.Error() }
func (e *userError) Unwrap() error { return e.err }

func isUserError(err error) bool {
	var ue *userError
	return errors.As(err, &ue)
}

// engine is the loaded catalogue.
type engine struct {
	reg  *schema.Registry
	eval *policy.Evaluator
}

func (o *options) load() (*engine, error) {
	reg, err := schema.LoadFile(o.catalog)
	if err != nil {
		return nil, &userError{fmt.Errorf("loading schema: %w", err)}
	}
	if err := reg.Validate(); err != nil {
		return nil, &userError{err}
	}
	table, err := policy.LoadFile(o.catalog)
	if err != nil {
		return nil, &userError{fmt.Errorf("loading policies: %w", err)}
	}
	return &engine{reg: reg, eval: policy.NewEvaluator(table, policy.WithRegistry(reg))}, nil
}

func (o *options) subject() *policy.Subject {
	if o.subjectID == "" {
		return nil
	}
	return &policy.Subject{ID: o.subjectID, Roles: o.roles, Authenticated: true}
}

// readInstance reads a flat JSON instance from path, or stdin for "-".
func readInstance(cmd *cobra.Command, path string) (*types.Instance, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	inst := &types.Instance{}
	if err := json.Unmarshal(data, inst); err != nil {
		return nil, &userError{fmt.Errorf("parsing %s: %w", path, err)}
	}
	if inst.Type == "" {
		return nil, &userError{fmt.Errorf("%s: instance has no type", path)}
	}
	return inst, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
