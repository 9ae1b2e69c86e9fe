package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/entitykit/internal/policy"
	"github.com/matthewbaird/entitykit/internal/render"
)

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate the catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			types, rules := len(e.reg.Types()), e.eval.Table().Len()
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"ok":             true,
					"types":          types,
					"rules":          rules,
					"default_policy": e.eval.Table().Default(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalogue ok: %d types, %d rules, default policy %s\n",
				types, rules, e.eval.Table().Default())
			return nil
		},
	}
}

func newRoutesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List navigation descriptors visible to the subject",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			nav := policy.VisibleNav(e.reg, opts.subject())
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), nav)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tENDPOINT\tDETAIL\tROLES")
			for _, n := range nav {
				roles := strings.Join(n.Roles, ",")
				if roles == "" {
					roles = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.Type, n.Endpoint, n.DetailRoute, roles)
			}
			return tw.Flush()
		},
	}
}

func newResolveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <path>",
		Short: "Identify the entity type serving a screen path or endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			m, ok := e.reg.ResolveByRoute(args[0])
			if !ok {
				return &userError{fmt.Errorf("no entity type serves %s", args[0])}
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"type": m.Nav.Type,
					"id":   m.ID,
					"rest": m.Rest,
				})
			}
			out := string(m.Nav.Type)
			if m.ID != "" {
				out += " " + m.ID
			}
			if len(m.Rest) > 0 {
				out += " /" + strings.Join(m.Rest, "/")
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newCanCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "can <verb> <instance.json|->",
		Short: "Decide whether the subject may perform a verb on an instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			verb, err := policy.ParseVerb(args[0])
			if err != nil {
				return &userError{err}
			}
			e, err := opts.load()
			if err != nil {
				return err
			}
			inst, err := readInstance(cmd, args[1])
			if err != nil {
				return err
			}
			if _, ok := e.reg.Lookup(inst.Type); !ok {
				return &userError{fmt.Errorf("unknown entity type %q", inst.Type)}
			}

			denyErr := e.eval.CanDo(verb, inst, opts.subject())
			var denial *policy.Denial
			if denyErr != nil && !errors.As(denyErr, &denial) {
				return denyErr
			}
			if opts.json {
				out := map[string]any{"allowed": denial == nil}
				if denial != nil {
					out["reason"] = denial.Reason
				}
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else if denial == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "allowed")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "denied: "+denial.Reason)
			}
			if denial != nil {
				return &userError{denial}
			}
			return nil
		},
	}
}

func newRenderCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "render <instance.json|->",
		Short: "Print the display items of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			inst, err := readInstance(cmd, args[0])
			if err != nil {
				return err
			}
			items, err := render.New(e.reg, e.eval).Render(inst, opts.subject())
			if err != nil && !errors.Is(err, policy.ErrDenied) {
				return &userError{err}
			}
			if opts.json {
				if werr := writeJSON(cmd.OutOrStdout(), items); werr != nil {
					return werr
				}
			} else {
				printItems(cmd, items, "")
			}
			if err != nil {
				return &userError{err}
			}
			return nil
		},
	}
}

func printItems(cmd *cobra.Command, items []render.Item, indent string) {
	w := cmd.OutOrStdout()
	for _, it := range items {
		switch {
		case it.Kind == render.ItemTitle:
			fmt.Fprintf(w, "%s# %s\n", indent, it.Value)
		case it.Kind == render.ItemList:
			fmt.Fprintf(w, "%s%s:\n", indent, it.Label)
			printItems(cmd, it.Children, indent+"  ")
		case it.Label == "":
			fmt.Fprintf(w, "%s%s\n", indent, it.Value)
		default:
			fmt.Fprintf(w, "%s%s: %s\n", indent, it.Label, it.Value)
		}
	}
}
