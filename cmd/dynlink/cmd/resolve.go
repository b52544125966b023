package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/abramin/dynlink/internal/dispatch"
	"github.com/abramin/dynlink/internal/typemodel"
	"github.com/spf13/cobra"
)

var (
	resolveReceiver string
	resolveMethod   string
	resolveArgs     string
	resolveParams   string
	resolveReturns  string
	resolveCaller   string
	resolveStatic   bool
	resolveDynamic  bool
	resolveExplain  bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve one call against a model",
	Long: `Resolve a method call against the types of a model file and report the
selected implementation.

Without --dynamic the argument types are matched exactly. With --dynamic the
runtime argument types are tried first, then every combination of their
supertypes, last argument varying fastest. Use "null" for a nil argument.

Example:
  dynlink resolve -m model.yaml --receiver Point --method distance --args Point3D --dynamic --explain`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := loadUniverse()
		if err != nil {
			return err
		}

		receiver, err := lookupType(u, resolveReceiver)
		if err != nil {
			return err
		}
		if receiver == nil {
			return errors.New("--receiver is required")
		}
		if resolveMethod == "" {
			return errors.New("--method is required")
		}
		caller, err := lookupType(u, resolveCaller)
		if err != nil {
			return err
		}
		argTypes, err := lookupTypes(u, resolveArgs, resolveDynamic)
		if err != nil {
			return err
		}
		params, err := lookupTypes(u, resolveParams, false)
		if err != nil {
			return err
		}
		ret, err := lookupType(u, resolveReturns)
		if err != nil {
			return err
		}
		if ret == nil {
			ret = u.Root()
		}

		req := dispatch.Request{
			Lookup:   dispatch.NewLookup(u, caller),
			Receiver: sampleValue(u, receiver),
			Name:     resolveMethod,
			Kind:     dispatch.InvokeVirtual,
			Mode:     dispatch.ModeNormal,
		}
		if resolveStatic {
			req.Kind = dispatch.InvokeStatic
		}
		switch {
		case resolveDynamic:
			req.Mode = dispatch.ModeDynamic
			req.ArgTypes = argTypes
			if params == nil {
				for range argTypes {
					params = append(params, u.Root())
				}
			}
		case params == nil:
			params = argTypes
		}
		if len(params) != len(argTypes) && len(argTypes) > 0 {
			return fmt.Errorf("%d parameter types for %d arguments", len(params), len(argTypes))
		}
		req.Type = typemodel.NewSignature(ret, params...)

		out := cmd.OutOrStdout()
		if resolveExplain && resolveDynamic {
			explain(out, argTypes, params)
		}

		resolver := dispatch.NewResolver(dispatch.WithLogger(logger))
		h, err := resolver.Resolve(req)
		stats := resolver.Stats()
		if err != nil {
			fmt.Fprintf(out, "no match after %d attempts\n", stats.Attempts)
			var de *dispatch.Error
			if errors.As(err, &de) {
				for _, s := range de.Suppressed {
					fmt.Fprintf(out, "  tried: %v\n", s)
				}
			}
			return err
		}
		fmt.Fprintf(out, "selected: %s\n", h.Method())
		fmt.Fprintf(out, "call type: %s\n", h.Type())
		fmt.Fprintf(out, "attempts: %d\n", stats.Attempts)
		return nil
	},
}

// explain prints the order in which signatures are tried.
func explain(w io.Writer, argTypes, params []*typemodel.Type) {
	slots := make([][]*typemodel.Type, len(argTypes))
	for i, t := range argTypes {
		if t == nil {
			t = params[i]
		}
		slots[i] = dispatch.Candidates(t)
	}
	n := 0
	for combo := range dispatch.Combinations(slots) {
		n++
		names := make([]string, len(combo))
		for i, t := range combo {
			names[i] = t.Name()
		}
		fmt.Fprintf(w, "%3d (%s)\n", n, strings.Join(names, ","))
	}
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	addModelFlag(resolveCmd)
	resolveCmd.Flags().StringVar(&resolveReceiver, "receiver", "", "runtime type of the receiver")
	resolveCmd.Flags().StringVar(&resolveMethod, "method", "", "method name")
	resolveCmd.Flags().StringVar(&resolveArgs, "args", "", "comma separated argument types")
	resolveCmd.Flags().StringVar(&resolveParams, "params", "", "nominal parameter types (default: exact args, or Object per arg with --dynamic)")
	resolveCmd.Flags().StringVar(&resolveReturns, "returns", "", "nominal return type (default Object)")
	resolveCmd.Flags().StringVar(&resolveCaller, "caller", "", "type the lookup runs on behalf of, for private access")
	resolveCmd.Flags().BoolVar(&resolveStatic, "static", false, "resolve a static method")
	resolveCmd.Flags().BoolVar(&resolveDynamic, "dynamic", false, "resolve by runtime argument types")
	resolveCmd.Flags().BoolVar(&resolveExplain, "explain", false, "print the candidate order (with --dynamic)")
}
