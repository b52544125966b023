package cmd

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/abramin/dynlink/internal/callsite"
	"github.com/abramin/dynlink/internal/dispatch"
	"github.com/abramin/dynlink/internal/generator"
	"github.com/abramin/dynlink/internal/registry"
	"github.com/abramin/dynlink/internal/store"
	"github.com/abramin/dynlink/internal/trace"
	"github.com/abramin/dynlink/internal/typemodel"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	implStrategy string
	implCaller   string
	implInvoke   string
	implReceiver string
	implArgs     string
)

var implementCmd = &cobra.Command{
	Use:   "implement IFACE[+IFACE...] ...",
	Short: "Generate implementations of model interfaces",
	Long: `Generate an implementation for each argument. Join interface names with
"+" to implement several in one class. Every generated method forwards to a
call site bootstrapped with the strategy the registry assigns it, or with
--strategy for all of them.

With --invoke, the named method is called once on every implementation that
has it, with a receiver of type --receiver and arguments of the --args types.

When dumps are enabled (dump.enabled or DYNLINK_SAVE_IMPLS=true) the
implementations and every resolution are recorded in the dump store.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := loadUniverse()
		if err != nil {
			return err
		}
		caller, err := lookupType(u, implCaller)
		if err != nil {
			return err
		}
		groups := make([][]*typemodel.Type, len(args))
		for i, arg := range args {
			groups[i], err = lookupTypes(u, strings.ReplaceAll(arg, "+", ","), false)
			if err != nil {
				return err
			}
		}

		reg, err := registry.New(cfg.Strategies)
		if err != nil {
			return err
		}
		var fixed callsite.Strategy
		if implStrategy != "" {
			if fixed, err = callsite.ParseStrategy(implStrategy); err != nil {
				return err
			}
		}

		resolverOpts := []dispatch.Option{dispatch.WithLogger(logger)}
		genOpts := []generator.Option{generator.WithLogger(logger)}
		if cfg.DumpEnabled() {
			st, err := store.Open(cfg.Dump.Dir)
			if err != nil {
				return fmt.Errorf("opening dump store: %w", err)
			}
			defer st.Close()
			rec := trace.NewRecorder(st, logger)
			if err := rec.RecordUniverse(u, store.OriginModel); err != nil {
				return err
			}
			resolverOpts = append(resolverOpts, dispatch.WithObserver(rec))
			genOpts = append(genOpts, generator.WithSink(rec))
			defer func() {
				if err := st.WriteSummaryJSON(); err != nil {
					logger.Warn("writing summary failed", "error", err)
				}
			}()
		}
		gen := generator.New(u, reg, dispatch.NewResolver(resolverOpts...), genOpts...)

		impls := make([]*generator.Impl, len(groups))
		var g errgroup.Group
		for i, ifaces := range groups {
			g.Go(func() error {
				var err error
				if implStrategy != "" {
					impls[i], err = gen.ImplementWith(fixed, caller, ifaces...)
				} else {
					impls[i], err = gen.Implement(caller, ifaces...)
				}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "IMPL\tMETHOD\tSTRATEGY\tSOURCE\tSITE")
		for _, impl := range impls {
			for _, m := range impl.Methods() {
				fmt.Fprintf(tw, "%s\t%s%s\t%s\t%s\t%s\n", impl.Name(), m.Descriptor.MethodName,
					m.Descriptor.Signature, m.Descriptor.Strategy, m.Descriptor.Source, m.Site.ID())
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if implInvoke == "" {
			return nil
		}
		return invokeAll(cmd, u, impls)
	},
}

func invokeAll(cmd *cobra.Command, u *typemodel.Universe, impls []*generator.Impl) error {
	receiver, err := lookupType(u, implReceiver)
	if err != nil {
		return err
	}
	if receiver == nil {
		return errors.New("--receiver is required with --invoke")
	}
	argTypes, err := lookupTypes(u, implArgs, true)
	if err != nil {
		return err
	}
	callArgs := []any{sampleValue(u, receiver)}
	for _, t := range argTypes {
		if t == nil {
			callArgs = append(callArgs, nil)
			continue
		}
		callArgs = append(callArgs, sampleValue(u, t))
	}

	out := cmd.OutOrStdout()
	var errs []error
	for _, impl := range impls {
		result, err := impl.Call(implInvoke, callArgs...)
		if err != nil {
			if dispatch.KindOf(err) == dispatch.KindNoSuchMethod && isMissingOverload(impl, implInvoke) {
				continue
			}
			fmt.Fprintf(out, "%s.%s: error: %v\n", impl.Name(), implInvoke, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "%s.%s = %v\n", impl.Name(), implInvoke, result)
	}
	return errors.Join(errs...)
}

func isMissingOverload(impl *generator.Impl, name string) bool {
	for _, m := range impl.Methods() {
		if m.Descriptor.MethodName == name {
			return false
		}
	}
	return true
}

func init() {
	rootCmd.AddCommand(implementCmd)
	addModelFlag(implementCmd)
	implementCmd.Flags().StringVar(&implStrategy, "strategy", "", "use this strategy for every method")
	implementCmd.Flags().StringVar(&implCaller, "caller", "", "type the call sites resolve on behalf of")
	implementCmd.Flags().StringVar(&implInvoke, "invoke", "", "method to call on each implementation")
	implementCmd.Flags().StringVar(&implReceiver, "receiver", "", "receiver type for --invoke")
	implementCmd.Flags().StringVar(&implArgs, "args", "", "comma separated argument types for --invoke")
}
