package cmd

import (
	"fmt"
	"time"

	"github.com/abramin/dynlink/internal/index"
	"github.com/spf13/cobra"
)

var (
	indexOut     string
	indexFresh   bool
	indexNoStore bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path] [packages...]",
	Short: "Import the named types of a Go project",
	Long: `Load a Go project with go/packages and import its named types.

The index command:
- Maps interfaces to interface types and other named types to classes
- Records which loaded interfaces each type's pointer method set satisfies
- Maps method parameters and results into the type model
- Persists the types to the dump store
- Optionally writes them out as a model file (--out)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		var patterns []string
		if len(args) > 1 {
			patterns = args[1:]
		}

		logger.Info("indexing project", "path", path, "excluded_dirs", len(cfg.Exclude.Dirs))

		indexer := index.NewIndexer(cfg, path, logger)
		result, err := indexer.Run(index.Options{
			Patterns: patterns,
			ModelOut: indexOut,
			Fresh:    indexFresh,
			NoStore:  indexNoStore,
		})
		if err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Indexing complete!\n")
		fmt.Fprintf(out, "  Packages:   %d\n", result.PackageCount)
		fmt.Fprintf(out, "  Types:      %d\n", result.TypeCount)
		fmt.Fprintf(out, "  Interfaces: %d\n", result.InterfaceCount)
		fmt.Fprintf(out, "  Methods:    %d\n", result.MethodCount)
		fmt.Fprintf(out, "  Duration:   %s\n", result.Duration.Round(time.Millisecond))
		if result.DBPath != "" {
			fmt.Fprintf(out, "  Database:   %s\n", result.DBPath)
		}
		if result.ModelPath != "" {
			fmt.Fprintf(out, "  Model:      %s\n", result.ModelPath)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVarP(&indexOut, "out", "o", "", "write the imported types as a model file")
	indexCmd.Flags().BoolVar(&indexFresh, "fresh", false, "clear the dump store before recording")
	indexCmd.Flags().BoolVar(&indexNoStore, "no-store", false, "do not persist to the dump store")
}
