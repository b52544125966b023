package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/abramin/dynlink/internal/config"
	"github.com/abramin/dynlink/internal/logging"
	"github.com/abramin/dynlink/internal/typemodel"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	logLevel  string
	modelPath string
	cfg       *config.Config
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dynlink",
	Short: "dynlink - resolve and cache dynamically dispatched calls",
	Long: `dynlink links generated interface implementations to call sites whose
targets are chosen by a dispatch strategy: bound once at link time, resolved
on every call (optionally by the runtime types of the arguments), or resolved
on first call and frozen.

Types and methods come from a YAML model file; "dynlink index" can produce
one from a Go project.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger, err = logging.New(cfg.Log, os.Stderr)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./dynlink.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
}

// addModelFlag registers --model on commands that read a model file.
func addModelFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "model file (default from config)")
}

func loadUniverse() (*typemodel.Universe, error) {
	path := modelPath
	if path == "" {
		path = cfg.Model
	}
	u, err := typemodel.LoadModel(path)
	if err != nil {
		return nil, err
	}
	logger.Debug("model loaded", "path", path, "types", len(u.Types()))
	return u, nil
}

// lookupTypes resolves a comma separated list of type names. "null" yields
// a nil entry when allowNull is set.
func lookupTypes(u *typemodel.Universe, list string, allowNull bool) ([]*typemodel.Type, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	var out []*typemodel.Type
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if allowNull && name == "null" {
			out = append(out, nil)
			continue
		}
		t, ok := u.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown type %q", name)
		}
		out = append(out, t)
	}
	return out, nil
}

func lookupType(u *typemodel.Universe, name string) (*typemodel.Type, error) {
	if name == "" {
		return nil, nil
	}
	t, ok := u.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown type %q", name)
	}
	return t, nil
}

// sampleValue returns a value whose runtime type is t.
func sampleValue(u *typemodel.Universe, t *typemodel.Type) any {
	switch t {
	case u.MustLookup("String"):
		return ""
	case u.MustLookup("Int"):
		return 0
	case u.MustLookup("Float"):
		return 0.0
	case u.MustLookup("Bool"):
		return false
	}
	return typemodel.New(t, nil)
}
