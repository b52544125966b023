package cmd

import (
	"github.com/abramin/dynlink/internal/server"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dump store over HTTP",
	Long: `Start a local HTTP server exposing the dump store:

  GET /api/stats             counts and last update
  GET /api/types[?kind=]     recorded types
  GET /api/types/NAME        one type with its methods
  GET /api/implementations   generated methods and their call sites
  GET /api/resolutions       resolution trace (?site=, ?outcome=, ?limit=)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		srv, err := server.New(server.Config{
			Port:     port,
			StoreDir: cfg.Dump.Dir,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		return srv.Start()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "port to listen on (default from config)")
}
