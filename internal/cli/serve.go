package cli

import (
	"github.com/spf13/cobra"

	"github.com/arpa-simc/provami/internal/app"
	"github.com/arpa-simc/provami/internal/log"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [db-url]",
		Short: "Serve the explorer API over HTTP and gRPC",
		Example: `  # Browse a local SQLite database
  provami serve sqlite:observations.sqlite

  # Serve PostgreSQL on all interfaces with a fixed token
  provami serve --listen 0.0.0.0 --token s3cret postgresql://user@dbhost/dballe`,
		Args: cobra.MaximumNArgs(1),
		RunE: runServe,
	}
	addServeFlags(cmd.Flags())
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	provider, _, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	defer provider.Close()
	defer log.Sync()

	return app.New(provider, log.GetSugaredLogger()).Run(cmd.Context())
}
