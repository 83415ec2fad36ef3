// Package cli provides the provami command-line interface.
package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/arpa-simc/provami/internal/log"
	"github.com/arpa-simc/provami/pkg/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

var cfgFile string

// NewRootCmd creates the root command. Without a subcommand it serves the
// explorer, like "provami serve".
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "provami [db-url]",
		Short: "provami - browse and edit a meteorological observation database",
		Long: `provami serves a web and gRPC API to explore a station/observation
database: narrow the data with a filter, inspect and edit values and
attributes, and export the selection as BUFR, CREX or CSV.`,
		Version:       Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	rootCmd.SetVersionTemplate(versionString() + "\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("db", "", "Database URL (sqlite:PATH, :memory:, postgresql://...)")
	rootCmd.PersistentFlags().Bool("debug", false, "Turn on human-readable debugging output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log at debug level")
	rootCmd.PersistentFlags().String("log-file", "", "Also write JSON logs to this file, rotated by size")

	addServeFlags(rootCmd.Flags())

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewExportCommand())
	rootCmd.AddCommand(NewSummaryCommand())
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// loadConfig reads the layered configuration for cmd and sets up logging.
// A positional argument overrides the database URL.
func loadConfig(cmd *cobra.Command, args []string) (config.ConfigProvider, *config.ConfigData, error) {
	flags := cmd.Flags()
	if len(args) > 0 {
		if err := flags.Set("db", args[0]); err != nil {
			return nil, nil, err
		}
	}

	provider := config.NewKoanfProvider(cfgFile, flags)
	cfg, err := provider.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	if err := log.Init(cfg.Log.Debug, cfg.Log.Verbose, cfg.Log.File); err != nil {
		return nil, nil, err
	}
	log.Debugf("configuration loaded from %s", provider.Source())
	return provider, cfg, nil
}

func versionString() string {
	return fmt.Sprintf("provami %s (%s) %s/%s", Version, GitCommit, runtime.GOOS, runtime.GOARCH)
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}

func addServeFlags(fs *pflag.FlagSet) {
	fs.String("listen", "", "Address to listen on (default localhost)")
	fs.Int("port", 0, "Port to listen on (default 5000)")
	fs.String("token", "", "Access token (default: random)")
	fs.Bool("no-auth", false, "Disable token authentication")
	fs.Bool("grpc", true, "Serve the gRPC API on the same port")
	fs.Bool("metrics", true, "Expose prometheus metrics on /metrics")
	fs.String("tls-cert", "", "TLS certificate file")
	fs.String("tls-key", "", "TLS key file")
	fs.Int("data-limit", 0, "Maximum number of rows returned by get_data, negative for no limit (default 20)")
}
