package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/dockd/internal/config"
)

// version is set at build time with -ldflags "-X github.com/watzon/dockd/internal/cli.version=...".
var version = "0.1.0-dev"

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dockd",
	Short: "Docking station scheduling and execution engine",
	Long: `dockd decides what a gas-detector docking station should do next and runs it.

It keeps calibrations, bump tests, diagnostics and firmware upgrades on
schedule for every docked instrument, reports results, and recovers from
hardware faults without stopping.

Start the station with the simulated instrument bus:
  dockd run --simulate --instrument instrument.yaml

Preview the next action for an instrument:
  dockd next --instrument instrument.yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		cfg = loaded
		return setupLogging(&cfg.Logging)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./dockd.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(versionCmd)
}

// setupLogging configures zerolog from the logging section and the verbose flag.
func setupLogging(lc *config.LoggingConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
	if err != nil || lc.Level == "" {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if lc.Output != "" {
		f, err := os.OpenFile(lc.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log output: %w", err)
		}
		out = f
	}
	if lc.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: lc.Output != ""}
	}

	ctx := zerolog.New(out).With()
	if lc.Timestamp {
		ctx = ctx.Timestamp()
	}
	if lc.Caller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version())
	},
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("dockd version %s", version)
}

// errNoBus is returned by run when no instrument bus is available.
var errNoBus = errors.New("no instrument bus available: hardware drivers are not built into dockd, use --simulate")
