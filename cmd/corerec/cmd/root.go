// Package cmd implements the corerec CLI: a thin manual-exercise
// wrapper over the recording/repair core described in SPEC_FULL.md.
// It owns configuration loading, logging setup, and signal-driven
// cancellation; every byte-moving decision lives in the internal/pkg
// packages this wraps.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/streamkeep/corerec/internal/config"
	"github.com/streamkeep/corerec/internal/observability"
	"github.com/streamkeep/corerec/internal/version"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd is the base command when corerec is called without any
// subcommands.
var rootCmd = &cobra.Command{
	Use:     "corerec",
	Short:   "Live-stream recording and repair core",
	Version: version.Short(),
	Long: `corerec is the media ingestion and repair pipeline for live-stream
recording: HLS download orchestration, FLV mux/demux repair, and the
container codecs both rely on.

This binary is a manual-exercise wrapper around that core. It does not
do platform detection, credential refresh, or database bookkeeping —
those are out-of-core collaborators. It records one already-resolved
stream URL at a time.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded

		// --log-level/--log-format override config.Load's file/env
		// result directly: they're read from the command's own flag
		// set rather than round-tripped through viper, since
		// config.Load owns a private *viper.Viper and never sees the
		// persistent flags bound on cobra's.
		if lvl, _ := cmd.Flags().GetString("log-level"); cmd.Flags().Changed("log-level") {
			cfg.Logging.Level = lvl
		}
		if format, _ := cmd.Flags().GetString("log-format"); cmd.Flags().Changed("log-format") {
			cfg.Logging.Format = format
		}

		slog.SetDefault(observability.NewLogger(cfg.Logging))
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, /etc/corerec, $HOME/.corerec)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format override (text, json)")
}
