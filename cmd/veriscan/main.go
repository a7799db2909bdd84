package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/veriscan/internal/config"
	"github.com/kirillkom/veriscan/internal/observability/logging"
)

var (
	cfg    config.Config
	logger *slog.Logger

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool
	flagOwner          string
	flagDetach         bool
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "YAML config file, same as VERISCAN_CONFIG")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initVeriscan

	submitCmd.Flags().StringVar(&flagOwner, "owner", "", "user id that owns the job (required)")
	submitCmd.Flags().BoolVar(&flagDetach, "detach", false, "print the job id after submission instead of watching it")
	_ = submitCmd.MarkFlagRequired("owner")

	rootCmd.AddCommand(validateCmd, submitCmd, watchCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("veriscan failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "veriscan",
	Short:        "Submit videos for authenticity analysis and follow the result",
	SilenceUsage: true,
}

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "check a file against the upload policy without sending anything",
	Args:  cobra.ExactArgs(1),
	RunE:  doValidate,
}

var submitCmd = &cobra.Command{
	Use:   "submit FILE",
	Short: "upload a video, trigger analysis and wait for the outcome",
	Args:  cobra.ExactArgs(1),
	RunE:  doSubmit,
}

var watchCmd = &cobra.Command{
	Use:   "watch JOB_ID",
	Short: "follow an already submitted job until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE:  doWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build information",
	// config is not needed to print a version
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("veriscan: version info not available")
			return
		}
		fmt.Printf("veriscan: %s\n", info.Main.Version)
		fmt.Printf("go:       %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:   %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:     %s\n", s.Value)
			}
		}
	},
}

func initVeriscan(cmd *cobra.Command, _ []string) error {
	// --config has a precedence over the environment
	if flagConfigFilePath != "" {
		if err := os.Setenv("VERISCAN_CONFIG", flagConfigFilePath); err != nil {
			return err
		}
	}
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if flagVerbose {
		level = "debug"
	}
	logger = logging.New(os.Stderr, "veriscan-cli", level, cfg.LogFormat)
	slog.SetDefault(logger)
	return nil
}
