package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/ffi-runtime/callback"
	"github.com/wippyai/ffi-runtime/config"
	"github.com/wippyai/ffi-runtime/runtime"
)

var rootCmd = &cobra.Command{
	Use:           "ffirun",
	Short:         "Call functions in native shared libraries",
	Long:          `ffirun opens shared libraries and calls their functions, marshalling arguments and results described with type documents.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(layoutCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(interactiveCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().StringP("output", "o", "pretty", "output format (pretty|json|yaml|msgpack)")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level")

	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// loadConfig reads --config, or the defaults when it is not set, and
// applies --log-level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if level, _ := cmd.Root().PersistentFlags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openRuntime builds a runtime and logger from the configuration.
func openRuntime(ctx context.Context, cmd *cobra.Command) (*runtime.Runtime, *config.Config, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := cfg.Logging.Logger()
	if err != nil {
		return nil, nil, nil, err
	}
	runtime.SetLogger(logger)
	callback.SetLogger(logger)
	rt, err := runtime.New(ctx, runtime.WithConfig(cfg), runtime.WithLogger(logger))
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	closeFn := func() {
		if err := rt.Close(ctx); err != nil {
			logger.Warn("runtime close", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return rt, cfg, closeFn, nil
}

func useColor(cmd *cobra.Command, f *os.File) bool {
	flag, _ := cmd.Root().PersistentFlags().GetString("color")
	return flag == "on" || (flag == "auto" && isTerminal(f))
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Root().PersistentFlags().GetString("output")
	switch format {
	case "pretty", "json", "yaml", "msgpack":
		return format, nil
	}
	return "", fmt.Errorf("unknown output format: %s", format)
}
