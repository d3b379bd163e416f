// -----------------------------------------------------------------------
// Last Modified: Tuesday, 14th October 2026 6:52:40 pm
// Modified By: AyanbekDos
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AyanbekDos/smeta-2/internal/app"
	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/ternarybob/arbor"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
	inputFile    = flag.String("file", "", "Process a local PDF once and exit instead of running the bot")
	outputDir    = flag.String("out", ".", "Output directory for reports in -file mode")
	pageNumber   = flag.Int("page", 0, "Specification page for -file mode (0 = locate automatically)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	common.InstallCrashHandler("./logs")
	defer common.RecoverWithCrashFile()

	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Smeta version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("smeta.toml"); err == nil {
			configFiles = append(configFiles, "smeta.toml")
		} else if _, err := os.Stat("deployments/local/smeta.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/smeta.toml")
		}
	}

	// 1. Load configuration (defaults -> file1 -> file2 -> ... -> env)
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration files")
		os.Exit(1)
	}
	if err := config.Validate(); err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	// 2. Initialize logger with final configuration
	logger := common.InitLogger(config)

	// 3. Print banner
	common.PrintBanner(config, logger)

	logger.Info().
		Strs("config_files", configFiles).
		Str("environment", config.Environment).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *inputFile != "" {
		if _, err := application.ProcessFile(ctx, *inputFile, *pageNumber, *outputDir); err != nil {
			logger.Error().Err(err).Str("file", *inputFile).Msg("Processing failed")
			application.Close()
			os.Exit(1)
		}
		return
	}

	logger.Info().Msg("Bot ready - Press Ctrl+C to stop")

	if err := application.RunBot(ctx); err != nil {
		logger.Error().Err(err).Msg("Bot failed")
		application.Close()
		os.Exit(1)
	}

	logger.Info().Msg("Shutdown complete")
}
