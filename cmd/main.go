/**
 * emubot drives a BlueStacks emulator from the command line.
 *
 * Requires BlueStacks and adb on the host. Image matching needs opencv4;
 * the tesseract OCR engine needs libtesseract.
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	cli "github.com/spf13/cobra"
	"go.uber.org/zap"

	"gitlab.com/web-doodle/emubot/pkg/config"
	"gitlab.com/web-doodle/emubot/pkg/logging"
)

var (
	// The Root Cli Handler
	rootCmd = &cli.Command{
		Use:               "emubot",
		Short:             "Automate apps running inside BlueStacks",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
	currentTs = time.Now().Unix()

	cfg    *config.Config
	logger *zap.Logger
)

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file.")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Verbose logs and dump every matched screenshot to the debug directory.")
}

func setup(cmd *cli.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")

	var err error
	cfg, err = config.Load(path)
	if err != nil {
		return err
	}
	if debug {
		cfg.Debug.Enabled = true
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	logger, err = logging.New(logCfg)
	return err
}

func main() {
	defer func() {
		if logger != nil {
			_ = logger.Sync()
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalln("ERROR:", err)
	}
}
