package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ptz-panel/internal/config"
	"ptz-panel/internal/logging"
)

var (
	cfgFile    string
	jsonOutput bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ptzpanel",
	Short: "Web control panel for Hikvision PTZ cameras",
	Long: `Serves a touch control page that drives PTZ cameras through an ISAPI
proxy: swipe or joystick rotation, zoom, and per-camera presets.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./ptzpanel.yaml or $HOME/.ptzpanel.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
}

// setup loads the configuration and builds the logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(viper.New(), cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
