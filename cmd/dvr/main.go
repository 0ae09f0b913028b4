package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vrcbz/dvr/internal/config"
	"github.com/vrcbz/dvr/internal/log"
)

var (
	cfg config.Config

	flagConfigPath string
	flagVerbose    bool
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", config.DefaultPath, "config file to load")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	rootCmd.PersistentPreRunE = initDVR

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("dvr failed", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "dvr",
	Short:        "Records live streams and ships them to object storage",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the recording orchestration service",
	RunE:  doServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "config related helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "init writes the default configuration to the config path",
	RunE:  doConfigInit,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides the version of dvr",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("dvr: version info not available")
			return
		}
		fmt.Printf("dvr: %s\n", info.Main.Version)
		fmt.Printf("go:  %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			}
		}
	},
}

func initDVR(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(flagConfigPath)
	if err != nil {
		return err
	}

	// --verbose has precedence over the config file
	if flagVerbose {
		cfg.Verbose = true
	}

	slog.SetDefault(log.New(os.Stderr, cfg.Verbose))
	slog.Debug("dvr starting", "config_path", flagConfigPath)
	return nil
}

func doConfigInit(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(flagConfigPath); err == nil {
		return fmt.Errorf("refusing to overwrite existing %s", flagConfigPath)
	}

	f, err := os.Create(flagConfigPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", flagConfigPath, err)
	}
	defer func() {
		_ = f.Close()
	}()

	enc := yaml.NewEncoder(f)
	if err := enc.Encode(config.Default()); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", flagConfigPath)
	return nil
}
