package main

import (
	"embed"
	"os"
	"strings"

	"github.com/go-go-golems/ctxrelay/cmd/ctxrelay/cmds"
	"github.com/go-go-golems/ctxrelay/pkg/config"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/help"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

var v *viper.Viper

var rootCmd = &cobra.Command{
	Use:           "ctxrelay",
	Short:         "ctxrelay carries request context across worker goroutines into tool calls",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// flags are parsed by now, so --log-level and co are known
		return initLogger()
	},
}

func initLogger() error {
	logLevel := v.GetString("log-level")
	verbose := v.GetBool("verbose")
	if verbose && logLevel != "trace" {
		logLevel = "debug"
	}

	return InitLogger(&logConfig{
		Level:      logLevel,
		LogFile:    v.GetString("log-file"),
		LogFormat:  v.GetString("log-format"),
		WithCaller: v.GetBool("with-caller"),
	})
}

func initCommands(rootCmd *cobra.Command, configPath string) error {
	var err error
	v, err = config.NewViper(configPath)
	if err != nil {
		return err
	}

	err = v.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		return errors.Wrap(err, "binding flags")
	}

	if err := initLogger(); err != nil {
		return err
	}
	log.Debug().
		Str("config", v.ConfigFileUsed()).
		Msg("Loaded configuration")

	load := func() (*config.Settings, error) {
		return config.Load(v)
	}
	toolsCmd, err := cmds.NewToolsCommand(load)
	if err != nil {
		return err
	}
	toolsCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(toolsCmd)
	if err != nil {
		return err
	}
	callCmd, err := cmds.NewCallCommand(load)
	if err != nil {
		return err
	}
	callCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(callCmd)
	if err != nil {
		return err
	}

	rootCmd.AddCommand(
		cmds.NewServeCommand(load),
		cmds.NewConfigCommand(load),
		toolsCobraCmd,
		callCobraCmd,
		cmds.NewVersionCommand(version),
	)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//go:embed doc/*
var docFS embed.FS

func init() {
	helpSystem := help.NewHelpSystem()
	if err := helpSystem.LoadSectionsFromFS(docFS, "."); err != nil {
		panic(err)
	}
	helpSystem.SetupCobraRootCommand(rootCmd)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not load .env")
	}

	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (json, text; default: text on a terminal)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ./ctxrelay.yaml or ~/.ctxrelay/ctxrelay.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" && len(os.Args) > idx+1 {
			configFile = os.Args[idx+1]
		} else if strings.HasPrefix(arg, "--config=") {
			configFile = strings.TrimPrefix(arg, "--config=")
		}
	}

	if err := initCommands(rootCmd, configFile); err != nil {
		panic(err)
	}
}
