package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command invoked when bunbase is run without a
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "bunbase",
	Short: "A single-binary backend-in-a-box",
	Long: `BunBase is a single-binary backend-in-a-box: given a schema maintained
in its own database, it exposes a uniform REST surface with authentication,
row-level authorization, user-defined lifecycle hooks, file uploads and
real-time change notifications over Server-Sent Events.

Start the server (this also bootstraps the admin account):
  bunbase serve`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./bunbase.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

// initConfig sets the config file and env prefix on viper's global
// instance. config.Load builds its own viper instance, so these settings do
// not reach the configuration serve loads; serve passes --config to
// config.Load itself.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetEnvPrefix("BUNBASE")
	viper.AutomaticEnv()
}

// setupLogging configures the global zerolog logger based on verbosity.
func setupLogging() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}
