package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "magnetar",
	Short: "Branch planner and request expander for build-service package graphs",
	Long: "Magnetar computes copy-on-write branch plans over project/package link\n" +
		"graphs and expands abstract change-request actions into concrete ones,\n" +
		"resolving devel, update-project and maintenance-incident indirection.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default .magnetar.yaml)")
	rootCmd.PersistentFlags().String("store", "", "path to the graph database")
	rootCmd.PersistentFlags().String("fixture", "", "TOML fixture loaded before the command runs")
	rootCmd.PersistentFlags().String("telemetry", "", "JSONL telemetry log path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("store_path", rootCmd.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("fixture_path", rootCmd.PersistentFlags().Lookup("fixture"))
	_ = viper.BindPFlag("telemetry_path", rootCmd.PersistentFlags().Lookup("telemetry"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".magnetar")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("MAGNETAR")
	viper.AutomaticEnv()

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}
