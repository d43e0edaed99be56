// Command scanner sweeps a frequency range with an SDR and fans the
// resulting spectrum out to storage, inference and transport sinks.
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/hb9tf/scanner/config"
)

var (
	cfg        = config.Default()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:          "scanner",
	Short:        "Sweep a frequency range with an SDR and export the spectrum.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd.Flags(), cfg, configFile)
	},
}

func init() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML configuration file; flags given on the command line take precedence.")
	bindFlags(rootCmd.PersistentFlags(), cfg)

	rootCmd.AddCommand(scanCmd, planCmd)
}

func main() {
	err := rootCmd.Execute()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
