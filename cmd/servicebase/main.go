package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/go-lynx/servicebase/log"
)

// release is set at build time with -ldflags "-X main.release=...".
var release = "v0.1.0-dev"

var rootCmd = &cobra.Command{
	Use:     "servicebase",
	Short:   "Run and inspect plugin based services",
	Long:    `servicebase boots the plugins listed in a deployment profile and keeps them running until a signal arrives.`,
	Version: release,
}

func init() {
	rootCmd.AddCommand(cmdRun, cmdPlugins, cmdCheck)
	rootCmd.PersistentFlags().String("cwd", "", "working directory plugins resolve files against (default: current directory)")
	rootCmd.PersistentFlags().String("config", "", "config file (default: {cwd}/sec-config.yaml, or BSB_CONFIG_FILE)")
	rootCmd.PersistentFlags().String("profile", "", "deployment profile (default: default, or BSB_PROFILE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
