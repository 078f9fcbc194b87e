package main

import (
	"context"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/go-lynx/servicebase"
	"github.com/go-lynx/servicebase/boot"
	"github.com/go-lynx/servicebase/config"
)

var (
	debugMode bool
	liveMode  bool
	noBanner  bool
)

var cmdRun = &cobra.Command{
	Use:   "run",
	Short: "Boot the plugins of a deployment profile",
	Example: `  # Development mode with ./sec-config.yaml
  servicebase run

  # Production with a specific file and profile
  servicebase run --live --config=/etc/app/sec-config.yaml --profile=prod`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sb, err := newServiceBase(cmd)
		if err != nil {
			return err
		}
		var opts []boot.Option
		if noBanner {
			opts = append(opts, boot.WithoutBanner())
		}
		boot.Run(context.Background(), sb, opts...)
		return nil
	},
}

func init() {
	cmdRun.Flags().BoolVar(&debugMode, "debug", envBool("BSB_DEBUG"), "keep debug logging in live mode (env BSB_DEBUG)")
	cmdRun.Flags().BoolVar(&liveMode, "live", envBool("BSB_LIVE"), "run in production mode (env BSB_LIVE)")
	cmdRun.Flags().BoolVar(&noBanner, "no-banner", false, "skip the startup banner")
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func configOptions(cmd *cobra.Command) (config.Options, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	path, _ := cmd.Flags().GetString("config")
	profile, _ := cmd.Flags().GetString("profile")
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return config.Options{}, err
		}
		cwd = wd
	}
	return config.Options{Cwd: cwd, Path: path, Profile: profile}, nil
}

func newServiceBase(cmd *cobra.Command) (*servicebase.ServiceBase, error) {
	opts, err := configOptions(cmd)
	if err != nil {
		return nil, err
	}
	sb, err := servicebase.New(
		servicebase.WithMode(servicebase.ModeFromFlags(debugMode, liveMode)),
		servicebase.WithCwd(opts.Cwd),
	)
	if err != nil {
		return nil, err
	}
	if err := sb.SetConfigPlugin(config.Name, config.NewDefault(opts)); err != nil {
		return nil, err
	}
	return sb, nil
}
