package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-lynx/servicebase"
	"github.com/go-lynx/servicebase/config"
	"github.com/go-lynx/servicebase/plugins"
)

var cmdPlugins = &cobra.Command{
	Use:   "plugins",
	Short: "List the plugins this binary can load",
	Run: func(cmd *cobra.Command, _ []string) {
		names := servicebase.DefaultRegistry().Names()
		for _, t := range plugins.Types {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", t, strings.Join(names[t], ", "))
		}
	},
}

var cmdCheck = &cobra.Command{
	Use:   "check",
	Short: "Load the config file and print the enabled plugins of the profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := configOptions(cmd)
		if err != nil {
			return err
		}
		d := config.NewDefault(opts)
		if err := d.Init(cmd.Context()); err != nil {
			return err
		}
		defer d.Dispose()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "file:    %s\nprofile: %s\n", d.Path(), d.Profile())
		groups := []struct {
			t   plugins.Type
			get func() (map[string]plugins.Definition, error)
		}{
			{plugins.TypeLogging, func() (map[string]plugins.Definition, error) { return d.GetLoggingPlugins(cmd.Context()) }},
			{plugins.TypeMetrics, func() (map[string]plugins.Definition, error) { return d.GetMetricsPlugins(cmd.Context()) }},
			{plugins.TypeEvents, func() (map[string]plugins.Definition, error) { return d.GetEventsPlugins(cmd.Context()) }},
			{plugins.TypeService, func() (map[string]plugins.Definition, error) { return d.GetServicePlugins(cmd.Context()) }},
		}
		for _, g := range groups {
			defs, err := g.get()
			if err != nil {
				return err
			}
			for _, name := range config.SortedNames(defs) {
				fmt.Fprintf(out, "%-8s %s (%s)\n", g.t, name, defs[name].PluginName())
			}
		}
		return nil
	},
}
