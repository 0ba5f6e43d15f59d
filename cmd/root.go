package cmd

import (
	"github.com/spf13/cobra"

	"github.com/plantakeoff/autocount-go/cmd/serve"
	"github.com/plantakeoff/autocount-go/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "autocount",
		Short: "AutoCount similarity-detection server",
		Long: `AutoCount finds repeated symbols on construction plan pages from a single
marked example and drives a confirm/reject review down to takeoff measurements.`,
	}

	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")

	rootCmd.AddCommand(serve.Command(settings))

	return rootCmd
}
