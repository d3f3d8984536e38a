package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
}

// Output formats accepted by extract
var extractFormats = []string{"text", "json", "geojson", "svg", "png", "overlay"}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// NewRootCommand creates the root command for the meshalign CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "meshalign",
		Short:   "Find the similarity transforms hidden in noisy point correspondences",
		Long:    "meshalign extracts the dominant translation/rotation/scale clusters from sets of anchor points and their candidate target correspondences.",
		Version: Version,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "config.yaml", "path to configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newExtractCommand(opts))
	cmd.AddCommand(newInspectCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))

	return cmd
}

func newExtractCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExtractOptions{}

	cmd := &cobra.Command{
		Use:   "extract [feature-set.json]",
		Short: "Extract transform clusters from a feature set",
		Long: `Extract loads a feature set from a file or from --url, runs the
correlator and writes the clusters in the chosen format.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Path = args[0]
			}
			if (opts.Path == "") == (opts.URL == "") {
				return fmt.Errorf("exactly one of a file argument or --url is required")
			}
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, extractFormats)
			}
			opts.MaxClustersSet = cmd.Flags().Changed("max-clusters")
			opts.StopStrengthSet = cmd.Flags().Changed("stop-strength")

			app, err := newAppFromFlags(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.RunExtract(cmd.Context(), *opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "fetch the feature set from this URL")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (default: from the feature set)")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "text", fmt.Sprintf("output format %v", extractFormats))
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().IntVar(&opts.MaxClusters, "max-clusters", 0, "override correlator.maxClusters")
	cmd.Flags().Float64Var(&opts.StopStrength, "stop-strength", 0, "override correlator.stopStrength")
	cmd.Flags().BoolVar(&opts.Record, "record", false, "append the run to the history database")

	return cmd
}

func newInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var point string

	cmd := &cobra.Command{
		Use:          "inspect <feature-set.json>",
		Short:        "Show the pairwise mappings built from a feature set",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppFromFlags(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.RunInspect(args[0], point)
		},
	}

	cmd.Flags().StringVar(&point, "point", "", "only show this anchor point")
	return cmd
}

func newServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MQTT and HTTP service",
		Long: `Serve subscribes to every configured session topic, extracts each
incoming feature set and publishes the clusters. The HTTP API exposes the
latest report, GeoJSON and renders of every session.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.MQTT && !opts.HTTP {
				return fmt.Errorf("nothing to serve: enable --mqtt and/or --http")
			}
			config, err := loadConfig(rootOpts.ConfigFile, true)
			if err != nil {
				return err
			}
			app := NewApp(config, cmd.OutOrStdout())
			app.Verbose = rootOpts.Verbose
			defer app.Close()
			return app.RunServe(cmd.Context(), *opts)
		},
	}

	cmd.Flags().BoolVar(&opts.MQTT, "mqtt", true, "subscribe to session topics and publish clusters")
	cmd.Flags().BoolVar(&opts.HTTP, "http", true, "serve the HTTP API")
	cmd.Flags().IntVar(&opts.HTTPPort, "http-port", 8080, "HTTP server port")
	return cmd
}

func newHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:          "history [session]",
		Short:        "List past extraction runs",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Session = args[0]
			}
			app, err := newAppFromFlags(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.RunHistory(cmd.Context(), *opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of runs to list (0 = all)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show the full report of one run")
	cmd.Flags().IntVar(&opts.Keep, "prune", -1, "delete all but the newest N runs of the session")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print JSON instead of text")
	return cmd
}

// newAppFromFlags loads the config named by --config. The config file is
// optional unless --config was given explicitly.
func newAppFromFlags(rootOpts *RootOptions, cmd *cobra.Command) (*App, error) {
	config, err := loadConfig(rootOpts.ConfigFile, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}
	app := NewApp(config, cmd.OutOrStdout())
	app.Verbose = rootOpts.Verbose
	return app, nil
}

func isValidFormat(format string) bool {
	for _, f := range extractFormats {
		if f == format {
			return true
		}
	}
	return false
}
