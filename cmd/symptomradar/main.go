package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "symptomradar",
		Short:         "Track self-reported symptom mentions on social media",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(collectCmd())
	root.AddCommand(rankingsCmd())
	root.AddCommand(runsCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(taxonomyCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func collectCmd() *cobra.Command {
	var opts collectOptions

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection pass and print the ranking",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.symptoms, "symptom", nil, "only collect these symptoms")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "incremental or full (default: from config)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output the run result as JSON")
	cmd.Flags().StringVar(&opts.exportDir, "export", "", "write CSV exports into this directory")
	cmd.Flags().BoolVar(&opts.notify, "notify", false, "broadcast the ranking to configured notifiers")
	return cmd
}

func rankingsCmd() *cobra.Command {
	var (
		jsonOutput bool
		taxonomy   string
	)

	cmd := &cobra.Command{
		Use:   "rankings",
		Short: "Show the ranking of the latest stored run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRankings(cmd.Context(), taxonomy, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&taxonomy, "taxonomy", "", "taxonomy name (default: any)")
	return cmd
}

func runsCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd.Context(), limit, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to show")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		runID string
		dir   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write CSV exports for a stored run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), runID, dir)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run id (default: latest)")
	cmd.Flags().StringVar(&dir, "dir", ".", "output directory")
	return cmd
}

func taxonomyCmd() *cobra.Command {
	var queryMode string

	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Print the effective taxonomy and the search queries built from it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaxonomy(queryMode)
		},
	}

	cmd.Flags().StringVar(&queryMode, "query-mode", "", "strict or broad (default: from config)")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
