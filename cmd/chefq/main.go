package main

import (
	"fmt"
	"os"

	"chefq/internal/chef"
	"chefq/internal/config"
	"chefq/internal/logging"
	"chefq/internal/table"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose   bool
	cfgPath   string
	firstBoot string
	strict    bool

	cfg = config.DefaultConfig()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chefq",
	Short: "chefq - query the Chef first-boot run list as a table",
	Long: `chefq reads the run_list of the Chef bootstrap file
(/etc/chef/first-boot.json) and exposes it as the chef_run_list table:
one row per role or recipe with its position in the run list.

Roles are listed first, then recipes. Each row keeps its original index.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().StringVarP(&firstBoot, "file", "f", "", "First-boot file (default from config)")
	rootCmd.PersistentFlags().BoolVar(&strict, "strict", false, "Drop malformed role[...] and recipe[...] items")

	rootCmd.AddCommand(
		queryCmd,
		tablesCmd,
		factsCmd,
		historyCmd,
		watchCmd,
		configCmd,
	)
}

// setup loads the config, applies flag overrides and builds the logger.
func setup(cmd *cobra.Command) error {
	loaded, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("file") {
		loaded.FirstBootPath = firstBoot
	}
	if flags.Changed("strict") {
		loaded.Strict = strict
	}
	if verbose {
		loaded.Logging.Level = "debug"
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	cfg = loaded

	if _, err := logging.Initialize(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return err
	}
	logging.Get(logging.CategoryBoot).Debug("config loaded",
		zap.String("config", cfgPath),
		zap.String("first_boot", cfg.FirstBootPath),
		zap.Bool("strict", cfg.Strict))
	return nil
}

// newSource returns a first-boot reader for the current config.
func newSource() *chef.Source {
	return chef.NewSource(cfg.FirstBootPath, cfg.Strict, logging.Get(logging.CategoryChef))
}

// newRegistry registers every table chefq serves.
func newRegistry(src *chef.Source) *table.Registry {
	reg := table.NewRegistry()
	if err := reg.Register(table.NewChefRunList(src)); err != nil {
		// Only reachable if a table name is registered twice.
		panic(err)
	}
	return reg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
