package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lucidbard/canvas-author/internal/canvas"
	"github.com/lucidbard/canvas-author/internal/output"
	"github.com/lucidbard/canvas-author/internal/policy"
	"github.com/lucidbard/canvas-author/internal/store"
	"github.com/lucidbard/canvas-author/internal/workflow"
	"github.com/lucidbard/canvas-author/internal/workspace"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	engine    *workflow.Engine

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "canvas-author",
	Short: "Multi-agent review workflow for Canvas course content",
	Long: `canvas-author coordinates review of Canvas course items across
multiple agents. Content changes happen in isolated git workspaces;
review passes accumulate per item until consensus is reached, and
approved sessions merge back to the base branch with a permanent
audit trail.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/canvas-author/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "canvas-author")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CANVAS_AUTHOR")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "canvas-author")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "canvas-author.db"))
	viper.SetDefault("policy_path", filepath.Join(defaultConfigDir, "policy.yaml"))
	viper.SetDefault("repo_path", ".")
	viper.SetDefault("workspace.base_branch", "main")
	viper.SetDefault("merge.timeout", "2m")
	viper.SetDefault("canvas.base_url", "")
	viper.SetDefault("canvas.token", "")
	viper.SetDefault("mcp.role", "")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// Store and engine are initialized lazily so config/version commands
	// run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getEngine returns the shared workflow engine, initializing it on
// first call.
func getEngine() (*workflow.Engine, error) {
	if engine != nil {
		return engine, nil
	}

	s, err := getStore()
	if err != nil {
		return nil, err
	}

	pol, err := policy.Load(viper.GetString("policy_path"))
	if err != nil {
		return nil, fmt.Errorf("load review policy: %w", err)
	}

	ws := workspace.NewGitClient(
		viper.GetString("repo_path"),
		viper.GetString("workspace.base_branch"),
	)

	opts := []workflow.Option{
		workflow.WithMergeTimeout(viper.GetDuration("merge.timeout")),
	}
	if baseURL := viper.GetString("canvas.base_url"); baseURL != "" {
		opts = append(opts, workflow.WithSyncChecker(
			canvas.NewClient(baseURL, viper.GetString("canvas.token"))))
	}

	engine = workflow.NewEngine(s, ws, pol, opts...)
	return engine, nil
}
