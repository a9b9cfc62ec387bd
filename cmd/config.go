package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "canvas-author"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage canvas-author configuration.

Running bare 'canvas-author config' is the same as 'canvas-author config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# canvas-author configuration
# See: canvas-author config show (for effective values and sources)

# State/data directory (default: ~/.config/canvas-author)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/canvas-author/canvas-author.db)
# db_path: {{ .DBPath }}

# Review policy file; missing file means built-in defaults
# policy_path: {{ .PolicyPath }}

# Local course content repository
# repo_path: {{ .RepoPath }}

workspace:
  # Branch that approved sessions merge into (default: main)
  base_branch: "{{ .BaseBranch }}"

merge:
  # Upper bound on the git merge during approve-and-merge (default: 2m)
  timeout: "{{ .MergeTimeout }}"

# Canvas LMS API, used for remote drift detection at merge time.
# Leave base_url empty to disable drift checks.
canvas:
  base_url: "{{ .CanvasBaseURL }}"
  token: ""
`

type configTemplateData struct {
	StateDir      string
	DBPath        string
	PolicyPath    string
	RepoPath      string
	BaseBranch    string
	MergeTimeout  string
	CanvasBaseURL string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:      viper.GetString("state_dir"),
		DBPath:        viper.GetString("db_path"),
		PolicyPath:    viper.GetString("policy_path"),
		RepoPath:      viper.GetString("repo_path"),
		BaseBranch:    viper.GetString("workspace.base_branch"),
		MergeTimeout:  viper.GetString("merge.timeout"),
		CanvasBaseURL: viper.GetString("canvas.base_url"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "CANVAS_AUTHOR_STATE_DIR"},
	{Key: "db_path", EnvVar: "CANVAS_AUTHOR_DB_PATH"},
	{Key: "policy_path", EnvVar: "CANVAS_AUTHOR_POLICY_PATH"},
	{Key: "repo_path", EnvVar: "CANVAS_AUTHOR_REPO_PATH"},
	{Key: "workspace.base_branch", EnvVar: "CANVAS_AUTHOR_WORKSPACE_BASE_BRANCH"},
	{Key: "merge.timeout", EnvVar: "CANVAS_AUTHOR_MERGE_TIMEOUT"},
	{Key: "canvas.base_url", EnvVar: "CANVAS_AUTHOR_CANVAS_BASE_URL"},
	{Key: "mcp.role", EnvVar: "CANVAS_AUTHOR_MCP_ROLE"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}
