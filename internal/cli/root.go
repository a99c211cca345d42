package cli

import (
	"fmt"
	"os"

	"github.com/miyabi-dev/miyabi/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "miyabi",
	Short: "Miyabi - autonomous dev coordinator for AI coding agents",
	Long: `Miyabi decomposes GitHub issues into a dependency DAG, dispatches each
task to the right coding agent in an isolated git worktree, and promotes
a task to a pull request once its artifacts clear review.

It runs either one task at a time (agent run), continuously in a
watch loop over a set of repositories (auto), or as a one-shot scan
for TODO/FIXME markers that should become tracked issues (todos).

Example:
  miyabi agent run codegen --issue 42
  miyabi auto --repo github.com/org/myapp`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// main.go maps errs.Error to a stable exit code and prints it itself.
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	// Set version for --version flag
	rootCmd.Version = version.Short()
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .miyabi.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")
	rootCmd.PersistentFlags().Bool("json", false, "emit machine-readable JSON output")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error getting working directory:", err)
			os.Exit(1)
		}

		viper.AddConfigPath(cwd)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".miyabi")
	}

	viper.SetEnvPrefix("MIYABI")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
