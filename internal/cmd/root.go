// Package cmd wires the crewsync CLI: status and sessions reporting, a
// live dashboard, and the cleanup pass over stale coordination state.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crewsync/crewsync/internal/config"
	"github.com/crewsync/crewsync/internal/workspace"
)

var rootCmd = &cobra.Command{
	Use:   "crewsync",
	Short: "Filesystem-coordinated multi-agent session manager",
	Long: `Crewsync coordinates multiple independent worker agents operating on a
shared project tree: isolated git-worktree workspaces per agent, advisory
per-file locks, and an agent lifecycle tracked entirely through the
filesystem, with no daemon or network service.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/crewsync/config.yaml)")
	rootCmd.PersistentFlags().String("root", "", "project root (default is the enclosing git repository or the working directory)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("paths.project_root", rootCmd.PersistentFlags().Lookup("root"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/crewsync")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CREWSYNC")
	// Replace dots with underscores for nested keys in env vars
	// e.g., CREWSYNC_LOCK_STALE_TTL_MINUTES for lock.stale_ttl_minutes
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// projectRoot resolves the directory whose .crewsync tree is operated
// on: the configured override, else the enclosing git repository, else
// the working directory.
func projectRoot(cfg *config.Config) string {
	if cfg.Paths.ProjectRoot != "" {
		return cfg.Paths.ProjectRoot
	}
	if root := workspace.FindGitRoot("."); root != "" {
		return root
	}
	return "."
}
