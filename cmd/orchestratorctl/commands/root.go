// Package commands implements orchestratorctl's cobra command tree: "serve"
// wires an Orchestrator in-process (see wire.go) and exposes it over HTTP;
// the other subcommands are HTTP clients of that server (--server).
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"orchestrator/pkg/config"
	"orchestrator/pkg/logx"
)

var (
	version string
	commit  string
	date    string
)

var (
	globalConfigPath string
	globalLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:     "orchestratorctl",
	Short:   "Operate the autonomous agent orchestration engine",
	Long:    `orchestratorctl submits tasks to the orchestration engine, inspects in-flight runs, and drives the pause/resume/emergency-stop control plane.`,
	Version: version,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		logx.SetGlobalLevel(logx.ParseLevel(globalLogLevel))
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. Errors are returned, not printed, so
// main can decide the exit code without cobra's own usage banner firing
// twice.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo stamps build metadata onto the root command, mirroring the
// ldflags-injected version variables main sets before Execute runs.
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalConfigPath, "config", "f", "", "path to a YAML config file overlaying defaults")
	rootCmd.PersistentFlags().StringVar(&globalLogLevel, "log-level", "info", "log level: debug, info, warn, error")
}

// loadConfig loads config.Config from the --config flag (or built-in
// defaults plus environment overlay if unset).
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(globalConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
