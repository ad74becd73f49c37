package app

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"laminate/internal/common/logging"
	"laminate/internal/config"
)

const version = "0.1.0"

// NewRootCommand builds the laminate command tree
func NewRootCommand() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "laminate",
		Short: "Render Lua-scripted text templates",
		Long: `Laminate renders text templates with embedded Lua code.

Templates mix literal text with <% code %> blocks and <%= expression %>
substitutions (or {{ }} with --dialect mustache). Each render runs in a
fresh sandboxed Lua state with a time limit.

Configuration is read from the environment and from a .env file in the
working directory. See "laminate serve --help" for the service settings.

Examples:
  laminate render page.lam --locals data.yaml
  laminate check templates/*.lam
  laminate compile page.lam
  laminate serve`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if logLevel != "" {
				os.Setenv("LOG_LEVEL", logLevel)
			}
			return logging.InitGlobalLogger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.MustSync()
		},
	}

	root.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")

	root.AddCommand(
		newRenderCommand(),
		newCheckCommand(),
		newCompileCommand(),
		newServeCommand(),
		newTokenCommand(),
	)
	return root
}

// Execute runs the CLI and reports a failure on stderr
func Execute() error {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}

// loadConfig loads and validates the environment configuration
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return nil, err
	}
	return cfg, nil
}
