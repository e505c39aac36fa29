package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"groundwork-mcp-server/internal/config"
)

var (
	configPath   string
	ssePort      int
	noWorkspace  bool
	workspaceDir string
	logLevel     string
	consoleLogs  bool
)

func main() {
	// API keys usually live in .env; a missing file is fine.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "groundwork",
		Short: "MCP server that grounds natural-language steps on live web pages",
		Long: `groundwork maps the user's words to elements on the page in front of them,
refuses destructive actions, detects login and verification gates, and can
execute safe roadmaps autonomously with verification after every step.

It speaks MCP over stdio (default) or SSE (--sse-port).`,
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Explicit config file layered over the workspace config")
	serveCmd.Flags().IntVar(&ssePort, "sse-port", 0, "Serve over SSE on this port instead of stdio")
	serveCmd.Flags().BoolVar(&noWorkspace, "no-workspace", false, "Skip .groundwork workspace discovery")
	serveCmd.Flags().StringVar(&workspaceDir, "workspace-dir", "", "Use this directory as the workspace root")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Override server.log_level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&consoleLogs, "console-logs", false, "Also log to stderr (SSE mode only)")

	initCmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a .groundwork workspace with a template config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			if err := config.InitWorkspace(root); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s/%s\n", root, config.WorkspaceDirName)
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, initCmd)
	// Bare invocation serves, which is how MCP clients launch the binary.
	rootCmd.RunE = runServe
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
