package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/infra/tools"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/mcpserver"
)

func newToolsCmd() *cobra.Command {
	var (
		tenantID string
		list     bool
	)

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Serve the tool registry as an MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			// stdout carries the MCP stream
			log.SetOutput(os.Stderr)

			registry, err := tools.NewRegistry(cfg.Tools, log)
			if err != nil {
				return err
			}
			if list {
				out, err := mcpserver.DescribeTools(registry)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			}
			return mcpserver.NewToolServer(registry, tenantID, log).RunStdio(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "mcp", "Tenant the tool calls are rate limited as")
	cmd.Flags().BoolVar(&list, "list", false, "Print the tool catalog and exit")
	return cmd
}
