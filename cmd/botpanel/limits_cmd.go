package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/usecase"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/data"
)

func newLimitsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Inspect and reset token quotas",
	}
	cmd.AddCommand(newLimitsShowCmd())
	cmd.AddCommand(newLimitsResetCmd())
	return cmd
}

// openLedger opens the database and a ledger on top of it
func openLedger() (*usecase.UsageLedger, func() error, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	log.SetOutput(os.Stderr)
	repos, err := data.NewRepositories(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	ledger := usecase.NewUsageLedger(repos.Limit, repos.Usage, usecase.LedgerConfig{
		CountUnreportedTokens: cfg.Ledger.CountUnreportedTokens,
	}, log)
	return ledger, repos.Close, nil
}

func newLimitsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <tenant>",
		Short: "Print limits and month-to-date usage of a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, closeFn, err := openLedger()
			if err != nil {
				return err
			}
			defer closeFn()

			summary, err := ledger.Summary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func newLimitsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <tenant> <provider> <daily|weekly|monthly>",
		Short: "Zero one quota window",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			window, err := domain.ParseLimitWindow(args[2])
			if err != nil {
				return err
			}
			ledger, closeFn, err := openLedger()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := ledger.ManualReset(cmd.Context(), args[0], args[1], window); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s limit reset for %s\n", args[1], window, args[0])
			return nil
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
