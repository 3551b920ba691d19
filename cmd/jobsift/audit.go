package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jobsift/jobsift/internal/audit"
	"github.com/jobsift/jobsift/internal/store"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Browse logged extraction invocations",
	Long:  "Interactive browser over the invocation ledger: every extraction call's prompt, response, timing, and status.",
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 200, "maximum invocations to load")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	records, err := db.ListInvocations(context.Background(), auditLimit)
	if err != nil {
		return fmt.Errorf("load invocations: %w", err)
	}

	return audit.Run(records)
}
