package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fenilsonani/poskernel/internal/kernellog"
	"github.com/fenilsonani/poskernel/internal/recovery"
	"github.com/fenilsonani/poskernel/internal/registry"
	"github.com/fenilsonani/poskernel/internal/terminal"
	"github.com/fenilsonani/poskernel/internal/txn"
)

func newRecoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover [terminal-id]",
		Short: "Replay a terminal's WAL and report recovered transaction state",
		Long:  "Acquires the terminal's lock, replays its WAL into a fresh handle registry, runs the post-replay timeout and transient-state sweep, prints a summary of every recovered transaction, then releases the lock.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			id := args[0]
			log := kernellog.New(cfg.LogLevel, nil)
			entry := kernellog.WithTerminal(log, id)

			h, err := terminal.Open(cfg.DataDir, id, entry)
			if err != nil {
				return fmt.Errorf("open terminal %s: %w", id, err)
			}
			defer h.Close()

			reg, err := recovery.Run(h.WAL, cfg.MaxConcurrentTransactions, cfg.TransactionTimeout, time.Now(), entry)
			if err != nil {
				return fmt.Errorf("recover terminal %s: %w", id, err)
			}

			printRecoverySummary(reg)
			return nil
		},
	}
	return cmd
}

func printRecoverySummary(reg *registry.Registry) {
	if reg.Len() == 0 {
		fmt.Println("(no transactions recovered)")
		return
	}
	reg.ForEach(func(handle int64, t *txn.Transaction) {
		marker := ""
		if t.RecoveredFromCrash {
			marker = " (resolved from transient state: " + t.AbortReason + ")"
		}
		fmt.Printf("handle=%d store=%s state=%s total=%d tendered=%d%s\n",
			handle, t.Store, t.State, t.Total(), t.Tendered, marker)
	})
}
