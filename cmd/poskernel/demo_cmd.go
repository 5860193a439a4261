package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fenilsonani/poskernel/internal/kernellog"
	"github.com/fenilsonani/poskernel/internal/recovery"
	"github.com/fenilsonani/poskernel/internal/terminal"
	"github.com/fenilsonani/poskernel/pkg/kernel"
)

func newDemoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo [terminal-id]",
		Short: "Run a scripted sale through the kernel and print the result",
		Long:  "Opens (or creates) the given terminal, recovers any existing WAL, begins a transaction, adds a burger with a cheese and bacon modifier, voids the burger (cascading to its modifiers), rings up a plain coffee, tenders cash, and prints the final totals.",
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

			k := kernel.New(h.WAL, reg, kernel.WithLogger(log))

			return runDemoScenario(k)
		},
	}
	return cmd
}

func runDemoScenario(k *kernel.Kernel) error {
	handle, err := k.BeginTransaction("STORE01", "USD", 2)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := k.AddLine(handle, "BURGER", 1, 800); err != nil {
		return fmt.Errorf("add burger: %w", err)
	}
	if err := k.AddLineWithParent(handle, "CHEESE", 1, 100, 1); err != nil {
		return fmt.Errorf("add cheese modifier: %w", err)
	}
	if err := k.AddLineWithParent(handle, "BACON", 1, 200, 1); err != nil {
		return fmt.Errorf("add bacon modifier: %w", err)
	}
	if err := k.VoidLine(handle, 1, "customer changed mind"); err != nil {
		return fmt.Errorf("void burger: %w", err)
	}
	if err := k.AddLine(handle, "COFFEE", 1, 350); err != nil {
		return fmt.Errorf("add coffee: %w", err)
	}
	if err := k.AddCashTender(handle, 500); err != nil {
		return fmt.Errorf("tender cash: %w", err)
	}

	totals, err := k.GetTotals(handle)
	if err != nil {
		return fmt.Errorf("get totals: %w", err)
	}
	count, err := k.GetLineCount(handle)
	if err != nil {
		return fmt.Errorf("get line count: %w", err)
	}

	fmt.Printf("state=%s total=%d tendered=%d change=%d lines=%d\n",
		totals.State, totals.Total, totals.Tendered, totals.Change, count)
	return k.CloseTransaction(handle)
}
