package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fenilsonani/poskernel/internal/kernellog"
	"github.com/fenilsonani/poskernel/internal/terminal"
)

func newInitTerminalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-terminal [terminal-id]",
		Short: "Acquire a terminal's lock, open its WAL, then release it",
		Long:  "Initializes <data_root>/terminals/<id>/, creating the lock file and WAL if they do not already exist, registers the terminal as active, then releases the lock. Useful for provisioning a terminal directory ahead of first use.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			id := args[0]
			if v := cfg.TerminalID; v != "" && id == "" {
				id = v
			}
			log := kernellog.New(cfg.LogLevel, nil)

			h, err := terminal.Open(cfg.DataDir, id, kernellog.WithTerminal(log, id))
			if err != nil {
				return fmt.Errorf("initialize terminal %s: %w", id, err)
			}
			defer h.Close()

			fmt.Printf("Initialized terminal %q at %s\n", id, h.Dir)
			return nil
		},
	}
	return cmd
}

func newListActiveTerminalsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-active-terminals",
		Short: "List terminals the shared coordination registry believes are live",
		Long:  "Reads <data_root>/shared/coordination/active_terminals.json and filters it to terminals whose recorded process is still alive. This registry is advisory; it is never relied on for kernel correctness.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ids, err := terminal.ListActiveTerminals(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("list active terminals: %w", err)
			}
			if len(ids) == 0 {
				fmt.Println("(no active terminals)")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
	return cmd
}
