package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turingloop/machine/internal/registers"
)

func bootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Initialize a workspace's registers and tape if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogger(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ws, err := registers.Open(cfg.Workspace)
			if err != nil {
				return fmt.Errorf("open workspace: %w", err)
			}
			if err := ws.Boot(); err != nil {
				return fmt.Errorf("boot workspace: %w", err)
			}
			q, _ := ws.ReadQ()
			d, _ := ws.ReadD()
			fmt.Printf("booted %s\n  q = %s\n  d = %s\n", cfg.Workspace, q, d)
			return nil
		},
	}
}
