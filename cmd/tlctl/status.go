package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turingloop/machine/internal/audit"
	"github.com/turingloop/machine/internal/registers"
)

func statusCmd() *cobra.Command {
	var tail bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a workspace's current registers, and optionally the tape tail",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ws, err := registers.Open(cfg.Workspace)
			if err != nil {
				return fmt.Errorf("open workspace: %w", err)
			}
			q, err := ws.ReadQ()
			if err != nil {
				return err
			}
			d, err := ws.ReadD()
			if err != nil {
				return err
			}
			fmt.Printf("q = %s\nd = %s\n", q, d)

			if tail {
				contents, err := ws.ReadTape()
				if err != nil {
					return err
				}
				fmt.Println("---- MAIN_TAPE.md (tail) ----")
				fmt.Println(tailLines(contents, 40))
			}

			printLatestLedgerRow(cfg.Workspace)
			return nil
		},
	}
	cmd.Flags().BoolVar(&tail, "tail", false, "also print the last lines of MAIN_TAPE.md")
	return cmd
}

// printLatestLedgerRow prints the most recent ledger row's trap/watchdog/
// breaker columns, if a ledger exists for this workspace. A workspace that
// has never run with a ledger attached, or whose last tick was ordinary,
// prints nothing beyond the bare registers above.
func printLatestLedgerRow(workspace string) {
	ledgerPath := filepath.Join(workspace, ".audit.db")
	if _, err := os.Stat(ledgerPath); err != nil {
		return
	}
	ledger, err := audit.Open(ledgerPath)
	if err != nil {
		return
	}
	defer ledger.Close()

	rec, err := ledger.Latest(workspace)
	if err != nil {
		return
	}
	if rec.Trapped {
		fmt.Printf("last tick trapped: %s\n", rec.TrapCode)
	}
	if rec.WatchdogTriggered {
		fmt.Printf("last tick triggered watchdog: %s\n", rec.WatchdogReason)
	}
	if rec.BreakerTripped {
		fmt.Println("last tick tripped the cycle breaker")
	}
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
