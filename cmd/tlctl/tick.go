package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/turingloop/machine/internal/events"
)

func tickCmd() *cobra.Command {
	var n int
	var discipline string
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run exactly n ticks (default 1) and print the resulting registers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogger(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if discipline != "" {
				cfg.PromptFile = discipline
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			ch, unsubscribe := rt.Bus().Subscribe(16)
			defer unsubscribe()

			ctx := context.Background()
			for i := 0; i < n; i++ {
				q, d, halted, terr := rt.Tick(ctx)
				if terr != nil {
					return fmt.Errorf("tick %d: %w", i+1, terr)
				}
				drainRecoveryNotes(ch)
				fmt.Printf("tick %d: q=%s d=%s halted=%v\n", i+1, q, d, halted)
				if halted {
					break
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 1, "number of ticks to run")
	cmd.Flags().StringVar(&discipline, "discipline", "", "path to a discipline document, overriding PROMPT_FILE/config for this invocation")
	return cmd
}

// drainRecoveryNotes prints any recovery-overlay events already buffered on
// ch without blocking, so each tick's own recovery note (if any) surfaces
// before the tick's result line.
func drainRecoveryNotes(ch <-chan events.Event) {
	for {
		select {
		case ev := <-ch:
			if ev.Kind == events.KindRecovery {
				fmt.Printf("recovery: %s\n", ev.Note)
			}
		default:
			return
		}
	}
}
