package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"github.com/turingloop/machine/internal/events"
)

// resumeCmd appends a new user request to an existing workspace — rearming
// it if it had previously halted — and then runs the tick loop to halt
// again. A fresh workspace should use "run" directly instead; resume exists
// for the case where the operator is coming back to one that already
// finished a prior request.
func resumeCmd() *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Append a new request to a workspace and run it to halt",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return fmt.Errorf("resume requires --prompt")
			}
			if err := setupLogger(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			ch, unsub := rt.Bus().Subscribe(16)
			var once sync.Once
			unsubscribe := func() { once.Do(unsub) }
			defer unsubscribe()
			done := make(chan struct{})
			go func() {
				defer close(done)
				for ev := range ch {
					if ev.Kind == events.KindRecovery {
						fmt.Printf("recovery: %s\n", ev.Note)
					}
				}
			}()

			ctx := context.Background()
			if err := rt.AppendInput(ctx, prompt); err != nil {
				return fmt.Errorf("append input: %w", err)
			}
			q, d, err := rt.Run(ctx)
			unsubscribe()
			<-done
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			fmt.Printf("halted: q=%s d=%s\n", q, d)
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "new user request to append to MAIN_TAPE.md")
	return cmd
}
