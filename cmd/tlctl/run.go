package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"github.com/turingloop/machine/internal/events"
)

func runCmd() *cobra.Command {
	var discipline string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tick loop to halt",
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

			q, d, err := rt.Run(context.Background())
			unsubscribe()
			<-done
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			fmt.Printf("halted: q=%s d=%s\n", q, d)
			return nil
		},
	}
	cmd.Flags().StringVar(&discipline, "discipline", "", "path to a discipline document, overriding PROMPT_FILE/config for this invocation")
	return cmd
}
