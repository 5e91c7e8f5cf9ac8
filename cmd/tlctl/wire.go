package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/turingloop/machine/internal/audit"
	"github.com/turingloop/machine/internal/config"
	"github.com/turingloop/machine/internal/logger"
	"github.com/turingloop/machine/internal/oracle"
	"github.com/turingloop/machine/internal/runtime"
)

// loadConfig layers defaults, the --config file, and the environment, then
// applies the --workspace flag as the final override — flags win over
// everything else.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if flagWorkspace != "" {
		cfg.Workspace = flagWorkspace
	}
	return cfg, nil
}

func setupLogger() error {
	return logger.Init(flagLogLevel, flagLogFile)
}

// buildOracle picks the network adapter when ANTHROPIC_API_KEY is set,
// otherwise falls back to a scripted oracle that only ever emits HALT — a
// workspace booted without an API key can still be inspected and resumed,
// it just cannot make progress on its own.
func buildOracle(cfg config.Config) oracle.Oracle {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		opts := []oracle.AnthropicOption{oracle.WithTimeout(cfg.OracleTimeout())}
		if cfg.OracleModel != "" {
			opts = append(opts, oracle.WithModel(cfg.OracleModel))
		}
		if cfg.HasOracleSeed {
			opts = append(opts, oracle.WithSeed(cfg.OracleSeed))
		}
		return oracle.NewAnthropicOracle(key, opts...)
	}
	return oracle.NewScriptedOracle(nil)
}

// buildRuntime wires config, oracle, discipline, and an audit ledger into a
// ready-to-run Runtime for the current workspace.
func buildRuntime(cfg config.Config) (*runtime.Runtime, error) {
	discipline, err := oracle.LoadDiscipline(cfg.PromptFile)
	if err != nil {
		return nil, fmt.Errorf("load discipline: %w", err)
	}
	orc := buildOracle(cfg)

	ledgerPath := filepath.Join(cfg.Workspace, ".audit.db")
	ledger, err := audit.Open(ledgerPath)
	if err != nil {
		slog.Warn("audit ledger unavailable, running without it", "path", ledgerPath, "error", err)
		ledger = nil
	}

	rt, err := runtime.New(cfg, orc, discipline, runtime.WithLedger(ledger))
	if err != nil {
		if ledger != nil {
			ledger.Close()
		}
		return nil, fmt.Errorf("build runtime: %w", err)
	}
	return rt, nil
}
