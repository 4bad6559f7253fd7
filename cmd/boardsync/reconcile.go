package main

import (
	"log/slog"

	"github.com/hyperengineering/boardsync/internal/config"
	"github.com/hyperengineering/boardsync/internal/engine"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one baseline-only pass and print the result",
	Long: "Fetch the board once and bring every row to its baseline value, " +
		"skipping rows the write-cache says are already current. " +
		"No trigger is applied.",
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Log, cmd.ErrOrStderr()))

	eng, cache, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer cache.Close()

	result, err := eng.Reconcile(ctx, engine.NewSession(), nil)
	if result != nil {
		if perr := printJSON(cmd.OutOrStdout(), result); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}
