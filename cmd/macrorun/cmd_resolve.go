package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sawpanic/macrorun/internal/calc"
)

func runResolve(cmd *cobra.Command, args []string) error {
	configPath, asJSON, timeout := commonFlags(cmd.Flags())
	refresh, _ := cmd.Flags().GetBool("refresh")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a, err := newApp(ctx, configPath, appOptionsFromFlags(cmd.Flags()))
	if err != nil {
		return err
	}
	defer a.stop(context.Background())

	if err := a.start(ctx); err != nil {
		return err
	}

	v, err := a.engine.Resolve(ctx, args[0], calc.ResolveOptions{ForceRefresh: refresh})
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(v)
	}
	printValueDetail(v)
	return nil
}
