package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/macrorun/internal/gateway"
	"github.com/sawpanic/macrorun/internal/indicator"
)

// commonFlags extracts the knobs every one-shot subcommand shares.
func commonFlags(flags *pflag.FlagSet) (configPath string, asJSON bool, timeout time.Duration) {
	configPath, _ = flags.GetString("config")
	asJSON, _ = flags.GetBool("json")
	timeout, _ = flags.GetDuration("timeout")
	return configPath, asJSON, timeout
}

// appOptionsFromFlags collects the overrides newApp layers on the file
// config. Commands without an --offline flag simply get false back.
func appOptionsFromFlags(flags *pflag.FlagSet) appOptions {
	offline, _ := flags.GetBool("offline")
	logLevel, _ := flags.GetString("log-level")
	return appOptions{offline: offline, logLevel: logLevel}
}

func runFetch(cmd *cobra.Command, args []string) error {
	configPath, asJSON, timeout := commonFlags(cmd.Flags())
	refresh, _ := cmd.Flags().GetBool("refresh")
	pinned, _ := cmd.Flags().GetString("provider")

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

	opts := gateway.FetchOptions{ForceRefresh: refresh, Provider: pinned}
	results := a.gateway.FetchMany(ctx, args, opts)

	if asJSON {
		return printJSON(results)
	}

	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	failed := 0
	fmt.Printf("%-14s %16s %12s %6s %-13s %s\n", "ID", "CURRENT", "CHANGE", "CONF", "SOURCE", "PROVIDER")
	for _, id := range ids {
		r := results[id]
		if r.Err != nil {
			failed++
			fmt.Printf("%-14s error: %v\n", id, r.Err)
			continue
		}
		v := r.Value
		fmt.Printf("%-14s %16.4f %+12.4f %6.2f %-13s %s\n",
			id, v.Current, v.Change, v.Confidence, v.Source, v.Provider)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d fetches failed", failed, len(results))
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printValueDetail(v indicator.Value) {
	fmt.Printf("Symbol:      %s\n", v.Symbol)
	fmt.Printf("Current:     %.6f\n", v.Current)
	fmt.Printf("Previous:    %.6f\n", v.Previous)
	fmt.Printf("Change:      %+.6f (%+.2f%%)\n", v.Change, v.ChangePercent)
	fmt.Printf("Confidence:  %.2f\n", v.Confidence)
	fmt.Printf("Source:      %s\n", v.Source)
	if v.Provider != "" {
		fmt.Printf("Provider:    %s\n", v.Provider)
	}
	fmt.Printf("Timestamp:   %s\n", v.Timestamp.Format("2006-01-02 15:04:05 MST"))

	if len(v.Metadata) > 0 {
		keys := make([]string, 0, len(v.Metadata))
		for k := range v.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("Metadata:")
		for _, k := range keys {
			fmt.Printf("  %-18s %v\n", k+":", v.Metadata[k])
		}
	}
}
