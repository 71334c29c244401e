package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sawpanic/macrorun/internal/config"
	"github.com/sawpanic/macrorun/internal/indicator"
)

func runList(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	category, _ := cmd.Flags().GetString("category")
	kind, _ := cmd.Flags().GetString("kind")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	registry := indicator.NewRegistry()
	if err := indicator.RegisterCatalog(registry); err != nil {
		return err
	}
	if cfg.CatalogPath != "" {
		if err := indicator.RegisterFile(registry, cfg.CatalogPath); err != nil {
			return err
		}
	}

	var descriptors []indicator.Descriptor
	switch {
	case category != "":
		descriptors = registry.ListByCategory(indicator.Category(category))
	case kind != "":
		descriptors = registry.ListByKind(indicator.Kind(kind))
	default:
		descriptors = registry.List()
	}

	if asJSON {
		return printJSON(descriptors)
	}

	fmt.Printf("%-16s %-11s %-11s %-8s %s\n", "ID", "CATEGORY", "KIND", "UNIT", "DETAIL")
	for _, d := range descriptors {
		detail := ""
		if d.IsCalculated() {
			detail = fmt.Sprintf("%s(%s)", d.Transform, strings.Join(d.Dependencies, ", "))
		} else if d.PinProvider != "" {
			detail = "pinned to " + d.PinProvider
		}
		fmt.Printf("%-16s %-11s %-11s %-8s %s\n", d.ID, d.Category, d.Kind, d.Unit, detail)
	}
	fmt.Printf("\n%d indicators\n", len(descriptors))
	return nil
}
